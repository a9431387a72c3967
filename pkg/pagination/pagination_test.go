package pagination

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		in       Params
		page     int
		pageSize int
	}{
		{name: "zero values", in: Params{}, page: 1, pageSize: DefaultPageSize},
		{name: "negative page", in: Params{Page: -4, PageSize: 10}, page: 1, pageSize: 10},
		{name: "oversized page size", in: Params{Page: 2, PageSize: 1000}, page: 2, pageSize: MaxPageSize},
		{name: "in range", in: Params{Page: 3, PageSize: 50}, page: 3, pageSize: 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Normalize()
			if got.Page != tt.page || got.PageSize != tt.pageSize {
				t.Fatalf("got page=%d size=%d, want page=%d size=%d", got.Page, got.PageSize, tt.page, tt.pageSize)
			}
		})
	}
}

func TestOffset(t *testing.T) {
	if off := (Params{Page: 1, PageSize: 20}).Offset(); off != 0 {
		t.Fatalf("expected offset 0, got %d", off)
	}
	if off := (Params{Page: 4, PageSize: 20}).Offset(); off != 60 {
		t.Fatalf("expected offset 60, got %d", off)
	}
}

func TestNewPageInfo(t *testing.T) {
	info := NewPageInfo(45, Params{Page: 2, PageSize: 20})
	if info.TotalPages != 3 {
		t.Fatalf("expected 3 total pages, got %d", info.TotalPages)
	}
	if !info.HasNextPage || !info.HasPreviousPage {
		t.Fatalf("expected middle page to have both neighbors: %+v", info)
	}

	first := NewPageInfo(45, Params{Page: 1, PageSize: 20})
	if first.HasPreviousPage {
		t.Fatalf("first page should not have a previous page")
	}

	last := NewPageInfo(45, Params{Page: 3, PageSize: 20})
	if last.HasNextPage {
		t.Fatalf("last page should not have a next page")
	}

	empty := NewPageInfo(0, Params{Page: 1, PageSize: 20})
	if empty.TotalPages != 0 || empty.HasNextPage || empty.HasPreviousPage {
		t.Fatalf("unexpected metadata for empty set: %+v", empty)
	}
}
