package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rmarceau/torrdrive-backend/api/middleware"
	"github.com/rmarceau/torrdrive-backend/api/responses"
	"github.com/rmarceau/torrdrive-backend/api/validators"
	"github.com/rmarceau/torrdrive-backend/internal/invoices"
	pkgerrors "github.com/rmarceau/torrdrive-backend/pkg/errors"
	"github.com/rmarceau/torrdrive-backend/pkg/logger"
)

type quoteFileRequest struct {
	Index     int64 `json:"index" validate:"min=0"`
	SizeBytes int64 `json:"size_bytes" validate:"gt=0"`
}

type createQuoteRequest struct {
	TorrentHash      string             `json:"torrent_hash" validate:"required"`
	Files            []quoteFileRequest `json:"files" validate:"required,min=1,dive"`
	Region           string             `json:"region" validate:"required"`
	HealthMultiplier *float64           `json:"health_multiplier,omitempty" validate:"omitempty,gt=0"`
	IsCacheHit       bool               `json:"is_cache_hit"`
	StorageProfileID string             `json:"storage_profile_id" validate:"required,uuid"`
	VoucherCode      *string            `json:"voucher_code,omitempty"`
}

// CreateQuote prices a file selection and opens a pending invoice.
func CreateQuote(svc *invoices.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.UserIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "caller identity missing"))
			return
		}

		var req createQuoteRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		storageProfileID, err := uuid.Parse(req.StorageProfileID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid storage profile id"))
			return
		}

		input := invoices.QuoteInput{
			UserID:           userID,
			TorrentHash:      strings.TrimSpace(req.TorrentHash),
			Region:           strings.TrimSpace(req.Region),
			IsCacheHit:       req.IsCacheHit,
			StorageProfileID: storageProfileID,
			VoucherCode:      req.VoucherCode,
		}
		if req.HealthMultiplier != nil {
			input.HealthMultiplier = decimal.NewFromFloat(*req.HealthMultiplier)
		}
		for _, f := range req.Files {
			input.Files = append(input.Files, invoices.FileSelection{Index: f.Index, SizeBytes: f.SizeBytes})
		}

		invoice, err := svc.CreateQuote(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newInvoiceResponse(invoice))
	}
}
