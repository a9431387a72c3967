package rates

import (
	"context"
	"fmt"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/rmarceau/torrdrive-backend/pkg/config"
	"github.com/rmarceau/torrdrive-backend/pkg/logger"
)

type stubCache struct {
	values map[string]string
	getErr error
	sets   int
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	if s.getErr != nil {
		return "", s.getErr
	}
	value, ok := s.values[key]
	if !ok {
		return "", goredis.Nil
	}
	return value, nil
}

func (s *stubCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	s.sets++
	s.values[key] = fmt.Sprint(value)
	return nil
}

func (s *stubCache) ExchangeRateKey() string { return "td:rate:usd" }

type stubProvider struct {
	rate  decimal.Decimal
	err   error
	calls int
}

func (s *stubProvider) FetchRate(ctx context.Context) (decimal.Decimal, error) {
	s.calls++
	return s.rate, s.err
}

func testConfig() config.QuotesConfig {
	return config.QuotesConfig{
		TTL:                  30 * time.Minute,
		FallbackExchangeRate: "0.01",
		RateCacheTTL:         5 * time.Minute,
	}
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "rates-test", Level: zerolog.ErrorLevel})
}

func TestCurrentUsesCachedRate(t *testing.T) {
	cache := &stubCache{values: map[string]string{"td:rate:usd": "0.02"}}
	provider := &stubProvider{rate: decimal.NewFromFloat(0.03)}
	svc, err := NewService(provider, cache, testConfig(), testLogger())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	rate, err := svc.Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if !rate.Equal(decimal.NewFromFloat(0.02)) {
		t.Fatalf("expected cached 0.02, got %s", rate)
	}
	if provider.calls != 0 {
		t.Fatalf("provider should not be consulted on cache hit")
	}
}

func TestCurrentFetchesAndCachesOnMiss(t *testing.T) {
	cache := &stubCache{values: map[string]string{}}
	provider := &stubProvider{rate: decimal.NewFromFloat(0.015)}
	svc, err := NewService(provider, cache, testConfig(), testLogger())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	rate, err := svc.Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if !rate.Equal(decimal.NewFromFloat(0.015)) {
		t.Fatalf("expected provider rate, got %s", rate)
	}
	if cache.sets != 1 || cache.values["td:rate:usd"] != "0.015" {
		t.Fatalf("rate should be cached, got %+v", cache.values)
	}
}

func TestCurrentFallsBackWhenProviderFails(t *testing.T) {
	cache := &stubCache{values: map[string]string{}}
	provider := &stubProvider{err: fmt.Errorf("feed unavailable")}
	svc, err := NewService(provider, cache, testConfig(), testLogger())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	rate, err := svc.Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if !rate.Equal(decimal.NewFromFloat(0.01)) {
		t.Fatalf("expected fallback 0.01, got %s", rate)
	}
}

func TestCurrentSurvivesCacheOutage(t *testing.T) {
	cache := &stubCache{values: map[string]string{}, getErr: fmt.Errorf("connection refused")}
	provider := &stubProvider{rate: decimal.NewFromFloat(0.02)}
	svc, err := NewService(provider, cache, testConfig(), testLogger())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	rate, err := svc.Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if !rate.Equal(decimal.NewFromFloat(0.02)) {
		t.Fatalf("expected provider rate, got %s", rate)
	}
}

func TestNewServiceRejectsBadFallback(t *testing.T) {
	cfg := testConfig()
	cfg.FallbackExchangeRate = "zero point one"
	if _, err := NewService(&stubProvider{}, &stubCache{values: map[string]string{}}, cfg, testLogger()); err == nil {
		t.Fatalf("expected error for malformed fallback rate")
	}
}
