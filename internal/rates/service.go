package rates

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rmarceau/torrdrive-backend/pkg/config"
	"github.com/rmarceau/torrdrive-backend/pkg/errors"
	"github.com/rmarceau/torrdrive-backend/pkg/logger"
	"github.com/rmarceau/torrdrive-backend/pkg/redis"
)

// Provider supplies the current USD to virtual-currency exchange rate.
type Provider interface {
	FetchRate(ctx context.Context) (decimal.Decimal, error)
}

// StaticProvider always returns a pegged rate.
type StaticProvider struct {
	Rate decimal.Decimal
}

func (p StaticProvider) FetchRate(ctx context.Context) (decimal.Decimal, error) {
	if !p.Rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("pegged rate must be positive")
	}
	return p.Rate, nil
}

type rateCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	ExchangeRateKey() string
}

// Service resolves the exchange rate used to convert a USD price into the
// wallet currency. Rates are cached in Redis so every quote does not hit the
// provider, and a configured fallback keeps quoting alive when the provider
// is down.
type Service struct {
	provider Provider
	cache    rateCache
	fallback decimal.Decimal
	ttl      time.Duration
	logg     *logger.Logger
}

// FallbackRate parses the configured fallback exchange rate. The pegged
// provider in the mains uses it until a live provider is wired.
func FallbackRate(cfg config.QuotesConfig) (decimal.Decimal, error) {
	fallback, err := decimal.NewFromString(cfg.FallbackExchangeRate)
	if err != nil || !fallback.IsPositive() {
		return decimal.Zero, fmt.Errorf("rates: invalid fallback exchange rate %q", cfg.FallbackExchangeRate)
	}
	return fallback, nil
}

func NewService(provider Provider, cache rateCache, cfg config.QuotesConfig, logg *logger.Logger) (*Service, error) {
	if provider == nil {
		return nil, fmt.Errorf("rates: provider is required")
	}
	if cache == nil {
		return nil, fmt.Errorf("rates: cache is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("rates: logger is required")
	}
	fallback, err := FallbackRate(cfg)
	if err != nil {
		return nil, err
	}
	return &Service{
		provider: provider,
		cache:    cache,
		fallback: fallback,
		ttl:      cfg.RateCacheTTL,
		logg:     logg,
	}, nil
}

// Current returns the rate to lock into a quote. Resolution order is cache,
// then provider, then the configured fallback.
func (s *Service) Current(ctx context.Context) (decimal.Decimal, error) {
	key := s.cache.ExchangeRateKey()

	cached, err := s.cache.Get(ctx, key)
	if err == nil {
		rate, parseErr := decimal.NewFromString(cached)
		if parseErr == nil && rate.IsPositive() {
			return rate, nil
		}
		s.logg.Warn(s.logg.WithField(ctx, "value", cached), "discarding malformed cached exchange rate")
	} else if !redis.IsNil(err) {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "exchange rate cache read failed")
	}

	rate, err := s.provider.FetchRate(ctx)
	if err != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"error":    err.Error(),
			"fallback": s.fallback.String(),
		}), "exchange rate provider failed, using fallback")
		return s.fallback, nil
	}
	if !rate.IsPositive() {
		return decimal.Zero, errors.New(errors.CodeUpstream, "provider returned non-positive exchange rate")
	}

	if err := s.cache.Set(ctx, key, rate.String(), s.ttl); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "exchange rate cache write failed")
	}
	return rate, nil
}
