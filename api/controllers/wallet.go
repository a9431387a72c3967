package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rmarceau/torrdrive-backend/api/middleware"
	"github.com/rmarceau/torrdrive-backend/api/responses"
	"github.com/rmarceau/torrdrive-backend/internal/wallet"
	pkgerrors "github.com/rmarceau/torrdrive-backend/pkg/errors"
	"github.com/rmarceau/torrdrive-backend/pkg/logger"
)

type walletEntryResponse struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
	Reason    *string         `json:"reason,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// WalletSummary returns the caller's balance with the full ledger.
func WalletSummary(svc *wallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.UserIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "caller identity missing"))
			return
		}

		balance, err := svc.Balance(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entries, err := svc.Entries(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ledger := make([]walletEntryResponse, 0, len(entries))
		for i := range entries {
			e := entries[i]
			ledger = append(ledger, walletEntryResponse{
				ID:        e.ID,
				Type:      e.Type.String(),
				Amount:    e.Amount,
				Reference: e.Reference,
				Reason:    e.Reason,
				CreatedAt: e.CreatedAt,
			})
		}
		responses.WriteSuccess(w, map[string]any{
			"balance": balance,
			"entries": ledger,
		})
	}
}
