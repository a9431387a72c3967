package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rmarceau/torrdrive-backend/api/responses"
	"github.com/rmarceau/torrdrive-backend/api/validators"
	"github.com/rmarceau/torrdrive-backend/internal/vouchers"
	"github.com/rmarceau/torrdrive-backend/internal/wallet"
	"github.com/rmarceau/torrdrive-backend/pkg/enums"
	pkgerrors "github.com/rmarceau/torrdrive-backend/pkg/errors"
	"github.com/rmarceau/torrdrive-backend/pkg/logger"
)

type adjustWalletRequest struct {
	Amount string `json:"amount" validate:"required"`
	Reason string `json:"reason" validate:"required,min=3"`
}

// AdminAdjustWallet applies a signed balance correction with an audit reason.
func AdminAdjustWallet(svc *wallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rawUserID := strings.TrimSpace(chi.URLParam(r, "userId"))
		userID, err := uuid.Parse(rawUserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id"))
			return
		}

		var req adjustWalletRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		delta, err := decimal.NewFromString(req.Amount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "amount must be a decimal string"))
			return
		}

		if err := svc.Adjust(r.Context(), userID, delta, req.Reason); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		balance, err := svc.Balance(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"user_id": userID,
			"balance": balance,
		})
	}
}

type createVoucherRequest struct {
	Code           string     `json:"code" validate:"required,min=3,max=64"`
	Type           string     `json:"type" validate:"required,oneof=percentage fixed_amount"`
	Value          string     `json:"value" validate:"required"`
	MaxUsesTotal   int        `json:"max_uses_total" validate:"gt=0"`
	MaxUsesPerUser int        `json:"max_uses_per_user" validate:"gt=0"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

func AdminCreateVoucher(svc vouchers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createVoucherRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		voucherType, err := enums.ParseVoucherType(req.Type)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid voucher type"))
			return
		}
		value, err := decimal.NewFromString(req.Value)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "value must be a decimal string"))
			return
		}

		voucher, err := svc.Create(r.Context(), vouchers.CreateVoucherInput{
			Code:           req.Code,
			Type:           voucherType,
			Value:          value,
			MaxUsesTotal:   req.MaxUsesTotal,
			MaxUsesPerUser: req.MaxUsesPerUser,
			ExpiresAt:      req.ExpiresAt,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]any{
			"id":                voucher.ID,
			"code":              voucher.Code,
			"type":              voucher.Type.String(),
			"value":             voucher.Value,
			"max_uses_total":    voucher.MaxUsesTotal,
			"max_uses_per_user": voucher.MaxUsesPerUser,
			"expires_at":        voucher.ExpiresAt,
			"is_active":         voucher.IsActive,
		})
	}
}

func AdminDeactivateVoucher(svc vouchers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(chi.URLParam(r, "voucherId"))
		voucherID, err := uuid.Parse(raw)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid voucher id"))
			return
		}

		if err := svc.Deactivate(r.Context(), voucherID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"id": voucherID, "is_active": false})
	}
}
