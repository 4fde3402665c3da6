package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	appbilling "github.com/meterly/backend/internal/application/billing"
	"github.com/meterly/backend/internal/domain/billing"
	"github.com/meterly/backend/internal/interfaces/http/dto"
	"go.uber.org/zap"
)

// AccountStatusKey holds the evaluated *appbilling.AccountStatus on the gin context
const AccountStatusKey = "account_status"

// StatusProvider evaluates an account's billing status
type StatusProvider interface {
	GetStatus(ctx context.Context, accountID uuid.UUID) (*appbilling.AccountStatus, error)
}

// AccessBlockedResponse is returned with 403 when billing state blocks a request
type AccessBlockedResponse struct {
	Success     bool          `json:"success"`
	Error       dto.ErrorInfo `json:"error"`
	AccessLevel string        `json:"access_level"`
}

// AccessControl enforces the account's access level.
// hard_block rejects every request; soft_block rejects writes and lets reads through.
// When the status cannot be evaluated, reads pass and writes get 503.
func AccessControl(provider StatusProvider, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		accountID, ok := GetAccountID(c)
		if !ok {
			c.Next()
			return
		}

		status, err := provider.GetStatus(c.Request.Context(), accountID)
		if err != nil {
			log.Error("Failed to evaluate account access",
				zap.String("account_id", accountID.String()),
				zap.String("method", c.Request.Method),
				zap.Error(err))
			if isRead(c.Request.Method) {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeAccessUnavailable,
				"Billing status is temporarily unavailable, please retry",
				c.GetString("request_id"),
			))
			return
		}
		c.Set(AccountStatusKey, status)

		if blocks(status.AccessLevel, c.Request.Method) {
			c.AbortWithStatusJSON(http.StatusForbidden, AccessBlockedResponse{
				Error: dto.ErrorInfo{
					Code:      dto.ErrCodeAccessBlocked,
					Message:   status.Message,
					RequestID: c.GetString("request_id"),
				},
				AccessLevel: string(status.AccessLevel),
			})
			return
		}
		c.Next()
	}
}

func blocks(level billing.AccessLevel, method string) bool {
	switch level {
	case billing.AccessLevelHardBlock:
		return true
	case billing.AccessLevelSoftBlock:
		return !isRead(method)
	}
	return false
}

func isRead(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}

// GetAccountStatus returns the status evaluated by AccessControl, if any
func GetAccountStatus(c *gin.Context) *appbilling.AccountStatus {
	if v, ok := c.Get(AccountStatusKey); ok {
		if status, ok := v.(*appbilling.AccountStatus); ok {
			return status
		}
	}
	return nil
}
