package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	appbilling "github.com/meterly/backend/internal/application/billing"
	"github.com/meterly/backend/internal/interfaces/http/dto"
	"github.com/meterly/backend/internal/interfaces/http/middleware"
)

// AccountStatusReader evaluates and updates an account's billing status
type AccountStatusReader interface {
	GetStatus(ctx context.Context, accountID uuid.UUID) (*appbilling.AccountStatus, error)
	RecordUsage(ctx context.Context, cmd appbilling.RecordUsageCommand) (*appbilling.AccountStatus, error)
}

// BillingHandler exposes the account's subscription state and limits
type BillingHandler struct {
	BaseHandler
	status AccountStatusReader
}

// NewBillingHandler creates a new BillingHandler
func NewBillingHandler(status AccountStatusReader) *BillingHandler {
	return &BillingHandler{status: status}
}

// GetStatus godoc
//
//	@ID				getBillingStatus
//	@Summary		Get account billing status
//	@Description	Evaluate the authenticated account's subscription, effective limits, usage and access level
//	@Tags			billing
//	@Produce		json
//	@Success		200	{object}	dto.Response{data=dto.BillingStatusResponse}
//	@Failure		401	{object}	dto.Response
//	@Failure		500	{object}	dto.Response
//	@Security		BearerAuth
//	@Router			/api/v1/billing/status [get]
func (h *BillingHandler) GetStatus(c *gin.Context) {
	accountID, ok := h.accountID(c)
	if !ok {
		return
	}
	status, err := h.status.GetStatus(c.Request.Context(), accountID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewBillingStatusResponse(status))
}

// RecordUsage godoc
//
// The owning product reports its live user and channel counts; the response is the
// re-evaluated status.
//
//	@ID				recordBillingUsage
//	@Summary		Report account usage
//	@Description	Store the account's current user and channel counts and re-evaluate its access level
//	@Tags			billing
//	@Accept			json
//	@Produce		json
//	@Param			request	body		dto.RecordUsageRequest	true	"Current usage counts"
//	@Success		200		{object}	dto.Response{data=dto.BillingStatusResponse}
//	@Failure		400		{object}	dto.Response
//	@Failure		401		{object}	dto.Response
//	@Failure		500		{object}	dto.Response
//	@Security		BearerAuth
//	@Router			/api/v1/billing/usage [put]
func (h *BillingHandler) RecordUsage(c *gin.Context) {
	accountID, ok := h.accountID(c)
	if !ok {
		return
	}
	var req dto.RecordUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	status, err := h.status.RecordUsage(c.Request.Context(), appbilling.RecordUsageCommand{
		AccountID: accountID,
		Users:     *req.Users,
		Channels:  *req.Channels,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewBillingStatusResponse(status))
}
