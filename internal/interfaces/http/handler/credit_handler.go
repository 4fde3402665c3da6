package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	appbilling "github.com/meterly/backend/internal/application/billing"
	"github.com/meterly/backend/internal/domain/billing"
	"github.com/meterly/backend/internal/domain/shared"
	"github.com/meterly/backend/internal/interfaces/http/dto"
	"github.com/meterly/backend/internal/interfaces/http/middleware"
)

// CreditLedger is the credit ledger as used by the HTTP layer
type CreditLedger interface {
	AvailableCredits(ctx context.Context, accountID uuid.UUID, creditType string) (int64, error)
	Consume(ctx context.Context, cmd appbilling.ConsumeCommand) (*appbilling.ConsumeResult, error)
	ListPackages(ctx context.Context, accountID uuid.UUID, creditType string, filter shared.Filter) (*shared.Paginated[*billing.CreditPackage], error)
	ListUsage(ctx context.Context, accountID uuid.UUID, creditType string, filter shared.Filter) (*shared.Paginated[*billing.CreditUsageRecord], error)
}

// CreditHandler exposes the authenticated account's credit balances
type CreditHandler struct {
	BaseHandler
	ledger CreditLedger
}

// NewCreditHandler creates a new CreditHandler
func NewCreditHandler(ledger CreditLedger) *CreditHandler {
	return &CreditHandler{ledger: ledger}
}

// bindCreditType binds :type and the account, writing the error response on failure
func (h *CreditHandler) bindCreditType(c *gin.Context) (uuid.UUID, string, bool) {
	accountID, ok := h.accountID(c)
	if !ok {
		return uuid.Nil, "", false
	}
	var uri dto.CreditTypeURI
	if err := c.ShouldBindUri(&uri); err != nil {
		middleware.HandleValidationError(c, err)
		return uuid.Nil, "", false
	}
	return accountID, billing.NormalizeCreditType(uri.CreditType), true
}

// GetBalance godoc
//
//	@ID				getCreditBalance
//	@Summary		Get credit balance
//	@Description	Get the spendable balance of one credit type: active, unexpired packages only
//	@Tags			credits
//	@Produce		json
//	@Param			type	path		string	true	"Credit type"
//	@Success		200		{object}	dto.Response{data=dto.CreditBalanceResponse}
//	@Failure		400		{object}	dto.Response
//	@Failure		401		{object}	dto.Response
//	@Failure		403		{object}	middleware.AccessBlockedResponse
//	@Failure		500		{object}	dto.Response
//	@Security		BearerAuth
//	@Router			/api/v1/credits/{type} [get]
func (h *CreditHandler) GetBalance(c *gin.Context) {
	accountID, creditType, ok := h.bindCreditType(c)
	if !ok {
		return
	}
	available, err := h.ledger.AvailableCredits(c.Request.Context(), accountID, creditType)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.CreditBalanceResponse{CreditType: creditType, Available: available})
}

// Consume godoc
//
// Insufficient credits answer 402 and leave the balance untouched.
//
//	@ID				consumeCredits
//	@Summary		Consume credits
//	@Description	Take credits from the account's packages, soonest-expiring first, all or nothing
//	@Tags			credits
//	@Accept			json
//	@Produce		json
//	@Param			type	path		string	true	"Credit type"
//	@Param			request	body		dto.ConsumeCreditsRequest	true	"Amount and attribution"
//	@Success		200		{object}	dto.Response{data=dto.ConsumeCreditsResponse}
//	@Failure		400		{object}	dto.Response
//	@Failure		401		{object}	dto.Response
//	@Failure		402		{object}	dto.Response	"Insufficient credits"
//	@Failure		403		{object}	middleware.AccessBlockedResponse
//	@Failure		503		{object}	dto.Response	"Billing status unavailable"
//	@Security		BearerAuth
//	@Router			/api/v1/credits/{type}/consume [post]
func (h *CreditHandler) Consume(c *gin.Context) {
	accountID, creditType, ok := h.bindCreditType(c)
	if !ok {
		return
	}
	var req dto.ConsumeCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	var actorID string
	if claims := middleware.GetJWTClaims(c); claims != nil {
		actorID = claims.UserID
	}
	result, err := h.ledger.Consume(c.Request.Context(), appbilling.ConsumeCommand{
		AccountID:  accountID,
		CreditType: creditType,
		Amount:     req.Amount,
		Attribution: billing.Attribution{
			ResourceType: req.ResourceType,
			ResourceID:   req.ResourceID,
			ActorID:      actorID,
			Description:  req.Description,
		},
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewConsumeCreditsResponse(result))
}

// ListPackages godoc
//
//	@ID				listCreditPackages
//	@Summary		List credit packages
//	@Description	List the account's packages of one credit type, newest first, including expired ones
//	@Tags			credits
//	@Produce		json
//	@Param			type	path		string	true	"Credit type"
//	@Param			page		query		int		false	"Page number"	default(1)
//	@Param			page_size	query		int		false	"Page size"	default(20)	maximum(100)
//	@Success		200			{object}	dto.Response{data=[]dto.CreditPackageResponse,meta=dto.Meta}
//	@Failure		400			{object}	dto.Response
//	@Failure		401			{object}	dto.Response
//	@Failure		500			{object}	dto.Response
//	@Security		BearerAuth
//	@Router			/api/v1/credits/{type}/packages [get]
func (h *CreditHandler) ListPackages(c *gin.Context) {
	accountID, creditType, ok := h.bindCreditType(c)
	if !ok {
		return
	}
	var req dto.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	page, err := h.ledger.ListPackages(c.Request.Context(), accountID, creditType, req.ToFilter())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewPaginatedResponse(page, dto.NewCreditPackageResponse))
}

// ListUsage godoc
//
//	@ID				listCreditUsage
//	@Summary		List credit usage
//	@Description	List the account's consumption records of one credit type, newest first
//	@Tags			credits
//	@Produce		json
//	@Param			type	path		string	true	"Credit type"
//	@Param			page		query		int		false	"Page number"	default(1)
//	@Param			page_size	query		int		false	"Page size"	default(20)	maximum(100)
//	@Success		200			{object}	dto.Response{data=[]dto.CreditUsageResponse,meta=dto.Meta}
//	@Failure		400			{object}	dto.Response
//	@Failure		401			{object}	dto.Response
//	@Failure		500			{object}	dto.Response
//	@Security		BearerAuth
//	@Router			/api/v1/credits/{type}/usage [get]
func (h *CreditHandler) ListUsage(c *gin.Context) {
	accountID, creditType, ok := h.bindCreditType(c)
	if !ok {
		return
	}
	var req dto.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	page, err := h.ledger.ListUsage(c.Request.Context(), accountID, creditType, req.ToFilter())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewPaginatedResponse(page, dto.NewCreditUsageResponse))
}
