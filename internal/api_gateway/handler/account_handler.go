package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/reelforge-backend/internal/api_gateway/service"
	"github.com/reelforge-backend/internal/domain/account"
	"github.com/reelforge-backend/internal/domain/ledger"
)

// AccountHandler handles HTTP requests for accounts and their credits
type AccountHandler struct {
	accountService service.AccountService
	logger         *slog.Logger
}

// NewAccountHandler creates a new account handler
func NewAccountHandler(logger *slog.Logger, accountService service.AccountService) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
		logger:         logger,
	}
}

// Create opens an account with an optional opening balance
func (h *AccountHandler) Create(c *gin.Context) {
	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	acc, err := h.accountService.CreateAccount(c.Request.Context(), req.OwnerName, req.InitialBalance)
	if err != nil {
		if errors.Is(err, account.ErrEmptyOwnerName) || errors.Is(err, account.ErrInvalidAmount) {
			RespondBadRequest(c, err.Error())
			return
		}
		h.logger.Error("Failed to create account", "error", err)
		RespondInternalError(c)
		return
	}

	RespondCreated(c, mapAccountToResponse(acc))
}

// GetByID returns the account with its current balance, 404 if unknown
func (h *AccountHandler) GetByID(c *gin.Context) {
	id, ok := h.accountID(c)
	if !ok {
		return
	}

	acc, err := h.accountService.GetAccountByID(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "Failed to get account", id, err)
		return
	}

	RespondOK(c, mapAccountToResponse(acc))
}

// Ledger returns the account's ledger entries, newest first
func (h *AccountHandler) Ledger(c *gin.Context) {
	id, ok := h.accountID(c)
	if !ok {
		return
	}

	var pagination PaginationParams
	if err := c.ShouldBindQuery(&pagination); err != nil {
		h.logger.Error("Invalid pagination parameters", "error", err)
		RespondBadRequest(c, "Invalid pagination parameters")
		return
	}

	entries, total, err := h.accountService.GetLedger(c.Request.Context(), id, pagination.Page, pagination.PerPage)
	if err != nil {
		h.respondError(c, "Failed to get ledger", id, err)
		return
	}

	response := make([]LedgerEntryResponse, 0, len(entries))
	for _, entry := range entries {
		response = append(response, mapEntryToResponse(entry))
	}

	RespondWithPaginatedData(c, http.StatusOK, response, pagination.Page, pagination.PerPage, int(total))
}

// Recharge adds credits to the account
func (h *AccountHandler) Recharge(c *gin.Context) {
	id, ok := h.accountID(c)
	if !ok {
		return
	}

	var req RechargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	if req.Description == "" {
		req.Description = "recharge"
	}

	entry, err := h.accountService.Recharge(c.Request.Context(), id, req.Amount, req.Description)
	if err != nil {
		h.respondError(c, "Failed to recharge account", id, err)
		return
	}

	RespondOK(c, mapEntryToResponse(entry))
}

// Adjust applies a signed operator correction to the balance
func (h *AccountHandler) Adjust(c *gin.Context) {
	id, ok := h.accountID(c)
	if !ok {
		return
	}

	var req AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	entry, err := h.accountService.Adjust(c.Request.Context(), id, req.Amount, req.Description)
	if err != nil {
		h.respondError(c, "Failed to adjust account", id, err)
		return
	}

	RespondOK(c, mapEntryToResponse(entry))
}

func (h *AccountHandler) accountID(c *gin.Context) (uuid.UUID, bool) {
	idParam := c.Param("id")
	id, err := uuid.Parse(idParam)
	if err != nil {
		h.logger.Error("Invalid account ID", "id", idParam, "error", err)
		RespondBadRequest(c, "Invalid account ID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *AccountHandler) respondError(c *gin.Context, msg string, id uuid.UUID, err error) {
	switch {
	case errors.Is(err, account.ErrAccountNotFound{}):
		RespondNotFound(c, "Account not found")
	case errors.Is(err, account.ErrInsufficientFunds):
		RespondConflict(c, "Adjustment would make the balance negative")
	case errors.Is(err, account.ErrInvalidAmount):
		RespondBadRequest(c, err.Error())
	default:
		h.logger.Error(msg, "account_id", id.String(), "error", err)
		RespondInternalError(c)
	}
}

// mapAccountToResponse maps an account entity to an account response DTO
func mapAccountToResponse(acc *account.Account) AccountResponse {
	return AccountResponse{
		ID:        acc.ID.String(),
		OwnerName: acc.OwnerName,
		Balance:   acc.Balance,
		CreatedAt: acc.CreatedAt.Format(time.RFC3339),
		UpdatedAt: acc.UpdatedAt.Format(time.RFC3339),
	}
}

func mapEntryToResponse(entry *ledger.Entry) LedgerEntryResponse {
	response := LedgerEntryResponse{
		ID:           entry.ID.String(),
		Kind:         string(entry.Kind),
		Amount:       entry.Amount,
		BalanceAfter: entry.BalanceAfter,
		Description:  entry.Description,
		CreatedAt:    entry.CreatedAt.Format(time.RFC3339),
	}
	if entry.JobID != nil {
		response.JobID = entry.JobID.String()
	}
	return response
}
