package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	dbutil "github.com/modo-studio/modo-dispatch/internal/db"
	"github.com/modo-studio/modo-dispatch/internal/ledger"
	"github.com/modo-studio/modo-dispatch/internal/models"
	"gorm.io/gorm"
)

// AccountHandler manages admin CRUD for credit accounts.
type AccountHandler struct {
	db      *gorm.DB           // Database handle for accounts.
	credits *ledger.GormLedger // Ledger for balance mutations.
}

// NewAccountHandler constructs an account handler.
func NewAccountHandler(db *gorm.DB, credits *ledger.GormLedger) *AccountHandler {
	return &AccountHandler{db: db, credits: credits}
}

// createAccountRequest captures the payload for creating a credit account.
type createAccountRequest struct {
	AccountKey       string `json:"account_key"`       // External account identifier.
	Tier             string `json:"tier"`              // Subscription tier.
	Balance          int64  `json:"balance"`           // Initial spendable credits.
	MonthlyAllowance int64  `json:"monthly_allowance"` // Credits granted per period.
}

// updateAccountRequest captures optional fields for updates.
type updateAccountRequest struct {
	Tier             *string `json:"tier"`              // Optional subscription tier.
	MonthlyAllowance *int64  `json:"monthly_allowance"` // Optional monthly allowance.
	RateLimit        *int    `json:"rate_limit"`        // Optional per-minute limit override.
	IsEnabled        *bool   `json:"is_enabled"`        // Optional enabled flag.
}

// topUpRequest captures the payload for crediting an account.
type topUpRequest struct {
	Amount      int64  `json:"amount"`       // Credits to add; must be positive.
	Reason      string `json:"reason"`       // Audit reason.
	ReferenceID string `json:"reference_id"` // Idempotency key.
}

// Create validates and inserts a credit account.
func (h *AccountHandler) Create(c *gin.Context) {
	var body createAccountRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	accountKey := strings.TrimSpace(body.AccountKey)
	if accountKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account_key is required"})
		return
	}
	tier, okTier := models.ParseTier(body.Tier)
	if !okTier {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tier"})
		return
	}
	if body.Balance < 0 || body.MonthlyAllowance < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "credit amounts must not be negative"})
		return
	}

	row := models.CreditAccount{
		AccountKey:       accountKey,
		Tier:             tier,
		Balance:          body.Balance,
		MonthlyAllowance: body.MonthlyAllowance,
		IsEnabled:        true,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&row).Error; errCreate != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "create account failed"})
		return
	}
	c.JSON(http.StatusCreated, formatAccount(&row))
}

// List returns credit accounts, optionally filtered by keyword.
func (h *AccountHandler) List(c *gin.Context) {
	q := h.db.WithContext(c.Request.Context()).Model(&models.CreditAccount{})
	if keyword := strings.TrimSpace(c.Query("keyword")); keyword != "" {
		pattern := dbutil.NormalizeLikePattern(h.db, "%"+keyword+"%")
		q = q.Where(dbutil.CaseInsensitiveLikeExpr(h.db, "account_key"), pattern)
	}

	var rows []models.CreditAccount
	if errFind := q.Order("account_key ASC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list accounts failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatAccount(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"accounts": out})
}

// Get returns an account with its recent ledger entries.
func (h *AccountHandler) Get(c *gin.Context) {
	id, errID := parseIDParam(c)
	if errID != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var row models.CreditAccount
	if errFind := h.db.WithContext(c.Request.Context()).First(&row, "id = ?", id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	var entries []models.CreditEntry
	if errEntries := h.db.WithContext(c.Request.Context()).
		Where("account_id = ?", id).
		Order("id DESC").
		Limit(50).
		Find(&entries).Error; errEntries != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	entryOut := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		entryOut = append(entryOut, gin.H{
			"id":           entry.ID,
			"amount":       entry.Amount,
			"reason":       entry.Reason,
			"reference_id": entry.Ref,
			"created_at":   entry.CreatedAt,
		})
	}

	out := formatAccount(&row)
	out["entries"] = entryOut
	c.JSON(http.StatusOK, out)
}

// Update applies validated updates to an account.
func (h *AccountHandler) Update(c *gin.Context) {
	id, errID := parseIDParam(c)
	if errID != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var row models.CreditAccount
	if errFind := h.db.WithContext(c.Request.Context()).First(&row, "id = ?", id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	var body updateAccountRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	if body.Tier != nil {
		tier, okTier := models.ParseTier(*body.Tier)
		if !okTier {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tier"})
			return
		}
		row.Tier = tier
	}
	if body.MonthlyAllowance != nil {
		if *body.MonthlyAllowance < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "monthly_allowance must not be negative"})
			return
		}
		row.MonthlyAllowance = *body.MonthlyAllowance
	}
	if body.RateLimit != nil {
		if *body.RateLimit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "rate_limit must not be negative"})
			return
		}
		row.RateLimit = *body.RateLimit
	}
	if body.IsEnabled != nil {
		row.IsEnabled = *body.IsEnabled
	}

	if errSave := h.db.WithContext(c.Request.Context()).Save(&row).Error; errSave != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update account failed"})
		return
	}
	c.JSON(http.StatusOK, formatAccount(&row))
}

// TopUp adds credits to an account through the ledger.
func (h *AccountHandler) TopUp(c *gin.Context) {
	id, errID := parseIDParam(c)
	if errID != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var body topUpRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.Amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be positive"})
		return
	}

	reason := strings.TrimSpace(body.Reason)
	if reason == "" {
		reason = "top-up"
	}
	referenceID := strings.TrimSpace(body.ReferenceID)
	if referenceID == "" {
		referenceID = fmt.Sprintf("topup:%d:%d", id, time.Now().UnixNano())
	}

	if errCredit := h.credits.Credit(c.Request.Context(), id, body.Amount, reason, referenceID); errCredit != nil {
		if errors.Is(errCredit, ledger.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "top up failed"})
		return
	}

	account, errAccount := h.credits.Account(c.Request.Context(), id)
	if errAccount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, formatAccount(&account))
}

// ResetUsage zeroes the account's monthly usage counter.
func (h *AccountHandler) ResetUsage(c *gin.Context) {
	id, errID := parseIDParam(c)
	if errID != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if errReset := h.credits.ResetMonthlyUsage(c.Request.Context(), id); errReset != nil {
		if errors.Is(errReset, ledger.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reset usage failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": true})
}

// formatAccount converts a credit account record into response JSON.
func formatAccount(row *models.CreditAccount) gin.H {
	return gin.H{
		"id":                row.ID,
		"account_key":       row.AccountKey,
		"tier":              row.Tier,
		"balance":           row.Balance,
		"monthly_allowance": row.MonthlyAllowance,
		"used_this_month":   row.UsedThisMonth,
		"rate_limit":        row.RateLimit,
		"is_enabled":        row.IsEnabled,
		"created_at":        row.CreatedAt,
		"updated_at":        row.UpdatedAt,
	}
}
