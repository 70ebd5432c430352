package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/modo-studio/modo-dispatch/internal/models"
	"gorm.io/gorm"
)

// ChainHandler manages admin CRUD for fallback chain entries.
type ChainHandler struct {
	db     *gorm.DB         // Database handle for chain entries.
	chains ChainInvalidator // Chain cache to invalidate on writes.
}

// NewChainHandler constructs a chain handler.
func NewChainHandler(db *gorm.DB, chains ChainInvalidator) *ChainHandler {
	return &ChainHandler{db: db, chains: chains}
}

// createChainEntryRequest captures the payload for creating a chain entry.
type createChainEntryRequest struct {
	Tier     string `json:"tier"`     // Tier scope ("all" for the shared block).
	Modality string `json:"modality"` // Generation kind.
	Priority int    `json:"priority"` // Ascending try order, 1 = primary.
	ModelID  uint64 `json:"model_id"` // Catalog model ID.
}

// reorderChainRequest captures a full priority rewrite for one chain block.
type reorderChainRequest struct {
	Tier     string   `json:"tier"`      // Tier scope.
	Modality string   `json:"modality"`  // Generation kind.
	EntryIDs []uint64 `json:"entry_ids"` // Entry IDs in the desired order.
}

// parseChainScope validates tier and modality query or body values.
func parseChainScope(tierRaw, modalityRaw string) (models.Tier, models.Modality, bool) {
	tier, okTier := models.ParseTier(tierRaw)
	if !okTier {
		if strings.EqualFold(strings.TrimSpace(tierRaw), string(models.TierAll)) {
			tier, okTier = models.TierAll, true
		}
	}
	modality, okModality := models.ParseModality(modalityRaw)
	return tier, modality, okTier && okModality
}

// Create validates and inserts a chain entry.
func (h *ChainHandler) Create(c *gin.Context) {
	var body createChainEntryRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	tier, modality, okScope := parseChainScope(body.Tier, body.Modality)
	if !okScope {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tier or modality"})
		return
	}
	if body.Priority <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "priority must be positive"})
		return
	}

	var modelRow models.Model
	if errFind := h.db.WithContext(c.Request.Context()).First(&modelRow, "id = ?", body.ModelID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "model not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if modelRow.Modality != modality {
		c.JSON(http.StatusBadRequest, gin.H{"error": "model modality does not match chain"})
		return
	}

	row := models.ChainEntry{
		Tier:     tier,
		Modality: modality,
		Priority: body.Priority,
		ModelID:  body.ModelID,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&row).Error; errCreate != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "create chain entry failed"})
		return
	}
	h.invalidate()
	row.Model = modelRow
	c.JSON(http.StatusCreated, formatChainEntry(&row))
}

// List returns chain entries for a tier and modality in priority order.
func (h *ChainHandler) List(c *gin.Context) {
	q := h.db.WithContext(c.Request.Context()).
		Model(&models.ChainEntry{}).
		Preload("Model").
		Preload("Model.Provider")

	if tierRaw := strings.TrimSpace(c.Query("tier")); tierRaw != "" {
		tier, _, okScope := parseChainScope(tierRaw, "text")
		if !okScope {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tier"})
			return
		}
		q = q.Where("tier = ?", tier)
	}
	if modalityRaw := strings.TrimSpace(c.Query("modality")); modalityRaw != "" {
		modality, okModality := models.ParseModality(modalityRaw)
		if !okModality {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid modality"})
			return
		}
		q = q.Where("modality = ?", modality)
	}

	var rows []models.ChainEntry
	if errFind := q.Order("tier ASC, modality ASC, priority ASC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list chain entries failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatChainEntry(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"entries": out})
}

// Reorder rewrites the priorities of one chain block in a single transaction.
func (h *ChainHandler) Reorder(c *gin.Context) {
	var body reorderChainRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	tier, modality, okScope := parseChainScope(body.Tier, body.Modality)
	if !okScope {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tier or modality"})
		return
	}
	if len(body.EntryIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "entry_ids is required"})
		return
	}

	errTx := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		var rows []models.ChainEntry
		if errFind := tx.Where("tier = ? AND modality = ?", tier, modality).Find(&rows).Error; errFind != nil {
			return errFind
		}
		if len(rows) != len(body.EntryIDs) {
			return errReorderMismatch
		}
		known := make(map[uint64]struct{}, len(rows))
		for _, row := range rows {
			known[row.ID] = struct{}{}
		}
		for _, id := range body.EntryIDs {
			if _, ok := known[id]; !ok {
				return errReorderMismatch
			}
		}

		// Two passes keep the unique (tier, modality, priority) index satisfied
		// while rows swap positions.
		for i, id := range body.EntryIDs {
			if errShift := tx.Model(&models.ChainEntry{}).
				Where("id = ?", id).
				Update("priority", -(i + 1)).Error; errShift != nil {
				return errShift
			}
		}
		for i, id := range body.EntryIDs {
			if errAssign := tx.Model(&models.ChainEntry{}).
				Where("id = ?", id).
				Update("priority", i+1).Error; errAssign != nil {
				return errAssign
			}
		}
		return nil
	})
	if errTx != nil {
		if errors.Is(errTx, errReorderMismatch) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "entry_ids must cover the chain exactly"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reorder failed"})
		return
	}
	h.invalidate()
	c.JSON(http.StatusOK, gin.H{"reordered": true})
}

var errReorderMismatch = errors.New("entry ids do not match chain")

// Delete removes a chain entry.
func (h *ChainHandler) Delete(c *gin.Context) {
	id, errID := parseIDParam(c)
	if errID != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	res := h.db.WithContext(c.Request.Context()).Delete(&models.ChainEntry{}, "id = ?", id)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete chain entry failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "chain entry not found"})
		return
	}
	h.invalidate()
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h *ChainHandler) invalidate() {
	if h.chains != nil {
		h.chains.Invalidate()
	}
}

// formatChainEntry converts a chain entry record into response JSON.
func formatChainEntry(row *models.ChainEntry) gin.H {
	return gin.H{
		"id":       row.ID,
		"tier":     row.Tier,
		"modality": row.Modality,
		"priority": row.Priority,
		"model_id": row.ModelID,
		"model":    row.Model.ModelID,
		"provider": row.Model.Provider.Slug,
	}
}
