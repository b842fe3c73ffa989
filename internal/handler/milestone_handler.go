package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"contractsvc/internal/model"
	"contractsvc/internal/service/contract"
)

// MilestoneService is the part of the engine the milestone endpoints use.
type MilestoneService interface {
	UpdateMilestoneStatus(ctx context.Context, actor contract.Actor, milestoneID int64, upd contract.MilestoneUpdate) (*model.ContractMilestone, error)
	AddMilestone(ctx context.Context, actor contract.Actor, contractID int64, in contract.AddMilestoneInput) (*model.ContractMilestone, error)
	ListContractMilestones(ctx context.Context, actor contract.Actor, contractID int64) ([]model.ContractMilestone, error)
}

type MilestoneHandler struct {
	svc    MilestoneService
	logger *zap.Logger
}

func NewMilestoneHandler(svc MilestoneService, logger *zap.Logger) *MilestoneHandler {
	return &MilestoneHandler{svc: svc, logger: logger}
}

// List handles GET /api/contracts/:id/milestones
func (h *MilestoneHandler) List(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	ms, err := h.svc.ListContractMilestones(c.Request.Context(), actor, id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"milestones": ms, "count": len(ms)})
}

// Add handles POST /api/contracts/:id/milestones
func (h *MilestoneHandler) Add(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req struct {
		Title       string  `json:"title" binding:"required"`
		Description string  `json:"description"`
		Amount      int64   `json:"amount" binding:"required"`
		DueDate     *string `json:"due_date"`
		OrderIndex  *int    `json:"order_index"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	due, err := parseDate(req.DueDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid due_date"})
		return
	}

	m, err := h.svc.AddMilestone(c.Request.Context(), actor, id, contract.AddMilestoneInput{
		Title:       req.Title,
		Description: req.Description,
		Amount:      req.Amount,
		DueDate:     due,
		OrderIndex:  req.OrderIndex,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

// UpdateStatus handles PUT /api/milestones/:id/status
func (h *MilestoneHandler) UpdateStatus(c *gin.Context) {
	var req struct {
		Status          string `json:"status" binding:"required"`
		RejectionReason string `json:"rejection_reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	// 未知状态交给引擎判定为 INVALID
	h.transition(c, contract.MilestoneUpdate{Status: model.MilestoneStatus(req.Status), RejectionReason: req.RejectionReason})
}

// Submit handles PUT /api/milestones/:id/submit
func (h *MilestoneHandler) Submit(c *gin.Context) {
	h.transition(c, contract.MilestoneUpdate{Status: model.MilestoneSubmitted})
}

// Accept handles PUT /api/milestones/:id/accept
func (h *MilestoneHandler) Accept(c *gin.Context) {
	h.transition(c, contract.MilestoneUpdate{Status: model.MilestoneAccepted})
}

// Start handles PUT /api/milestones/:id/start
func (h *MilestoneHandler) Start(c *gin.Context) {
	h.transition(c, contract.MilestoneUpdate{Status: model.MilestoneInProgress})
}

// Reject handles PUT /api/milestones/:id/reject with an optional reason body.
func (h *MilestoneHandler) Reject(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
	}
	h.transition(c, contract.MilestoneUpdate{Status: model.MilestoneRejected, RejectionReason: req.Reason})
}

func (h *MilestoneHandler) transition(c *gin.Context, upd contract.MilestoneUpdate) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	h.logger.Info("Milestone transition requested",
		zap.Int64("milestone_id", id),
		zap.Int64("user_id", actor.ID),
		zap.String("to", string(upd.Status)),
	)

	m, err := h.svc.UpdateMilestoneStatus(c.Request.Context(), actor, id, upd)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, m)
}
