package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"contractsvc/internal/model"
	"contractsvc/internal/service/contract"
)

// TemplateService covers job milestone templates and proposal offers.
type TemplateService interface {
	ListJobMilestones(ctx context.Context, jobID int64) ([]model.JobMilestone, error)
	CreateJobMilestone(ctx context.Context, actor contract.Actor, jobID int64, in contract.JobMilestoneInput) (*model.JobMilestone, error)
	ListProposalMilestones(ctx context.Context, actor contract.Actor, proposalID int64) ([]model.ProposalMilestone, error)
	CreateProposalMilestone(ctx context.Context, actor contract.Actor, proposalID int64, in contract.ProposalMilestoneInput) (*model.ProposalMilestone, error)
}

type TemplateHandler struct {
	svc    TemplateService
	logger *zap.Logger
}

func NewTemplateHandler(svc TemplateService, logger *zap.Logger) *TemplateHandler {
	return &TemplateHandler{svc: svc, logger: logger}
}

// ListJobMilestones handles GET /api/jobs/:id/milestones
func (h *TemplateHandler) ListJobMilestones(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	ms, err := h.svc.ListJobMilestones(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"milestones": ms, "count": len(ms)})
}

// CreateJobMilestone handles POST /api/jobs/:id/milestones
func (h *TemplateHandler) CreateJobMilestone(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req struct {
		Title           string `json:"title" binding:"required"`
		Description     string `json:"description"`
		SuggestedAmount *int64 `json:"suggested_amount"`
		EstimatedDays   *int   `json:"estimated_days"`
		OrderIndex      int    `json:"order_index"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	m, err := h.svc.CreateJobMilestone(c.Request.Context(), actor, id, contract.JobMilestoneInput{
		Title:           req.Title,
		Description:     req.Description,
		SuggestedAmount: req.SuggestedAmount,
		EstimatedDays:   req.EstimatedDays,
		OrderIndex:      req.OrderIndex,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

// ListProposalMilestones handles GET /api/proposals/:id/milestones
func (h *TemplateHandler) ListProposalMilestones(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	ms, err := h.svc.ListProposalMilestones(c.Request.Context(), actor, id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"milestones": ms, "count": len(ms)})
}

// CreateProposalMilestone handles POST /api/proposals/:id/milestones
func (h *TemplateHandler) CreateProposalMilestone(c *gin.Context) {
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
		OrderIndex  int     `json:"order_index"`
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

	m, err := h.svc.CreateProposalMilestone(c.Request.Context(), actor, id, contract.ProposalMilestoneInput{
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
