package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"contractsvc/internal/model"
	"contractsvc/internal/service/contract"
)

// ContractService is the part of the engine the contract endpoints use.
type ContractService interface {
	CreateContract(ctx context.Context, in contract.CreateInput) (*contract.View, error)
	GetContract(ctx context.Context, actor contract.Actor, contractID int64) (*contract.View, error)
	GetUserContracts(ctx context.Context, userID int64) ([]*contract.View, error)
	UpdateContractStatus(ctx context.Context, actor contract.Actor, contractID int64, to model.ContractStatus) (*contract.View, error)
}

type ContractHandler struct {
	svc    ContractService
	logger *zap.Logger
}

func NewContractHandler(svc ContractService, logger *zap.Logger) *ContractHandler {
	return &ContractHandler{svc: svc, logger: logger}
}

type createContractRequest struct {
	JobID       int64           `json:"job_id" binding:"required"`
	ProposalID  int64           `json:"proposal_id" binding:"required"`
	TotalAmount *int64          `json:"total_amount"`
	StartDate   *string         `json:"start_date"`
	EndDate     *string         `json:"end_date"`
	Terms       json.RawMessage `json:"terms"`
}

// CreateContract handles POST /api/contracts
func (h *ContractHandler) CreateContract(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	var req createContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	start, err := parseDate(req.StartDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start_date"})
		return
	}
	end, err := parseDate(req.EndDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end_date"})
		return
	}

	h.logger.Info("Create contract request received",
		zap.Int64("user_id", actor.ID),
		zap.Int64("job_id", req.JobID),
		zap.Int64("proposal_id", req.ProposalID),
	)

	in := contract.CreateInput{
		JobID:       req.JobID,
		ProposalID:  req.ProposalID,
		TotalAmount: req.TotalAmount,
		StartDate:   start,
		EndDate:     end,
	}
	if len(req.Terms) > 0 && string(req.Terms) != "null" {
		in.Terms = req.Terms
	}

	view, err := h.svc.CreateContract(c.Request.Context(), in)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

// GetContract handles GET /api/contracts/:id
func (h *ContractHandler) GetContract(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	view, err := h.svc.GetContract(c.Request.Context(), actor, id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// MyContracts handles GET /api/contracts
func (h *ContractHandler) MyContracts(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	views, err := h.svc.GetUserContracts(c.Request.Context(), actor.ID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contracts": views, "count": len(views)})
}

// UpdateStatus handles PUT /api/contracts/:id/status
func (h *ContractHandler) UpdateStatus(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	to, valid := model.ParseContractStatus(req.Status)
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown contract status " + req.Status})
		return
	}

	h.logger.Info("Contract status change requested",
		zap.Int64("contract_id", id),
		zap.Int64("user_id", actor.ID),
		zap.String("to", string(to)),
	)

	view, err := h.svc.UpdateContractStatus(c.Request.Context(), actor, id, to)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}
