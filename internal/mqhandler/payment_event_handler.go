package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"go.uber.org/zap"

	mqcontracts "contractsvc/contracts/mq"
	"contractsvc/internal/model"
	"contractsvc/internal/service/contract"
	"contractsvc/pkg/logger"
	"contractsvc/pkg/mq"
	"contractsvc/pkg/trace"
	"contractsvc/pkg/util"
)

const (
	handlerName = "payment_milestone"
	maxRetries  = 5 // 最大重试次数
)

// StatusApplier records a milestone status decided outside the contract service.
type StatusApplier interface {
	ApplyExternalMilestoneStatus(ctx context.Context, milestoneID int64, to model.MilestoneStatus, source string) (*model.ContractMilestone, error)
}

type Deduper interface {
	AcquireOnce(ctx context.Context, handler string, messageID string) bool
	Release(ctx context.Context, handler string, messageID string)
}

type RetryCounter interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

type DeadLetterPublisher interface {
	PublishToDLQ(routingKey string, payload []byte, originalError string) error
}

// routingStatus maps the payment system's routing keys to milestone states.
// dispute_resolved carries the outcome in the payload.
var routingStatus = map[string]model.MilestoneStatus{
	mqcontracts.RoutingPaymentFundingRequired:   model.MilestoneFundingRequired,
	mqcontracts.RoutingPaymentMilestoneFunded:   model.MilestoneFunded,
	mqcontracts.RoutingPaymentMilestonePaid:     model.MilestonePaid,
	mqcontracts.RoutingPaymentMilestoneDisputed: model.MilestoneDisputed,
}

type PaymentEventHandler struct {
	applier      StatusApplier
	deduper      Deduper
	retryCounter RetryCounter
	dlq          DeadLetterPublisher
	logger       *zap.Logger
}

func NewPaymentEventHandler(
	applier StatusApplier,
	deduper Deduper,
	retryCounter RetryCounter,
	dlq DeadLetterPublisher,
	logger *zap.Logger,
) *PaymentEventHandler {
	return &PaymentEventHandler{
		applier:      applier,
		deduper:      deduper,
		retryCounter: retryCounter,
		dlq:          dlq,
		logger:       logger,
	}
}

// Handle applies one payment.milestone.* event. A nil return acks the
// delivery; an error nacks it for redelivery. Poison messages are moved to
// the DLQ and acked.
func (h *PaymentEventHandler) Handle(ctx context.Context, msg mq.Message) error {
	var p mqcontracts.PaymentMilestonePayload
	if err := json.Unmarshal(msg.Body, &p); err != nil {
		h.deadLetter(msg, "json_unmarshal_error: "+err.Error())
		return nil
	}
	if p.TraceID != "" && trace.FromContext(ctx) == "" {
		ctx = trace.WithContext(ctx, p.TraceID)
	}
	log := logger.WithTrace(ctx, h.logger).With(
		zap.String("routing_key", msg.RoutingKey),
		zap.String("message_id", msg.ID),
		zap.Int64("milestone_id", p.MilestoneID),
	)

	to, ok := resolveStatus(msg.RoutingKey, p.Status)
	if !ok || p.MilestoneID <= 0 {
		log.Warn("Unroutable payment event, sending to DLQ", zap.String("status", p.Status))
		h.deadLetter(msg, "unroutable_event")
		return nil
	}

	messageID := msg.ID
	if messageID == "" {
		messageID = msg.RoutingKey + ":" + strconv.FormatInt(p.MilestoneID, 10) + ":" + p.Reference
	}

	// Redis 去重：重复投递直接 ack
	if !h.deduper.AcquireOnce(ctx, handlerName, messageID) {
		return nil
	}

	source := msg.RoutingKey
	if p.Reference != "" {
		source += "#" + p.Reference
	}

	retryKey := util.FormatRetryKey(handlerName, messageID)
	m, err := h.applier.ApplyExternalMilestoneStatus(ctx, p.MilestoneID, to, source)
	if err == nil {
		_ = h.retryCounter.Reset(ctx, retryKey)
		log.Info("Payment event applied",
			zap.String("status", string(m.Status)),
			zap.Int64("contract_id", m.ContractID),
		)
		return nil
	}

	switch contract.KindOf(err) {
	case contract.KindNotFound, contract.KindInvalid:
		// 重试也不会成功
		log.Warn("Payment event rejected, sending to DLQ", zap.Error(err))
		h.deadLetter(msg, string(contract.KindOf(err))+": "+err.Error())
		return nil
	}

	isRetryable, errType := classify(err)
	if !isRetryable {
		log.Error("Payment event failed with non-retryable error, sending to DLQ",
			zap.String("error_type", errType),
			zap.Error(err),
		)
		h.deadLetter(msg, errType+": "+err.Error())
		return nil
	}

	retryCount, rerr := h.retryCounter.IncrementAndGet(ctx, retryKey)
	if rerr != nil {
		// Redis 错误不影响处理
		log.Warn("Failed to get retry count, continuing anyway", zap.Error(rerr))
		retryCount = 1
	}
	if !util.ShouldRetry(retryCount, maxRetries, isRetryable) {
		log.Error("Max retries exceeded, sending to DLQ",
			zap.Int64("retry_count", retryCount),
			zap.String("error_type", errType),
			zap.Error(err),
		)
		h.deadLetter(msg, "max_retries_exceeded: "+err.Error())
		_ = h.retryCounter.Reset(ctx, retryKey)
		return nil
	}

	log.Warn("Payment event failed, will retry",
		zap.Int64("retry_count", retryCount),
		zap.String("error_type", errType),
		zap.Error(err),
	)
	h.deduper.Release(ctx, handlerName, messageID)
	return err
}

// classify decides retry-vs-DLQ from the storage cause of an engine error.
// A lost compare-and-set (CONFLICT) is always worth another attempt.
func classify(err error) (bool, string) {
	if contract.KindOf(err) == contract.KindConflict {
		return true, "conflict"
	}
	cause := errors.Unwrap(err)
	if cause == nil {
		cause = err
	}
	return util.IsRetryableError(cause)
}

func resolveStatus(routingKey, status string) (model.MilestoneStatus, bool) {
	if to, ok := routingStatus[routingKey]; ok {
		return to, true
	}
	if routingKey == mqcontracts.RoutingPaymentDisputeResolved {
		if status == "" {
			return model.MilestoneInProgress, true
		}
		to, ok := model.ParseMilestoneStatus(status)
		if ok && (to == model.MilestoneInProgress || to == model.MilestonePaid) {
			return to, true
		}
	}
	return "", false
}

func (h *PaymentEventHandler) deadLetter(msg mq.Message, reason string) {
	if err := h.dlq.PublishToDLQ(msg.RoutingKey, msg.Body, reason); err != nil {
		h.logger.Error("Failed to publish to DLQ",
			zap.String("routing_key", msg.RoutingKey),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
	}
}
