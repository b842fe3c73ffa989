package mq

import "time"

// PaymentMilestonePayload is published by the payment/dispute system on
// payment.milestone.*. Status is optional: when empty it is derived from the
// routing key.
type PaymentMilestonePayload struct {
	MilestoneID int64     `json:"milestone_id"`
	Status      string    `json:"status,omitempty"`
	Reference   string    `json:"reference,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
	TraceID     string    `json:"trace_id,omitempty"`
}
