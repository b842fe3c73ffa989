package mq

import "time"

// ContractCreatedPayload 合同创建事件
type ContractCreatedPayload struct {
	ContractID     int64     `json:"contract_id"`
	JobID          int64     `json:"job_id"`
	ProposalID     int64     `json:"proposal_id"`
	ClientID       int64     `json:"client_id"`
	FreelancerID   int64     `json:"freelancer_id"`
	TotalAmount    int64     `json:"total_amount"`
	Currency       string    `json:"currency"`
	MilestoneCount int       `json:"milestone_count"`
	CreatedAt      time.Time `json:"created_at"`
	TraceID        string    `json:"trace_id,omitempty"`
}

// ContractStatusChangedPayload 合同状态变更事件
type ContractStatusChangedPayload struct {
	ContractID int64     `json:"contract_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	ActorID    int64     `json:"actor_id"`
	ChangedAt  time.Time `json:"changed_at"`
	TraceID    string    `json:"trace_id,omitempty"`
}

// MilestoneEventPayload is shared by milestone.submitted / accepted /
// rejected / started / added. milestone.accepted is the trigger the payment
// system uses to release funds.
type MilestoneEventPayload struct {
	MilestoneID     int64     `json:"milestone_id"`
	ContractID      int64     `json:"contract_id"`
	From            string    `json:"from,omitempty"`
	To              string    `json:"to"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	ActorID         int64     `json:"actor_id"`
	RejectionReason string    `json:"rejection_reason,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
	TraceID         string    `json:"trace_id,omitempty"`
}
