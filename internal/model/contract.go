package model

import "time"

const (
	CurrencyUSD       = "USD"
	PaymentModelFixed = "FIXED"
)

type ContractStatus string

const (
	ContractActive    ContractStatus = "ACTIVE"
	ContractPaused    ContractStatus = "PAUSED"
	ContractCompleted ContractStatus = "COMPLETED"
	ContractCancelled ContractStatus = "CANCELLED"
	ContractDisputed  ContractStatus = "DISPUTED"
)

// ParseContractStatus returns false for unknown values.
func ParseContractStatus(s string) (ContractStatus, bool) {
	switch st := ContractStatus(s); st {
	case ContractActive, ContractPaused, ContractCompleted, ContractCancelled, ContractDisputed:
		return st, true
	}
	return "", false
}

type Contract struct {
	ID           int64          `json:"id"`
	JobID        int64          `json:"job_id"`
	ProposalID   int64          `json:"proposal_id"`
	ClientID     int64          `json:"client_id"`
	FreelancerID int64          `json:"freelancer_id"`
	TotalAmount  int64          `json:"total_amount"`
	Currency     string         `json:"currency"`
	Status       ContractStatus `json:"status"`
	StartDate    *time.Time     `json:"start_date,omitempty"`
	EndDate      *time.Time     `json:"end_date,omitempty"`
	PaymentModel string         `json:"payment_model"`
	TermsJSON    string         `json:"terms_json,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

type MilestoneStatus string

const (
	MilestonePending         MilestoneStatus = "PENDING"
	MilestoneFundingRequired MilestoneStatus = "FUNDING_REQUIRED"
	MilestoneFunded          MilestoneStatus = "FUNDED"
	MilestoneInProgress      MilestoneStatus = "IN_PROGRESS"
	MilestoneSubmitted       MilestoneStatus = "SUBMITTED"
	MilestoneAccepted        MilestoneStatus = "ACCEPTED"
	MilestoneRejected        MilestoneStatus = "REJECTED"
	MilestoneDisputed        MilestoneStatus = "DISPUTED"
	MilestonePaid            MilestoneStatus = "PAID"
)

// ParseMilestoneStatus returns false for unknown values.
func ParseMilestoneStatus(s string) (MilestoneStatus, bool) {
	switch st := MilestoneStatus(s); st {
	case MilestonePending, MilestoneFundingRequired, MilestoneFunded, MilestoneInProgress,
		MilestoneSubmitted, MilestoneAccepted, MilestoneRejected, MilestoneDisputed, MilestonePaid:
		return st, true
	}
	return "", false
}

type ContractMilestone struct {
	ID              int64           `json:"id"`
	ContractID      int64           `json:"contract_id"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Amount          int64           `json:"amount"`
	Currency        string          `json:"currency"`
	Status          MilestoneStatus `json:"status"`
	DueDate         *time.Time      `json:"due_date,omitempty"`
	OrderIndex      int             `json:"order_index"`
	SubmittedAt     *time.Time      `json:"submitted_at,omitempty"`
	AcceptedAt      *time.Time      `json:"accepted_at,omitempty"`
	RejectedAt      *time.Time      `json:"rejected_at,omitempty"`
	RejectionReason *string         `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
