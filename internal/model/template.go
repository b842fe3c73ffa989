package model

import "time"

// JobMilestone is a client-authored template attached to a job; it carries
// only a suggested price.
type JobMilestone struct {
	ID              int64     `json:"id"`
	JobID           int64     `json:"job_id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	SuggestedAmount *int64    `json:"suggested_amount,omitempty"`
	Currency        string    `json:"currency"`
	EstimatedDays   *int      `json:"estimated_days,omitempty"`
	OrderIndex      int       `json:"order_index"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ProposalMilestone is the freelancer's priced offer. It is copied by value
// into a ContractMilestone and never referenced afterwards.
type ProposalMilestone struct {
	ID          int64      `json:"id"`
	ProposalID  int64      `json:"proposal_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Amount      int64      `json:"amount"`
	Currency    string     `json:"currency"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	OrderIndex  int        `json:"order_index"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
