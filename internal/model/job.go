package model

import "time"

type JobStatus string

const (
	JobDraft      JobStatus = "DRAFT"
	JobOpen       JobStatus = "OPEN"
	JobInProgress JobStatus = "IN_PROGRESS"
	JobCompleted  JobStatus = "COMPLETED"
	JobCancelled  JobStatus = "CANCELLED"
)

type Job struct {
	ID        int64     `json:"id"`
	ClientID  int64     `json:"client_id"`
	Title     string    `json:"title"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ProposalStatus string

const (
	ProposalSubmitted  ProposalStatus = "SUBMITTED"
	ProposalWithdrawn  ProposalStatus = "WITHDRAWN"
	ProposalDeclined   ProposalStatus = "DECLINED"
	ProposalAccepted   ProposalStatus = "ACCEPTED"
	ProposalContracted ProposalStatus = "CONTRACTED"
)

type Proposal struct {
	ID           int64          `json:"id"`
	JobID        int64          `json:"job_id"`
	FreelancerID int64          `json:"freelancer_id"`
	TotalAmount  int64          `json:"total_amount"`
	Status       ProposalStatus `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
