package contract

import "contractsvc/internal/model"

// Summary is derived from stored milestones on every read.
type Summary struct {
	TotalMilestones     int `json:"total_milestones"`
	CompletedMilestones int `json:"completed_milestones"`
	ActiveMilestones    int `json:"active_milestones"`
}

// View is a contract with its derived counts and, for single-contract
// reads, its milestones in order.
type View struct {
	model.Contract
	JobTitle   string                    `json:"job_title,omitempty"`
	Milestones []model.ContractMilestone `json:"milestones,omitempty"`
	Summary
}

func summarize(ms []model.ContractMilestone) Summary {
	s := Summary{TotalMilestones: len(ms)}
	for _, m := range ms {
		switch m.Status {
		case model.MilestonePaid:
			s.CompletedMilestones++
		case model.MilestoneInProgress, model.MilestoneSubmitted:
			s.ActiveMilestones++
		}
	}
	return s
}

func newView(c model.Contract, jobTitle string, ms []model.ContractMilestone, withMilestones bool) *View {
	v := &View{
		Contract: c,
		JobTitle: jobTitle,
		Summary:  summarize(ms),
	}
	if withMilestones {
		v.Milestones = ms
	}
	return v
}
