package mq

// Routing keys published by the contract service (via the outbox).
const (
	RoutingContractCreated       = "contract.created"
	RoutingContractStatusChanged = "contract.status_changed"
	RoutingMilestoneSubmitted    = "milestone.submitted"
	RoutingMilestoneAccepted     = "milestone.accepted"
	RoutingMilestoneRejected     = "milestone.rejected"
	RoutingMilestoneStarted      = "milestone.started"
	RoutingMilestoneAdded        = "milestone.added"
)

// Routing keys consumed from the payment/dispute system.
const (
	RoutingPaymentMilestonePattern  = "payment.milestone.*"
	RoutingPaymentFundingRequired   = "payment.milestone.funding_required"
	RoutingPaymentMilestoneFunded   = "payment.milestone.funded"
	RoutingPaymentMilestonePaid     = "payment.milestone.paid"
	RoutingPaymentMilestoneDisputed = "payment.milestone.disputed"
	RoutingPaymentDisputeResolved   = "payment.milestone.dispute_resolved"
)

const (
	AggregateContract  = "contract"
	AggregateMilestone = "contract_milestone"
)
