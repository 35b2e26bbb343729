package events

// Event identifies a topic on the bus.
type Event string

const (
	// Order lifecycle
	EventOrderSubmitted Event = "order.submitted"
	EventOrderAccepted  Event = "order.accepted"
	EventOrderFilled    Event = "order.filled"
	EventOrderCancelled Event = "order.cancelled"
	EventOrderRejected  Event = "order.rejected"
	EventOrderUpdate    Event = "order.update"

	// Risk admission
	EventRiskDenied Event = "risk.denied"

	// Circuit breakers
	EventBreakerTripped Event = "breaker.tripped"
	EventBreakerReset   Event = "breaker.reset"

	// Rebalance
	EventRebalancePlanned  Event = "rebalance.planned"
	EventRebalanceExecuted Event = "rebalance.executed"
)

// BreakerEvent is the payload for breaker trip/reset events.
type BreakerEvent struct {
	PortfolioID string
	Scope       string
	Reason      string
}

// RiskDenialEvent is the payload for risk denial events.
type RiskDenialEvent struct {
	PortfolioID string
	Symbol      string
	Reason      string
}
