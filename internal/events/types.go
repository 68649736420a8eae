package events

// Event enumerates high-level topics inside the execution core.
type Event string

const (
	EventSignalReceived Event = "signal.received"
	EventSignalRejected Event = "signal.rejected"
	EventOrderSubmitted Event = "order.submitted"
	EventOrderRejected  Event = "order.rejected"
	EventOrderExecuted  Event = "order.executed"
	EventOrderReleased  Event = "order.released"
	EventRiskAlert      Event = "risk.alert"
	EventResult         Event = "execution.result"
)
