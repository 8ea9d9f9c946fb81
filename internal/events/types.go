package events

// Event enumerates high-level topics inside the trade bridge.
type Event string

const (
	EventPriceTick       Event = "price_tick"
	EventHeartbeat       Event = "heartbeat"
	EventBotRegistered   Event = "bot_registered"
	EventBotUnregistered Event = "bot_unregistered"
	EventOrderQueued     Event = "order_queued"
	EventOrderFilled     Event = "order_filled"
	EventOrderFailed     Event = "order_failed"
	EventOrderRejected   Event = "order_rejected"
	EventOrderCanceled   Event = "order_canceled"
	EventRiskAlert       Event = "risk_alert"
)
