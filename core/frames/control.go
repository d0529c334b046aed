package frames

// EndFrame closes the chain gracefully: it travels through the regular
// per-processor queues behind any remaining data, and each processor
// forwards it downstream before tearing down its own background tasks.
type EndFrame struct{ ControlBase }

func NewEndFrame() *EndFrame {
	return &EndFrame{ControlBase: NewControlBase("EndFrame")}
}

// HeartbeatFrame is a liveness marker some transports exchange to reset
// receive watchdogs.
type HeartbeatFrame struct{ ControlBase }

func NewHeartbeatFrame() *HeartbeatFrame {
	return &HeartbeatFrame{ControlBase: NewControlBase("HeartbeatFrame")}
}
