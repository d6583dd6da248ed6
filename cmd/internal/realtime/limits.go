package realtime

import "time"

// Security and performance limits for the notification socket.
const (
	// Max bytes per websocket frame read. Client events are tiny; anything
	// near this limit is hostile or broken.
	maxFrameBytes = 64 << 10 // 64 KiB
)

const (
	// Heartbeat defaults, overridable via env in ws_gateway.go.
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection inbound event budget per window.
	rateLimitEvents = 60
	rateLimitWindow = 10 * time.Second
)
