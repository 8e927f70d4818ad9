package pool

// Capability tags a connection as read-only or write-capable.
type Capability int

const (
	ReadOnly Capability = iota
	ReadWrite
)

func (c Capability) String() string {
	switch c {
	case ReadOnly:
		return "read"
	case ReadWrite:
		return "write"
	default:
		return "unknown"
	}
}

// Status is the lifecycle state of one queue. Transitions are one-way:
// Running -> Closing -> Shutdown.
type Status int

const (
	StatusRunning Status = iota
	StatusClosing
	StatusShutdown
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusClosing:
		return "closing"
	case StatusShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Color returns a color name string suitable for terminal rendering.
func (s Status) Color() string {
	switch s {
	case StatusRunning:
		return "green"
	case StatusClosing:
		return "yellow"
	case StatusShutdown:
		return "gray"
	default:
		return "white"
	}
}
