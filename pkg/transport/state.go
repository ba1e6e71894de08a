package transport

import "fmt"

type State int32

const (
	StateIdle State = iota
	// RTS asserted, reading unsolicited lines.
	StateAwaitingLine
	// A command was written and its reply has not arrived yet.
	StateAwaitingAck
	// The device is presumed asleep and is probed periodically.
	StatePoweredOffWake
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAwaitingLine:
		return "AWAITING-LINE"
	case StateAwaitingAck:
		return "AWAITING-ACK"
	case StatePoweredOffWake:
		return "POWERED-OFF-WAKE"
	default:
		return "UNKNOWN"
	}
}

type Stats struct {
	SentBytes uint64
	RecvBytes uint64
	Lines     uint64
	Errors    uint64
	Retries   uint64
	Timeouts  uint64
	Desyncs   uint64
}

func (st Stats) String() string {
	return fmt.Sprintf("sent: %d recv: %d lines: %d errors: %d retries: %d timeouts: %d desync: %d",
		st.SentBytes, st.RecvBytes, st.Lines, st.Errors, st.Retries, st.Timeouts, st.Desyncs)
}
