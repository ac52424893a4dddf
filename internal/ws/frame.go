// Package ws delivers snapshot streams to websocket and Server-Sent Events
// clients.
package ws

import (
	"github.com/PumpeDie/teamup/internal/domain"
)

// Frame types.
const (
	FrameSnapshot = "snapshot"
	FrameError    = "error"
)

// Frame is one message sent to a watching client. Snapshot frames carry the
// full ordered collection; an error frame is always the last one.
type Frame struct {
	Type  string      `json:"type"`
	Seq   int64       `json:"seq"`
	Data  any         `json:"data,omitempty"`
	Code  domain.Code `json:"code,omitempty"`
	Error string      `json:"error,omitempty"`
}
