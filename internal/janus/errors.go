package janus

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error codes returned by the gateway core and the plugins used here.
const (
	CodeSessionNotFound = 458
	CodeHandleNotFound  = 459

	CodeVideoRoomNoSuchRoom  = 426
	CodeVideoRoomRoomExists  = 427
	CodeVideoRoomNoSuchFeed  = 428
	CodeStreamingNoSuchMount = 455
	CodeStreamingMountExists = 456
)

var (
	// ErrUnreachable means the gateway could not be reached within the retry budget.
	ErrUnreachable = errors.New("janus: gateway unreachable")
	ErrClosed      = errors.New("janus: connection closed")
)

// Error is a failure reported by the gateway, either by the core
// ("janus":"error") or by a plugin (error_code in plugin data).
type Error struct {
	Code   int
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("janus error %d: %s", e.Code, e.Reason)
}

// IsCode reports whether err carries a gateway error with the given code.
func IsCode(err error, code int) bool {
	var je *Error
	if errors.As(err, &je) {
		return je.Code == code
	}
	return false
}

// pluginError extracts a plugin-level error from plugin data, if any.
type pluginError struct {
	ErrorCode int    `json:"error_code"`
	Error     string `json:"error"`
}

func (p pluginError) err() error {
	if p.ErrorCode == 0 && p.Error == "" {
		return nil
	}
	return &Error{Code: p.ErrorCode, Reason: p.Error}
}
