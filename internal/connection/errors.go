package connection

import (
	"errors"
	"fmt"

	"github.com/marpi82/bragerconnect/internal/wrkfnc"
)

// Errors returned by Connection. Use errors.Is to test for them.
var (
	// ErrConnectionFailed is returned when the socket cannot be opened.
	// The transport cause is included as text only.
	ErrConnectionFailed = errors.New("bragerconnect: connection failed")

	// ErrProtocol is returned when the server does not open with READY_SIGNAL.
	ErrProtocol = errors.New("bragerconnect: protocol error")

	// ErrAuth is returned when the server rejects the login.
	ErrAuth = errors.New("bragerconnect: authentication failed")

	// ErrConfiguration is returned when post-login setup is refused.
	ErrConfiguration = errors.New("bragerconnect: configuration rejected")

	// ErrMessage is matched by every *MessageError.
	ErrMessage = errors.New("bragerconnect: exception response")

	// ErrTimeout is returned when no response arrives in time.
	ErrTimeout = errors.New("bragerconnect: request timed out")

	// ErrDuplicateID signals a pending-table invariant violation.
	ErrDuplicateID = errors.New("bragerconnect: duplicate request id")

	// ErrNotConnected is returned by Request when no session is open.
	ErrNotConnected = errors.New("bragerconnect: not connected")

	// ErrClosed is passed to OnDisconnected when Close ends a session.
	// Requests still pending at that point run until they time out.
	ErrClosed = errors.New("bragerconnect: connection closed")
)

// MessageError is an EXCEPTION response to a call.
type MessageError struct {
	Name    string
	Number  int64
	Payload []byte
}

func (e *MessageError) Error() string {
	return fmt.Sprintf("bragerconnect: %s (nr %d) failed: %s", e.Name, e.Number, e.Payload)
}

func (e *MessageError) Is(target error) bool { return target == ErrMessage }

func newMessageError(name string, resp *wrkfnc.Response) *MessageError {
	return &MessageError{Name: name, Number: resp.Number, Payload: resp.Payload}
}
