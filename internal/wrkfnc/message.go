package wrkfnc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MessageType is the "type" code of a frame.
type MessageType int

// Known message type codes.
const (
	ProcedureExec MessageType = 1
	FunctionExec  MessageType = 2
	ReadySignal   MessageType = 10
	FunctionResp  MessageType = 12
	Exception     MessageType = 20
	PortMessage   MessageType = 21
)

// Valid reports whether t is one of the known codes.
func (t MessageType) Valid() bool {
	switch t {
	case ProcedureExec, FunctionExec, ReadySignal, FunctionResp, Exception, PortMessage:
		return true
	}
	return false
}

func (t MessageType) String() string {
	switch t {
	case ProcedureExec:
		return "PROCEDURE_EXEC"
	case FunctionExec:
		return "FUNCTION_EXEC"
	case ReadySignal:
		return "READY_SIGNAL"
	case FunctionResp:
		return "FUNCTION_RESP"
	case Exception:
		return "EXCEPTION"
	case PortMessage:
		return "PORT_MESSAGE"
	}
	return fmt.Sprintf("MessageType(%d)", int(t))
}

// Message is a decoded inbound frame: *Ready, *Response or *Request.
type Message interface {
	// Kind is the frame's message type.
	Kind() MessageType
	// Raw is the frame exactly as received.
	Raw() []byte

	message()
}

// Ready is the handshake frame. Raw must be echoed back unchanged.
type Ready struct {
	raw []byte
}

func (m *Ready) Kind() MessageType { return ReadySignal }
func (m *Ready) Raw() []byte       { return m.raw }
func (*Ready) message()            {}

// Response is a reply to a call previously sent by the client.
type Response struct {
	Type    MessageType
	Number  int64
	Payload json.RawMessage // nil when "resp" was absent

	raw []byte
}

func (m *Response) Kind() MessageType { return m.Type }
func (m *Response) Raw() []byte       { return m.raw }
func (*Response) message()            {}

// IsException reports whether the server answered with an EXCEPTION frame.
func (m *Response) IsException() bool { return m.Type == Exception }

// IsNull reports whether the payload is absent or JSON null.
func (m *Response) IsNull() bool {
	p := bytes.TrimSpace(m.Payload)
	return len(p) == 0 || bytes.Equal(p, []byte("null"))
}

// Request is a call pushed by the server without a matching client request.
type Request struct {
	Type MessageType
	Name string
	Args []json.RawMessage

	raw []byte
}

func (m *Request) Kind() MessageType { return m.Type }
func (m *Request) Raw() []byte       { return m.raw }
func (*Request) message()            {}
