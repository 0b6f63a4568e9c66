package wrkfnc

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned by Decode for frames that are not valid JSON,
	// lack the isRpc flag, or carry an unknown type code.
	ErrMalformed = errors.New("wrkfnc: malformed message")

	// ErrInvalidType is returned by Encode for an unknown type code.
	ErrInvalidType = errors.New("wrkfnc: invalid message type")
)

// inbound mirrors every field an inbound frame may carry. Pointers
// distinguish absent fields from zero values.
type inbound struct {
	IsRPC bool              `json:"isRpc"`
	Type  *MessageType      `json:"type"`
	Name  *string           `json:"name"`
	Nr    *int64            `json:"nr"`
	Args  []json.RawMessage `json:"args"`
	Resp  json.RawMessage   `json:"resp"`
}

// outbound is the fixed call envelope. Field order is the wire order.
type outbound struct {
	IsRPC bool        `json:"isRpc"`
	Type  MessageType `json:"type"`
	Name  string      `json:"name"`
	Nr    int64       `json:"nr"`
	Args  []any       `json:"args"`
}

// Decode parses one text frame.
//
// A frame with a numeric "nr" and no "name" is a *Response; a READY_SIGNAL
// frame is *Ready; anything else is a *Request. A missing "type" defaults to
// FUNCTION_RESP for responses and FUNCTION_EXEC for requests.
func Decode(frame []byte) (Message, error) {
	var in inbound
	if err := json.Unmarshal(frame, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !in.IsRPC {
		return nil, fmt.Errorf("%w: isRpc flag missing", ErrMalformed)
	}
	if in.Type != nil && !in.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown type %d", ErrMalformed, int(*in.Type))
	}

	switch {
	case in.Type != nil && *in.Type == ReadySignal:
		return &Ready{raw: frame}, nil

	case in.Nr != nil && in.Name == nil:
		typ := FunctionResp
		if in.Type != nil {
			typ = *in.Type
		}
		return &Response{
			Type:    typ,
			Number:  *in.Nr,
			Payload: in.Resp,
			raw:     frame,
		}, nil

	default:
		typ := FunctionExec
		if in.Type != nil {
			typ = *in.Type
		}
		var name string
		if in.Name != nil {
			name = *in.Name
		}
		return &Request{
			Type: typ,
			Name: name,
			Args: in.Args,
			raw:  frame,
		}, nil
	}
}

// Encode serializes a call. A nil args slice is sent as [].
func Encode(typ MessageType, name string, nr int64, args []any) ([]byte, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidType, int(typ))
	}
	if args == nil {
		args = []any{}
	}
	return json.Marshal(outbound{
		IsRPC: true,
		Type:  typ,
		Name:  name,
		Nr:    nr,
		Args:  args,
	})
}
