package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Remote function names.
const (
	loginFunction           = "s_login"
	setUserVariableFunction = "s_setUserVariable"
	getUserVariableFunction = "s_getUserVariable"
	getActiveDevidFunction  = "s_getActiveDevid"
	setActiveDevidFunction  = "s_setActiveDevid"
	getMyDevIDListFunction  = "s_getMyDevIdList"
	getAllPoolDataFunction  = "s_getAllPoolData"
	getTaskQueueFunction    = "s_getTaskQueue"
	getAlarmListFunction    = "s_getAlarmListExtended"

	// PoolDataChanged is the push the server sends when device readings change.
	PoolDataChanged = "poolDataChanged"

	languageVariable = "preffered_lang"
	loginClient      = "bc_web"
)

// ========================= high-level API =========================

// Login authenticates the session. Any EXCEPTION reply is reported as ErrAuth.
func (c *Connection) Login(ctx context.Context, username, password string) (bool, error) {
	c.log.Debug("logging in", "username", username)
	resp, err := c.Request(ctx, loginFunction, username, password, nil, nil, loginClient)
	if err != nil {
		if isMessageError(err) {
			return false, fmt.Errorf("%w: %v", ErrAuth, err)
		}
		return false, err
	}
	return truthy(resp), nil
}

// SetUserVariable stores a per-user variable. The server acknowledges with a
// null or truthy payload.
func (c *Connection) SetUserVariable(ctx context.Context, name, value string) (bool, error) {
	resp, err := c.Request(ctx, setUserVariableFunction, name, value)
	if err != nil {
		return false, err
	}
	return isNull(resp) || truthy(resp), nil
}

// GetUserVariable reads a per-user variable. A null value reads as "".
func (c *Connection) GetUserVariable(ctx context.Context, name string) (string, error) {
	resp, err := c.Request(ctx, getUserVariableFunction, name)
	if err != nil {
		return "", err
	}
	return asString(resp), nil
}

// GetActiveDeviceID asks the server for the active device and caches it.
func (c *Connection) GetActiveDeviceID(ctx context.Context) (string, error) {
	c.log.Debug("getting active device id")
	resp, err := c.Request(ctx, getActiveDevidFunction)
	if err != nil {
		return "", err
	}
	id := asString(resp)
	if id != "" {
		c.setActiveDeviceID(id)
	}
	return id, nil
}

// SetActiveDeviceID switches the session's active device. Pool, task and
// alarm queries refer to the active device.
func (c *Connection) SetActiveDeviceID(ctx context.Context, id string) (bool, error) {
	c.log.Debug("setting active device id", "devid", id)
	resp, err := c.Request(ctx, setActiveDevidFunction, id)
	if err != nil {
		return false, err
	}
	c.setActiveDeviceID(id)
	return truthy(resp), nil
}

// GetMyDeviceIDList lists the devices visible to the logged in user.
func (c *Connection) GetMyDeviceIDList(ctx context.Context) ([]*structpb.Struct, error) {
	resp, err := c.Request(ctx, getMyDevIDListFunction)
	if err != nil {
		return nil, err
	}
	// Any falsy payload (null, false, 0, "") means no devices.
	if !truthy(resp) {
		return []*structpb.Struct{}, nil
	}

	var list structpb.ListValue
	if err := protojson.Unmarshal(resp, &list); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", getMyDevIDListFunction, err)
	}
	devices := make([]*structpb.Struct, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		s := v.GetStructValue()
		if s == nil {
			return nil, fmt.Errorf("decoding %s: entry %d is not an object", getMyDevIDListFunction, i)
		}
		devices = append(devices, s)
	}
	return devices, nil
}

// GetAllPoolData returns the active device's pool readings, uninterpreted.
func (c *Connection) GetAllPoolData(ctx context.Context) (*structpb.Value, error) {
	c.log.Debug("getting pool data", "devid", c.ActiveDeviceID())
	return c.requestValue(ctx, getAllPoolDataFunction)
}

// GetTaskQueue returns the active device's task queue, uninterpreted.
func (c *Connection) GetTaskQueue(ctx context.Context) (*structpb.Value, error) {
	c.log.Debug("getting task queue", "devid", c.ActiveDeviceID())
	return c.requestValue(ctx, getTaskQueueFunction)
}

// GetAlarmList returns the active device's extended alarm list, uninterpreted.
func (c *Connection) GetAlarmList(ctx context.Context) (*structpb.Value, error) {
	c.log.Debug("getting alarm list", "devid", c.ActiveDeviceID())
	return c.requestValue(ctx, getAlarmListFunction)
}

func (c *Connection) requestValue(ctx context.Context, name string) (*structpb.Value, error) {
	resp, err := c.Request(ctx, name)
	if err != nil {
		return nil, err
	}
	return DecodeValue(resp)
}

// DecodeValue converts a raw JSON payload into a structpb.Value. An absent
// payload decodes to a null value.
func DecodeValue(raw json.RawMessage) (*structpb.Value, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return structpb.NewNullValue(), nil
	}
	v := &structpb.Value{}
	if err := protojson.Unmarshal(raw, v); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	return v, nil
}

// ========================= payload helpers =========================

func isMessageError(err error) bool {
	var me *MessageError
	return errors.As(err, &me)
}

func isNull(raw json.RawMessage) bool {
	p := bytes.TrimSpace(raw)
	return len(p) == 0 || bytes.Equal(p, []byte("null"))
}

// truthy applies JSON truthiness: false, 0, "", null, [] and {} are false.
func truthy(raw json.RawMessage) bool {
	if isNull(raw) {
		return false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	}
	return false
}

// asString returns a JSON string unquoted, null as "", and any other value
// as its JSON text.
func asString(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}
