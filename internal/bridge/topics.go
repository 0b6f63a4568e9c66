package bridge

import "fmt"

// DefaultTopicPrefix is used when Options.TopicPrefix is empty.
const DefaultTopicPrefix = "bragerconnect"

// Topics builds the MQTT topics published by the bridge.
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// Status is the retained online/offline topic, also used as the LWT.
func (t Topics) Status() string {
	return t.prefix() + "/status"
}

// Devices carries the account's device list.
func (t Topics) Devices() string {
	return t.prefix() + "/devices"
}

// Pool carries the full pool snapshot of a device.
func (t Topics) Pool(devID string) string {
	return fmt.Sprintf("%s/%s/pool", t.prefix(), devID)
}

// PoolChanged carries forwarded poolDataChanged pushes.
func (t Topics) PoolChanged(devID string) string {
	return fmt.Sprintf("%s/%s/pool/changed", t.prefix(), devID)
}

// Alarms carries the extended alarm list.
func (t Topics) Alarms(devID string) string {
	return fmt.Sprintf("%s/%s/alarms", t.prefix(), devID)
}

// Tasks carries the task queue.
func (t Topics) Tasks(devID string) string {
	return fmt.Sprintf("%s/%s/tasks", t.prefix(), devID)
}
