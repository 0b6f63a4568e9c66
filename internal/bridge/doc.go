// Package bridge republishes BragerConnect device data to an MQTT broker.
//
// A Bridge takes a connected Source (normally *connection.Connection) and a
// Publisher (normally the paho-backed client returned by DialMQTT). Run
// publishes the device list and a pool snapshot, forwards every
// poolDataChanged push and periodically refreshes alarms and the task queue.
//
// Topic layout, with the default prefix:
//
//	bragerconnect/status              online/offline (retained, LWT)
//	bragerconnect/devices             device list (retained)
//	bragerconnect/{devid}/pool        full pool snapshot (retained)
//	bragerconnect/{devid}/pool/changed  raw poolDataChanged arguments
//	bragerconnect/{devid}/alarms      alarm list (retained)
//	bragerconnect/{devid}/tasks       task queue (retained)
package bridge
