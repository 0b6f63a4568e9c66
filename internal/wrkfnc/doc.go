// Package wrkfnc implements the JSON frame format spoken by the BragerConnect
// cloud service.
//
// Every valid frame is a JSON object carrying the "isRpc" flag. Outgoing calls
// use a fixed envelope:
//
//	{"isRpc": true, "type": 2, "name": "s_getActiveDevid", "nr": 7, "args": []}
//
// Incoming frames are classified once, in Decode, into one of three variants:
//
//   - *Ready: the handshake frame (type READY_SIGNAL) the server sends first.
//   - *Response: a reply correlated by "nr"; type EXCEPTION marks an error payload.
//   - *Request: an unsolicited call pushed by the server, e.g. poolDataChanged.
//
// The package is pure: no I/O, no shared state.
package wrkfnc
