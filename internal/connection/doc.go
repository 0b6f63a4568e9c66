// Package connection implements the BragerConnect session: one WebSocket
// carrying many concurrent wrkfnc calls.
//
// A session is opened in four steps:
//
//  1. dial the cloud endpoint (DefaultURL);
//  2. wait for the server's READY_SIGNAL frame and echo it back verbatim;
//  3. start the receive loop, which owns all reads from then on;
//  4. log in (s_login), set the preferred language and resolve the active device.
//
// Calls are correlated by a per-connection counter starting at 0. Each call
// registers a single-use slot before its frame is written; the receive loop
// fulfils the slot when the matching "nr" arrives. Unmatched responses are
// dropped, and frames that are not valid wrkfnc messages are logged and
// skipped without disturbing other calls.
//
// Server pushes such as poolDataChanged are delivered to handlers registered
// with Handle.
//
// When the socket drops, a Connection with reconnect enabled re-runs the
// whole sequence with exponential backoff; otherwise it closes. Calls pending
// at that moment end with ErrTimeout.
//
// Example:
//
//	c := connection.New(connection.Config{
//		Username: "user",
//		Password: "secret",
//		Language: "en",
//	}, connection.WithLogger(logger))
//	if err := c.Connect(ctx); err != nil {
//		return err
//	}
//	defer c.Close()
//
//	devices, err := c.GetMyDeviceIDList(ctx)
package connection
