// Package api provides the HTTP REST API and WebSocket event stream
// for Hardpoint Core.
//
// It exposes the pairing, session, and device status operations to
// collaborator systems (POS backends, operator dashboards) and relays
// operator notifications over WebSocket.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple
// goroutines.
package api
