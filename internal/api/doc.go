// Package api provides the HTTP REST API and WebSocket event stream of the
// GO DAIKIN bridge.
//
// It exposes the device registry, state history, the command audit log and
// Prometheus metrics, and accepts commands that take the same path as MQTT
// set topics.
//
// The server follows the same lifecycle pattern as the infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// When api.auth_token is set every route except /api/v1/health requires
// "Authorization: Bearer <token>". Websocket clients may pass the token as
// the "token" query parameter instead.
package api
