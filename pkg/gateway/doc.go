// Package gateway owns the WebSocket surface of the voice protocol.
//
// One goroutine reads each connection and handles frames strictly in
// arrival order, so a pipeline run finishes before the next frame is
// looked at. A second goroutine drains the bounded outbound queue and
// keeps the socket alive with pings. The protocol rules themselves
// live in pkg/session; the gateway only interprets the effects the
// state machine requests.
package gateway
