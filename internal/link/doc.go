// Package link carries the vehicle control-link camera protocol over
// embedded NATS messaging.
//
// # Architecture
//
//   - Server: embedded NATS server bound in the main process; a bind
//     failure here is fatal since the service is unreachable without it
//   - Link: subscribes to control subjects, decodes request envelopes,
//     and delivers bridge responses back to the requesting peer
//
// # Subject Hierarchy
//
//	camlink.control.{peer}    # decoded camera-protocol requests (peer → service)
//	camlink.response.{peer}   # responses, sequence numbers echoed (service → peer)
//
// The package uses fire-and-forget messaging (core NATS, no JetStream).
// Requests that fail to decode are dropped without a response; there is
// no valid sequence number to echo.
package link
