// Package nats exports pipeline events to NATS and accepts capture control
// requests from it.
//
// # Subject Hierarchy
//
//	cctvnode.cameras.{camera_id}.state        # capture state changes
//	cctvnode.cameras.{camera_id}.frames       # frames accepted into a queue
//	cctvnode.cameras.{camera_id}.detections   # analyzer results
//	cctvnode.cameras.{camera_id}.failures     # frames given up on
//	cctvnode.catalog.reloaded                 # catalog file reloads
//	cctvnode.control.{camera_id}.capture      # start/stop requests (request/reply)
//
// Payloads are the JSON encodings of the events package types. Publishing is
// fire-and-forget core NATS; when the connection is down events are dropped
// and capture carries on.
//
// An embedded server can be started in-process for single-host deployments.
//
// # Debugging with nats CLI
//
// Watch every camera:
//
//	nats sub "cctvnode.cameras.>"
//
// Watch detections for one camera:
//
//	nats sub "cctvnode.cameras.101.detections"
//
// Start or stop a capture:
//
//	nats req "cctvnode.control.101.capture" '{"action":"start"}'
//	nats req "cctvnode.control.101.capture" '{"action":"stop","reason":"maintenance"}'
package nats
