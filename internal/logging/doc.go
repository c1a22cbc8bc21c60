// Package logging provides structured logging with per-module log levels.
//
// Initialize once at startup, then ask for a module logger:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"capture": "debug",
//			"worker":  "warn",
//		},
//	})
//
//	logger := logging.GetLogger("capture").With("camera_id", id)
//	logger.Info("Capture started", "url", url)
//
// Records go to stdout when it is attached to a terminal, pipe or file, and
// to the systemd journal when journald is running (identifier "cctvnode"):
//
//	journalctl -t cctvnode MODULE=capture CAMERA_ID=101
//
// Module levels can be raised or lowered at runtime with SetModuleLevel.
package logging
