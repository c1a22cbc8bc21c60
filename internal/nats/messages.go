package nats

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/smazurov/cctvnode/internal/events"
)

// Subject prefixes for NATS topics.
const (
	SubjectCamerasPrefix   = "cctvnode.cameras"
	SubjectControlPrefix   = "cctvnode.control"
	SubjectCatalogReloaded = "cctvnode.catalog.reloaded"
)

// Control actions.
const (
	ActionStart = "start"
	ActionStop  = "stop"
)

// SubjectCameraState returns the subject for a camera's capture state changes.
func SubjectCameraState(cameraID int64) string {
	return fmt.Sprintf("%s.%d.state", SubjectCamerasPrefix, cameraID)
}

// SubjectCameraFrames returns the subject for a camera's queued frames.
func SubjectCameraFrames(cameraID int64) string {
	return fmt.Sprintf("%s.%d.frames", SubjectCamerasPrefix, cameraID)
}

// SubjectCameraDetections returns the subject for a camera's analysis results.
func SubjectCameraDetections(cameraID int64) string {
	return fmt.Sprintf("%s.%d.detections", SubjectCamerasPrefix, cameraID)
}

// SubjectCameraFailures returns the subject for a camera's failed frames.
func SubjectCameraFailures(cameraID int64) string {
	return fmt.Sprintf("%s.%d.failures", SubjectCamerasPrefix, cameraID)
}

// SubjectControlCapture returns the request subject for starting or stopping
// a camera's capture.
func SubjectControlCapture(cameraID int64) string {
	return fmt.Sprintf("%s.%d.capture", SubjectControlPrefix, cameraID)
}

// SubjectFor maps a bus event to its export subject.
func SubjectFor(ev any) (string, bool) {
	switch e := ev.(type) {
	case events.CaptureStateChangedEvent:
		return SubjectCameraState(e.CameraID), true
	case events.FrameQueuedEvent:
		return SubjectCameraFrames(e.CameraID), true
	case events.AnalysisCompletedEvent:
		return SubjectCameraDetections(e.CameraID), true
	case events.AnalysisFailedEvent:
		return SubjectCameraFailures(e.CameraID), true
	case events.CatalogReloadedEvent:
		return SubjectCatalogReloaded, true
	default:
		return "", false
	}
}

// cameraIDFromSubject extracts the id token of a control subject.
func cameraIDFromSubject(subject string) (int64, error) {
	parts := strings.Split(subject, ".")
	if len(parts) != 4 || parts[0]+"."+parts[1] != SubjectControlPrefix {
		return 0, fmt.Errorf("unexpected control subject %q", subject)
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid camera id %q in subject", parts[2])
	}
	return id, nil
}

// ControlMessage is a capture control request.
type ControlMessage struct {
	Action    string `json:"action"` // start, stop
	CameraID  int64  `json:"camera_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Marshal serializes the message to JSON.
func (m ControlMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalControl deserializes a control message from JSON.
func UnmarshalControl(data []byte) (ControlMessage, error) {
	var m ControlMessage
	err := json.Unmarshal(data, &m)
	return m, err
}

// ControlReply answers a control request.
type ControlReply struct {
	OK       bool   `json:"ok"`
	CameraID int64  `json:"camera_id"`
	State    string `json:"state,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Marshal serializes the reply to JSON.
func (r ControlReply) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalControlReply deserializes a control reply from JSON.
func UnmarshalControlReply(data []byte) (ControlReply, error) {
	var r ControlReply
	err := json.Unmarshal(data, &r)
	return r, err
}
