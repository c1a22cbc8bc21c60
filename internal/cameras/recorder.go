package cameras

import (
	"context"
	"sync/atomic"
	"time"
)

// FrameRecorder allocates a durable identity for every captured frame.
type FrameRecorder interface {
	CreateFrameRecord(ctx context.Context, cameraID int64, capturedAt time.Time) (int64, error)
}

// MemoryRecorder hands out increasing frame ids without persisting anything.
type MemoryRecorder struct {
	last atomic.Int64
}

// NewMemoryRecorder creates a recorder whose first id is start+1.
func NewMemoryRecorder(start int64) *MemoryRecorder {
	r := &MemoryRecorder{}
	r.last.Store(start)
	return r
}

// CreateFrameRecord implements FrameRecorder.
func (r *MemoryRecorder) CreateFrameRecord(context.Context, int64, time.Time) (int64, error) {
	return r.last.Add(1), nil
}
