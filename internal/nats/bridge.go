package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/smazurov/cctvnode/internal/events"
)

const (
	exportBuffer   = 256
	controlTimeout = 30 * time.Second
)

// Captures is the capture control surface exposed over NATS.
type Captures interface {
	Start(ctx context.Context, cameraID int64) error
	Stop(cameraID int64) bool
}

// BridgeOptions configures the client connection of a Bridge.
type BridgeOptions struct {
	URL   string
	Token string
	// Name identifies the connection in server monitoring.
	Name string
}

// Bridge publishes bus events to NATS and serves capture control requests.
type Bridge struct {
	opts     BridgeOptions
	eventBus *events.Bus
	captures Captures
	conn     *nats.Conn
	sub      *nats.Subscription
	unsub    func()
	quit     chan struct{}
	done     chan struct{}
	logger   *slog.Logger
	mu       sync.Mutex
}

// NewBridge creates a bridge. A nil captures disables the control subject.
func NewBridge(opts BridgeOptions, eventBus *events.Bus, captures Captures, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Name == "" {
		opts.Name = "cctvnode"
	}

	return &Bridge{
		opts:     opts,
		eventBus: eventBus,
		captures: captures,
		logger:   logger.With("component", "nats-bridge"),
	}
}

// Start connects to NATS, subscribes to control requests and begins
// exporting events.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil {
		return nil
	}

	options := []nats.Option{
		nats.Name(b.opts.Name),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				b.logger.Warn("NATS bridge disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			b.logger.Info("NATS bridge reconnected")
		}),
	}
	if b.opts.Token != "" {
		options = append(options, nats.Token(b.opts.Token))
	}

	conn, err := nats.Connect(b.opts.URL, options...)
	if err != nil {
		return err
	}
	b.conn = conn
	b.logger.Info("NATS bridge connected", "url", b.opts.URL)

	if b.captures != nil {
		sub, err := conn.Subscribe(SubjectControlPrefix+".*.capture", b.handleControl)
		if err != nil {
			b.cleanup()
			return err
		}
		b.sub = sub
	}

	ch := make(chan any, exportBuffer)
	b.quit = make(chan struct{})
	b.done = make(chan struct{})
	b.unsub = b.eventBus.Forward(ch)
	go b.export(conn, ch, b.quit, b.done)

	return nil
}

func (b *Bridge) export(conn *nats.Conn, ch <-chan any, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-quit:
			return
		case ev := <-ch:
			b.publish(conn, ev)
		}
	}
}

func (b *Bridge) publish(conn *nats.Conn, ev any) {
	subject, ok := SubjectFor(ev)
	if !ok {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Warn("Failed to marshal event", "subject", subject, "error", err)
		return
	}
	if err := conn.Publish(subject, data); err != nil {
		b.logger.Debug("Failed to publish event", "subject", subject, "error", err)
	}
}

// handleControl serves start/stop requests on cctvnode.control.*.capture.
func (b *Bridge) handleControl(msg *nats.Msg) {
	reply := b.control(msg)
	if reply.Error != "" {
		b.logger.Warn("Control request failed", "subject", msg.Subject, "error", reply.Error)
	}

	if msg.Reply == "" {
		return
	}
	data, err := reply.Marshal()
	if err != nil {
		return
	}
	if err := msg.Respond(data); err != nil {
		b.logger.Warn("Failed to answer control request", "subject", msg.Subject, "error", err)
	}
}

func (b *Bridge) control(msg *nats.Msg) ControlReply {
	id, err := cameraIDFromSubject(msg.Subject)
	if err != nil {
		return ControlReply{Error: err.Error()}
	}
	reply := ControlReply{CameraID: id}

	ctrl, err := UnmarshalControl(msg.Data)
	if err != nil {
		reply.Error = fmt.Sprintf("invalid control message: %v", err)
		return reply
	}
	if ctrl.CameraID != 0 && ctrl.CameraID != id {
		reply.Error = fmt.Sprintf("camera_id %d does not match subject", ctrl.CameraID)
		return reply
	}

	b.logger.Info("Received control command", "camera_id", id, "action", ctrl.Action, "reason", ctrl.Reason)

	switch ctrl.Action {
	case ActionStart:
		ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
		defer cancel()
		if err := b.captures.Start(ctx, id); err != nil {
			reply.State = events.StateStopped
			reply.Error = err.Error()
			return reply
		}
		reply.OK = true
		reply.State = events.StateRunning
	case ActionStop:
		b.captures.Stop(id)
		reply.OK = true
		reply.State = events.StateStopped
	default:
		reply.Error = fmt.Sprintf("unknown action %q", ctrl.Action)
	}
	return reply
}

// cleanup unsubscribes and closes the connection. Must hold b.mu.
func (b *Bridge) cleanup() {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
		b.sub = nil
	}
	if b.conn != nil {
		_ = b.conn.FlushTimeout(time.Second)
		b.conn.Close()
		b.conn = nil
	}
}

// Stop stops exporting and closes the connection.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.unsub != nil {
		b.unsub()
		b.unsub = nil
		close(b.quit)
		<-b.done
	}
	if b.conn == nil {
		return
	}
	b.cleanup()
	b.logger.Info("NATS bridge stopped")
}

// IsConnected reports whether the bridge holds a live connection.
func (b *Bridge) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil && b.conn.IsConnected()
}
