// Package systemd reports service readiness and liveness to systemd.
package systemd

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier drives sd_notify for a Type=notify unit. Outside systemd every
// call is a no-op.
type Notifier struct {
	notify   func(state string) (bool, error)
	watchdog func() (time.Duration, error)
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewNotifier creates a notifier bound to $NOTIFY_SOCKET.
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		notify: func(state string) (bool, error) {
			return daemon.SdNotify(false, state)
		},
		watchdog: func() (time.Duration, error) {
			return daemon.SdWatchdogEnabled(false)
		},
		logger: logger.With("component", "systemd"),
	}
}

// Ready signals readiness and, when the unit sets WatchdogSec, pings the
// watchdog at half the interval for as long as check passes. A nil check
// always passes.
func (n *Notifier) Ready(check func(context.Context) error) {
	sent, err := n.notify(daemon.SdNotifyReady)
	if err != nil {
		n.logger.Warn("Failed to notify systemd", "error", err)
		return
	}
	if !sent {
		n.logger.Debug("Not running under systemd notify")
		return
	}
	n.logger.Info("Notified systemd of readiness")

	interval, err := n.watchdog()
	if err != nil {
		n.logger.Warn("Invalid watchdog settings", "error", err)
		return
	}
	if interval <= 0 {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.done = make(chan struct{})
	go n.pingLoop(ctx, interval/2, check)
	n.logger.Info("Watchdog enabled", "interval", interval)
}

func (n *Notifier) pingLoop(ctx context.Context, every time.Duration, check func(context.Context) error) {
	defer close(n.done)

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if check != nil {
				checkCtx, cancel := context.WithTimeout(ctx, every)
				err := check(checkCtx)
				cancel()
				if err != nil {
					n.logger.Warn("Health check failed, withholding watchdog ping", "error", err)
					continue
				}
			}
			if _, err := n.notify(daemon.SdNotifyWatchdog); err != nil {
				n.logger.Warn("Failed to ping watchdog", "error", err)
			}
		}
	}
}

// Stopping stops the watchdog and tells systemd shutdown has begun.
func (n *Notifier) Stopping() {
	n.mu.Lock()
	cancel, done := n.cancel, n.done
	n.cancel, n.done = nil, nil
	n.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if _, err := n.notify(daemon.SdNotifyStopping); err != nil {
		n.logger.Debug("Failed to notify systemd of shutdown", "error", err)
	}
}
