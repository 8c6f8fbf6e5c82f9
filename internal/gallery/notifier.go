package gallery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultDebounce is the minimum spacing between notification-triggered passes.
const DefaultDebounce = 10 * time.Second

// Resource states sent with drive push notifications.
const (
	StateSync   = "sync"
	StateUpdate = "update"
	StateTrash  = "trash"
)

type passRunner interface {
	SyncAll(ctx context.Context, trigger string) (*Result, error)
}

// Notifier turns push notifications into gallery passes. Change
// notifications inside the debounce window are dropped; removals ("trash")
// always trigger a pass. Passes go through the syncer's lock, so a
// notification arriving during a pass is skipped rather than queued.
type Notifier struct {
	syncer   passRunner
	debounce time.Duration
	log      *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	last time.Time

	triggers chan string
	wg       sync.WaitGroup
}

// NewNotifier returns a notifier feeding syncer. A non-positive debounce
// uses DefaultDebounce.
func NewNotifier(syncer passRunner, debounce time.Duration, logger *slog.Logger) *Notifier {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		syncer:   syncer,
		debounce: debounce,
		log:      logger,
		now:      time.Now,
		triggers: make(chan string, 16),
	}
}

// Notify records a notification and reports whether it will trigger a pass.
// It never blocks.
func (n *Notifier) Notify(resourceState string) bool {
	removal := resourceState == StateTrash

	n.mu.Lock()
	now := n.now()
	if !removal && !n.last.IsZero() && now.Sub(n.last) < n.debounce {
		n.mu.Unlock()
		n.log.Debug("notification debounced", "state", resourceState, "since_last", now.Sub(n.last))
		return false
	}
	n.last = now
	n.mu.Unlock()

	select {
	case n.triggers <- resourceState:
		return true
	default:
		n.log.Warn("notification queue full, dropping", "state", resourceState)
		return false
	}
}

// Run starts a pass for each accepted notification until ctx is done, then
// waits for passes in flight.
func (n *Notifier) Run(ctx context.Context) error {
	defer n.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case state := <-n.triggers:
			n.wg.Add(1)
			go func() {
				defer n.wg.Done()
				n.run(ctx, state)
			}()
		}
	}
}

func (n *Notifier) run(ctx context.Context, state string) {
	if state == StateTrash {
		n.log.Info("drive removal notification, syncing all folders")
	} else {
		n.log.Info("drive change notification, syncing all folders", "state", state)
	}

	_, err := n.syncer.SyncAll(ctx, "webhook:"+state)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, ErrPassInProgress):
		n.log.Debug("notification pass skipped, another pass is running", "state", state)
	default:
		n.log.Error("notification pass failed", "state", state, "error", err)
	}
}
