package syncstore

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/user/ventana-link/logger"
)

// Prober reports whether the remote is worth trying
type Prober interface {
	Reachable(ctx context.Context) bool
}

// Replicator pushes pending mirror rows to a Remote while the network is up
type Replicator struct {
	mirror   *SQLite
	remote   Remote
	prober   Prober
	interval time.Duration

	online atomic.Bool
	kick   chan struct{}
}

// NewReplicator creates a replicator. A nil prober always reports reachable.
func NewReplicator(mirror *SQLite, remote Remote, prober Prober, interval time.Duration) *Replicator {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Replicator{
		mirror:   mirror,
		remote:   remote,
		prober:   prober,
		interval: interval,
		kick:     make(chan struct{}, 1),
	}
}

// Online returns the last observed reachability
func (r *Replicator) Online() bool {
	return r.online.Load()
}

// Put writes to the mirror and wakes the replicator
func (r *Replicator) Put(ctx context.Context, key, value string) error {
	if err := r.mirror.Put(ctx, key, value); err != nil {
		return err
	}
	r.Kick()
	return nil
}

// Kick requests an early sync pass
func (r *Replicator) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Run syncs on every interval and kick until ctx is done
func (r *Replicator) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.kick:
		}
		r.pass(ctx)
	}
}

func (r *Replicator) pass(ctx context.Context) {
	up := r.prober == nil || r.prober.Reachable(ctx)
	if was := r.online.Swap(up); was != up {
		if up {
			logger.Info("sync", "🌐 network reachable")
		} else {
			logger.Warn("sync", "📴 network unreachable, keeping writes offline")
		}
	}
	if !up {
		return
	}
	if _, err := r.SyncOnce(ctx); err != nil {
		logger.Warn("sync", "⚠️  sync pass: %v", err)
	}
}

// SyncOnce pushes every pending entry; it returns how many were marked synced
func (r *Replicator) SyncOnce(ctx context.Context) (int, error) {
	pending, err := r.mirror.Pending(ctx)
	if err != nil {
		return 0, err
	}

	synced := 0
	for _, e := range pending {
		if err := r.remote.Push(ctx, e.Key, e.Value); err != nil {
			return synced, err
		}
		ok, err := r.mirror.MarkSynced(ctx, e)
		if err != nil {
			return synced, err
		}
		if ok {
			synced++
			logger.Debug("sync", "☁️  %s=%s replicated", e.Key, e.Value)
		}
	}
	return synced, nil
}
