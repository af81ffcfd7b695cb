package memory

import (
	"context"
	"sync"
	"time"
)

// SessionDenylist records revoked session token IDs until the moment the
// token would have expired anyway. Logout adds the token's ID; the session
// middleware rejects any token whose ID is still listed.
//
// A deployment running several API instances needs a shared store for this
// (Redis SET with EX, or a TTL-indexed collection); this one is per-process.
//
// Go Learning Note — Channels for Signaling:
// `stop` is a `chan struct{}` used purely as a signal. close(stop) wakes every
// receiver at once, which is how the sweeper goroutine learns to exit.
type SessionDenylist struct {
	mu      sync.RWMutex
	revoked map[string]time.Time // token id → expiry
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// NewSessionDenylist starts a sweeper that drops entries once they expire.
func NewSessionDenylist(sweepEvery time.Duration) *SessionDenylist {
	d := &SessionDenylist{
		revoked: make(map[string]time.Time),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}
	go d.sweep(sweepEvery)
	return d
}

// Revoke lists id until expiresAt. Revoking an already expired token is a no-op.
func (d *SessionDenylist) Revoke(ctx context.Context, id string, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !expiresAt.After(d.now()) {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.revoked[id] = expiresAt
	return nil
}

func (d *SessionDenylist) IsRevoked(ctx context.Context, id string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	exp, ok := d.revoked[id]
	return ok && d.now().Before(exp), nil
}

// Len reports the number of entries, including expired ones not yet swept.
func (d *SessionDenylist) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.revoked)
}

// Go Learning Note — select Statement:
// select blocks until one case can proceed. Here it waits for either the
// ticker (sweep) or the stop signal (exit), the idiomatic cancellable
// periodic task. Deleting from a map while ranging over it is safe in Go.
func (d *SessionDenylist) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.purge()
		case <-d.stop:
			return
		}
	}
}

func (d *SessionDenylist) purge() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for id, exp := range d.revoked {
		if !now.Before(exp) {
			delete(d.revoked, id)
		}
	}
}

// Stop ends the sweeper. It is safe to call more than once.
func (d *SessionDenylist) Stop() {
	d.once.Do(func() { close(d.stop) })
}
