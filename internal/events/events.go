// Package events publishes domain events to other systems. The only event
// today is AchievementAwarded, emitted once per newly granted title.
package events

import (
	"context"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// AchievementAwarded is published when a user gains a title for the first time.
type AchievementAwarded struct {
	EventID       string    `json:"event_id"`
	UserID        string    `json:"user_id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	MeasurementID string    `json:"measurement_id"`
	AwardedAt     time.Time `json:"awarded_at"`
}

// Encode returns the wire form of e.
func (e AchievementAwarded) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	PublishAchievement(ctx context.Context, e AchievementAwarded) error
	Close() error
}

// Noop drops every event. It is used when publishing is disabled.
type Noop struct{}

func (Noop) PublishAchievement(context.Context, AchievementAwarded) error { return nil }
func (Noop) Close() error { return nil }

// MemoryPublisher keeps events in a slice, for embedding and tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []AchievementAwarded
	err    error
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (m *MemoryPublisher) PublishAchievement(ctx context.Context, e AchievementAwarded) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

// FailWith makes every later publish return err; nil restores delivery.
func (m *MemoryPublisher) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Events returns a copy of everything published so far.
func (m *MemoryPublisher) Events() []AchievementAwarded {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AchievementAwarded(nil), m.events...)
}

func (m *MemoryPublisher) Close() error { return nil }
