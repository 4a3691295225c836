package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"
)

// Event types published during a run.
const (
	EventRunStarted       = "run.started"
	EventRunFinished      = "run.finished"
	EventOutlineCompleted = "outline.completed"
	EventChapterStarted   = "chapter.started"
	EventChapterCompleted = "chapter.completed"
	EventChapterFailed    = "chapter.failed"
	EventSceneCompleted   = "scene.completed"
)

// Event is a progress notification. Chapter and Scene are zero when the
// event is not about one.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	RunID     string    `json:"run_id"`
	Chapter   int       `json:"chapter,omitempty"`
	Scene     int       `json:"scene,omitempty"`
	Words     int       `json:"words,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type EventHandler func(ctx context.Context, event Event) error

// Subscription is an active registration on an EventBus.
type Subscription struct {
	ID       string
	Pattern  string
	Priority int
	handler  EventHandler
	matcher  glob.Glob
	seq      int64
}

// EventBus delivers events synchronously to every subscription whose
// pattern matches the event type. Patterns are globs over dot-separated
// segments: "chapter.*", "*.completed", or "**" for everything. Higher
// priority runs first, then subscription order.
// Handler errors and panics are logged and never reach the publisher.
type EventBus struct {
	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	stopped       bool
	next          int64
	logger        *slog.Logger

	published int64
	failed    int64
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscriptions: make(map[string]*Subscription),
		logger:        slog.Default().With("component", "event_bus"),
	}
}

func (eb *EventBus) Subscribe(pattern string, handler EventHandler, priority int) (*Subscription, error) {
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}
	if pattern == "" {
		return nil, errors.New("pattern cannot be empty")
	}
	matcher, err := glob.Compile(pattern, '.')
	if err != nil {
		return nil, fmt.Errorf("invalid event pattern %q: %w", pattern, err)
	}

	sub := &Subscription{
		ID:       uuid.NewString(),
		Pattern:  pattern,
		Priority: priority,
		handler:  handler,
		matcher:  matcher,
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.next++
	sub.seq = eb.next
	eb.subscriptions[sub.ID] = sub
	return sub, nil
}

func (eb *EventBus) Unsubscribe(id string) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if _, ok := eb.subscriptions[id]; !ok {
		return fmt.Errorf("subscription %s not found", id)
	}
	delete(eb.subscriptions, id)
	return nil
}

// Publish stamps the event and hands it to the matching handlers in
// priority order. Publishing on a stopped bus is a no-op.
func (eb *EventBus) Publish(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	matching := eb.matching(event.Type)
	if matching == nil {
		return
	}

	for _, sub := range matching {
		if err := eb.deliver(ctx, sub, event); err != nil {
			eb.mu.Lock()
			eb.failed++
			eb.mu.Unlock()
			eb.logger.Warn("event handler failed",
				"event", event.Type,
				"subscription", sub.ID,
				"error", err)
		}
	}
}

func (eb *EventBus) matching(eventType string) []*Subscription {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.stopped {
		return nil
	}
	eb.published++

	matching := make([]*Subscription, 0, len(eb.subscriptions))
	for _, sub := range eb.subscriptions {
		if sub.matcher.Match(eventType) {
			matching = append(matching, sub)
		}
	}
	sort.SliceStable(matching, func(i, j int) bool {
		if matching[i].Priority != matching[j].Priority {
			return matching[i].Priority > matching[j].Priority
		}
		return matching[i].seq < matching[j].seq
	})
	return matching
}

func (eb *EventBus) deliver(ctx context.Context, sub *Subscription, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return sub.handler(ctx, event)
}

// Stop drops all subscriptions; later publishes are ignored.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.stopped = true
	eb.subscriptions = make(map[string]*Subscription)
}

// Stats returns the number of published events and failed deliveries.
func (eb *EventBus) Stats() (published, failed int64) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return eb.published, eb.failed
}
