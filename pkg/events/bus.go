package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gookitEvent "github.com/gookit/event"

	applogger "github.com/pochtmanr/dopplerland-fleet/internal/shared/logger"
)

// Event represents a generic event in the system
type Event interface {
	// Type returns the event type identifier (e.g., "config.issued", "server.down")
	Type() string
	// Timestamp returns when the event occurred
	Timestamp() time.Time
	// Metadata returns additional context-specific data
	Metadata() map[string]interface{}
	// ID returns a unique identifier for this event
	ID() string
}

// EventHandler processes events of a specific type
type EventHandler func(ctx context.Context, event Event) error

// UnsubscribeFunc is a function that can be called to unsubscribe from events
type UnsubscribeFunc func() error

// EventBus provides a generic interface for publishing and subscribing to events
type EventBus interface {
	// Publish publishes an event to the bus
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a handler for events of a specific type
	Subscribe(eventType string, handler EventHandler) (UnsubscribeFunc, error)

	// Close gracefully shuts down the event bus
	Close() error
}

// EventBusConfig defines configuration for event bus implementations
type EventBusConfig struct {
	Mode    string        `json:"mode" mapstructure:"mode"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// DefaultEventBusConfig returns a default configuration
func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{
		Mode:    "simple",
		Timeout: 30 * time.Second,
	}
}

// gookitEventBus implements EventBus using gookit/event as the underlying implementation
type gookitEventBus struct {
	manager     *gookitEvent.Manager
	config      EventBusConfig
	logger      *applogger.Logger
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	closed      bool
}

// NewGookitEventBus creates a new event bus using gookit/event
func NewGookitEventBus(config EventBusConfig, logger *applogger.Logger) EventBus {
	return &gookitEventBus{
		manager:     gookitEvent.NewManager("fleetd"),
		config:      config,
		logger:      logger.WithComponent("events.bus"),
		subscribers: make(map[string][]EventHandler),
	}
}

// Publish publishes an event to the bus
func (b *gookitEventBus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("event bus is closed")
	}
	b.mu.RUnlock()

	b.logger.DebugContext(ctx, "publishing event",
		slog.String("type", event.Type()),
		slog.String("id", event.ID()))

	err, _ := b.manager.Fire(event.Type(), gookitEvent.M{"payload": event})
	if err != nil {
		b.logger.ErrorCtx(ctx, "failed to publish event", err,
			slog.String("type", event.Type()),
			slog.String("id", event.ID()))
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Subscribe registers a handler for events of a specific type
func (b *gookitEventBus) Subscribe(eventType string, handler EventHandler) (UnsubscribeFunc, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("event bus is closed")
	}

	listener := gookitEvent.ListenerFunc(func(e gookitEvent.Event) error {
		if payload, ok := e.Get("payload").(Event); ok {
			return handler(context.Background(), payload)
		}
		return fmt.Errorf("invalid event payload received: %T", e.Get("payload"))
	})

	b.manager.On(eventType, listener, gookitEvent.Normal)
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)

	unsubscribe := func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		handlers := b.subscribers[eventType]
		for i, h := range handlers {
			if fmt.Sprintf("%p", h) == fmt.Sprintf("%p", handler) {
				b.subscribers[eventType] = append(handlers[:i], handlers[i+1:]...)
				break
			}
		}
		return nil
	}

	return unsubscribe, nil
}

// Close gracefully shuts down the event bus
func (b *gookitEventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.subscribers = make(map[string][]EventHandler)
	b.manager.Clear()
	b.closed = true
	return nil
}
