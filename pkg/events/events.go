package events

import (
	"time"

	"github.com/google/uuid"
)

// Event type identifiers published by the fleet core.
const (
	TypeConfigIssued  = "config.issued"
	TypeConfigRevoked = "config.revoked"
	TypeSyncCompleted = "sync.completed"
	TypeServerDown    = "server.down"
)

// BaseEvent is the common implementation of the Event interface
type BaseEvent struct {
	EventID   string                 `json:"id"`
	EventType string                 `json:"type"`
	Occurred  time.Time              `json:"timestamp"`
	Meta      map[string]interface{} `json:"metadata"`
}

func (e *BaseEvent) Type() string                     { return e.EventType }
func (e *BaseEvent) Timestamp() time.Time             { return e.Occurred }
func (e *BaseEvent) Metadata() map[string]interface{} { return e.Meta }
func (e *BaseEvent) ID() string                       { return e.EventID }

// NewEvent creates a new event with the given type and metadata
func NewEvent(eventType string, meta map[string]interface{}) *BaseEvent {
	if meta == nil {
		meta = make(map[string]interface{})
	}
	return &BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Occurred:  time.Now(),
		Meta:      meta,
	}
}

// NewConfigIssued creates an event for a newly provisioned connection config
func NewConfigIssued(accountCode, serverID, publicKey, tier string) *BaseEvent {
	return NewEvent(TypeConfigIssued, map[string]interface{}{
		"account_code": accountCode,
		"server_id":    serverID,
		"public_key":   publicKey,
		"tier":         tier,
	})
}

// NewConfigRevoked creates an event for a deactivated connection config
func NewConfigRevoked(accountCode, serverID, publicKey string) *BaseEvent {
	return NewEvent(TypeConfigRevoked, map[string]interface{}{
		"account_code": accountCode,
		"server_id":    serverID,
		"public_key":   publicKey,
	})
}

// NewSyncCompleted creates an event summarizing one reconciliation batch
func NewSyncCompleted(serverID string, synced, failed int) *BaseEvent {
	return NewEvent(TypeSyncCompleted, map[string]interface{}{
		"server_id": serverID,
		"synced":    synced,
		"errors":    failed,
	})
}

// NewServerDown creates an event for a failed health probe
func NewServerDown(serverID, reason string) *BaseEvent {
	return NewEvent(TypeServerDown, map[string]interface{}{
		"server_id": serverID,
		"reason":    reason,
	})
}
