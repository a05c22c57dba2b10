package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"talep/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	EventReservationCreated   = "reservation_created"
	EventReservationUpdated   = "reservation_updated"
	EventReservationApproved  = "reservation_approved"
	EventReservationRejected  = "reservation_rejected"
	EventReservationCancelled = "reservation_cancelled"
	EventReservationDeleted   = "reservation_deleted"
)

// ReservationEvents lists every event the lifecycle publishes.
var ReservationEvents = []string{
	EventReservationCreated,
	EventReservationUpdated,
	EventReservationApproved,
	EventReservationRejected,
	EventReservationCancelled,
	EventReservationDeleted,
}

// Action strips the "reservation_" prefix: "reservation_approved" -> "approved".
func Action(eventType string) string {
	return strings.TrimPrefix(eventType, "reservation_")
}

// ReservationEventPayload is the committed reservation state plus who changed it.
type ReservationEventPayload struct {
	ReservationID  int64                    `json:"reservation_id"`
	Reservation    *models.Reservation      `json:"reservation"`
	ResourceName   string                   `json:"resource_name"`
	PreviousStatus models.ReservationStatus `json:"previous_status,omitempty"`
	ActorID        int64                    `json:"actor_id"`
	ActorName      string                   `json:"actor_name,omitempty"`
	Reason         string                   `json:"reason,omitempty"`
	OccurredAt     time.Time                `json:"occurred_at"`
}

// DecodeReservationPayload unmarshals the payload of a reservation event.
func DecodeReservationPayload(event *Event) (*ReservationEventPayload, error) {
	var p ReservationEventPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", event.Type, err)
	}
	if p.Reservation == nil {
		return nil, fmt.Errorf("decode %s payload: reservation is missing", event.Type)
	}
	return &p, nil
}

// Event represents a lightweight domain event.
type Event struct {
	ID        string
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events. Handlers run synchronously
// on the publisher's goroutine and must hand slow work off.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	logger      *zerolog.Logger
}

// NewEventBus constructs an empty bus. logger may be nil.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &EventBus{subscribers: make(map[string][]EventHandler), logger: logger}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// SubscribeAll registers handler for each of the event types.
func (b *EventBus) SubscribeAll(eventTypes []string, handler EventHandler) {
	for _, t := range eventTypes {
		b.Subscribe(t, handler)
	}
}

// Publish notifies subscribers of the event type. Handler errors are logged.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	for _, handler := range handlers {
		if err := handler(event); err != nil {
			b.logger.Warn().Err(err).Str("event_type", event.Type).Str("event_id", event.ID).Msg("event handler failed")
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	b.Publish(&event)
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{ID: uuid.NewString(), Type: eventType, Payload: raw, CreatedAt: time.Now().UTC()}, nil
}
