// internal/events/events.go

// Package events defines the inventory replication wire contract shared by the
// purchase service (publisher) and the catalog reconciler (consumer).
package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// QueueBookUpdates is the durable queue carrying inventory change events.
const QueueBookUpdates = "book_updates"

// Inventory event types.
const (
	BookCreated = "book_created"
	BookUpdated = "book_updated"
	BookDeleted = "book_deleted"
)

// ErrMalformedEvent is returned when a delivery cannot be decoded.
var ErrMalformedEvent = errors.New("malformed event")

// Envelope is the message body on the queue: {"event": ..., "data": {...}}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// BookData is the payload of every inventory event. Only ID is mandatory; a nil
// field means "not carried by this event" and leaves the replica value alone.
type BookData struct {
	ID          int64            `json:"id"`
	Title       *string          `json:"title,omitempty"`
	Author      *string          `json:"author,omitempty"`
	Description *string          `json:"description,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	Stock       *int             `json:"stock,omitempty"`
	Version     *int             `json:"version,omitempty"`
}

// Encode builds the queue message for an event.
func Encode(eventType string, data BookData) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return json.Marshal(Envelope{Event: eventType, Data: raw})
}

// Decode parses a queue message. Unknown envelope or payload fields are
// ignored; a missing or unknown event type, an unparseable payload, or a
// payload without a positive id yields ErrMalformedEvent.
func Decode(body []byte) (string, BookData, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", BookData{}, fmt.Errorf("%w: envelope: %v", ErrMalformedEvent, err)
	}
	switch env.Event {
	case BookCreated, BookUpdated, BookDeleted:
	default:
		return "", BookData{}, fmt.Errorf("%w: unknown event type %q", ErrMalformedEvent, env.Event)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return "", BookData{}, fmt.Errorf("%w: %s has no data", ErrMalformedEvent, env.Event)
	}

	var data BookData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return "", BookData{}, fmt.Errorf("%w: payload: %v", ErrMalformedEvent, err)
	}
	if data.ID <= 0 {
		return "", BookData{}, fmt.Errorf("%w: %s payload has no id", ErrMalformedEvent, env.Event)
	}
	return env.Event, data, nil
}
