/*
Package outbox publishes change events of the catalog.

Every write appends an event to the outbox table inside the transaction of the write, so
an event exists if and only if the change was committed. A Relay later drains the table
and hands the events to a Sink: Kafka, SQS, or the log.
*/
package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/relabs-tech/geocatalog/core"
	"github.com/relabs-tech/geocatalog/core/logger"
	"github.com/relabs-tech/geocatalog/core/model"
	"github.com/relabs-tech/geocatalog/core/store"
)

// Event is a change event as it is delivered to a sink
type Event struct {
	ID         uuid.UUID       `json:"id"`
	Resource   string          `json:"resource"`
	Operation  core.Operation  `json:"operation"`
	State      string          `json:"state,omitempty"`
	ResourceID uuid.UUID       `json:"resource_id"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
	RequestID  string          `json:"request_id,omitempty"`
}

// Append records a change of a resource. It must be called with the transaction of the
// change. payload is the document after the change, or for deletes the document before.
// state is the lifecycle state of the affected metadata record, empty if there is none.
func Append(ctx context.Context, q sqlx.ExtContext, resource string, op core.Operation, state core.Status, resourceID uuid.UUID, payload interface{}) error {
	data, err := json.MarshalWithOption(payload, json.DisableHTMLEscape())
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", resource, err)
	}
	event := &store.OutboxEvent{
		ID:            uuid.New(),
		Resource:      resource,
		Operation:     string(op),
		ResourceID:    resourceID,
		Payload:       store.Document(data),
		LoggerContext: string(logger.SerializeLoggerContext(ctx)),
		CreatedAt:     model.Now(),
	}
	if state != "" {
		s := string(state)
		event.State = &s
	}
	return store.InsertOutboxEvent(ctx, q, event)
}

func eventFromRow(row store.OutboxEvent) Event {
	e := Event{
		ID:         row.ID,
		Resource:   row.Resource,
		Operation:  core.Operation(row.Operation),
		ResourceID: row.ResourceID,
		Payload:    json.RawMessage(row.Payload),
		CreatedAt:  row.CreatedAt,
		RequestID:  logger.RequestIDFromData([]byte(row.LoggerContext)),
	}
	if row.State != nil {
		e.State = *row.State
	}
	return e
}

// Marshal returns the wire form of the event
func (e Event) Marshal() ([]byte, error) {
	return json.MarshalWithOption(e, json.DisableHTMLEscape())
}
