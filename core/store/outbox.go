package store

import (
	"context"
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/relabs-tech/geocatalog/core/csql"
)

// OutboxAttempts is the number of delivery attempts of a new outbox event
const OutboxAttempts = 4

// Document is a JSON document stored in a JSON column. It is written as text, which
// both JSONB and TEXT columns accept.
type Document []byte

// Value implements driver.Valuer
func (d Document) Value() (driver.Value, error) {
	if d == nil {
		return "null", nil
	}
	return string(d), nil
}

// Scan implements sql.Scanner
func (d *Document) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		*d = append(Document(nil), v...)
	case string:
		*d = Document(v)
	case nil:
		*d = nil
	}
	return nil
}

// OutboxEvent is a change event waiting for delivery
type OutboxEvent struct {
	Serial        int64     `db:"serial"`
	ID            uuid.UUID `db:"id"`
	Resource      string    `db:"resource"`
	Operation     string    `db:"operation"`
	State         *string   `db:"state"`
	ResourceID    uuid.UUID `db:"resource_id"`
	Payload       Document  `db:"payload"`
	LoggerContext string    `db:"logger_context"`
	AttemptsLeft  int       `db:"attempts_left"`
	CreatedAt     time.Time `db:"created_at"`
}

const outboxColumns = `id, resource, operation, state, resource_id, payload, logger_context, attempts_left, created_at`

// InsertOutboxEvent appends event to the outbox. Serial is assigned by the database.
func InsertOutboxEvent(ctx context.Context, q sqlx.ExtContext, event *OutboxEvent) error {
	if event.AttemptsLeft == 0 {
		event.AttemptsLeft = OutboxAttempts
	}
	_, err := sqlx.NamedExecContext(ctx, q, `INSERT INTO outbox (`+outboxColumns+`) VALUES
(:id, :resource, :operation, :state, :resource_id, :payload, :logger_context, :attempts_left, :created_at)`, event)
	return classify(err)
}

// FetchOutboxEvents returns up to limit pending events in insertion order. Events queued
// behind a failed event of the same resource are held back until the failed event is
// retried or removed. On Postgres the rows stay locked until the transaction ends and
// rows locked by a concurrent relay are skipped.
func FetchOutboxEvents(ctx context.Context, tx *sqlx.Tx, dialect csql.Dialect, limit int) ([]OutboxEvent, error) {
	query := `SELECT serial, ` + outboxColumns + ` FROM outbox o WHERE attempts_left > 0 AND NOT EXISTS (
	SELECT 1 FROM outbox failed WHERE failed.resource_id = o.resource_id AND failed.attempts_left = 0 AND failed.serial < o.serial
) ORDER BY serial LIMIT ?`
	if dialect == csql.Postgres {
		query += ` FOR UPDATE SKIP LOCKED`
	}
	events := []OutboxEvent{}
	err := tx.SelectContext(ctx, &events, tx.Rebind(query), limit)
	return events, classify(err)
}

// DeleteOutboxEvent removes a delivered event
func DeleteOutboxEvent(ctx context.Context, q sqlx.ExtContext, serial int64) error {
	res, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM outbox WHERE serial = ?`), serial)
	return expectOne(res, err)
}

// DecrementOutboxAttempts records a failed delivery of an event
func DecrementOutboxAttempts(ctx context.Context, q sqlx.ExtContext, serial int64) error {
	res, err := q.ExecContext(ctx, q.Rebind(`UPDATE outbox SET attempts_left = attempts_left - 1 WHERE serial = ? AND attempts_left > 0`), serial)
	return expectOne(res, err)
}

// RetryFailedOutboxEvents gives the events which ran out of attempts a fresh set of
// attempts and returns their number
func RetryFailedOutboxEvents(ctx context.Context, q sqlx.ExtContext) (int64, error) {
	res, err := q.ExecContext(ctx, q.Rebind(`UPDATE outbox SET attempts_left = ? WHERE attempts_left = 0`), OutboxAttempts)
	if err != nil {
		return 0, classify(err)
	}
	return res.RowsAffected()
}

// OutboxHealth summarizes the outbox for the health endpoint
type OutboxHealth struct {
	Pending int `db:"pending" json:"pending"`
	Failing int `db:"failing" json:"failing"`
	Failed  int `db:"failed" json:"failed"`
}

// GetOutboxHealth counts pending events, events which failed at least once and events
// which ran out of attempts
func GetOutboxHealth(ctx context.Context, q sqlx.ExtContext) (OutboxHealth, error) {
	var h OutboxHealth
	err := sqlx.GetContext(ctx, q, &h, q.Rebind(`SELECT
	coalesce(sum(CASE WHEN attempts_left > 0 THEN 1 ELSE 0 END), 0) AS pending,
	coalesce(sum(CASE WHEN attempts_left > 0 AND attempts_left < ? THEN 1 ELSE 0 END), 0) AS failing,
	coalesce(sum(CASE WHEN attempts_left = 0 THEN 1 ELSE 0 END), 0) AS failed
FROM outbox`), OutboxAttempts)
	return h, classify(err)
}
