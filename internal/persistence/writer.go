package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CommandLogWriter writes applied commands and their domain events to
// Postgres using batch inserts. Multi-row INSERT is used as a portable
// alternative to COPY; switch to pgx CopyFrom if throughput demands it.
type CommandLogWriter struct {
	db           *sql.DB
	batchSize    int
	flushTimeout time.Duration
}

// CommandRow represents a row in ledger_log.commands. Payload holds the
// JSON-encoded command so the log can be replayed from a snapshot forward.
type CommandRow struct {
	Sequence       int64
	CommandType    string
	CommandID      string
	Partition      string
	SourceSequence int64
	Payload        []byte
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
}

// EventRow represents a row in ledger_log.events. Idx orders the events of
// one command; (sequence, idx) is the primary key.
type EventRow struct {
	Sequence  int64
	Idx       int32
	EventType string
	Payload   []byte // JSON-encoded event payload
}

func NewCommandLogWriter(db *sql.DB, batchSize int, flushTimeout time.Duration) *CommandLogWriter {
	return &CommandLogWriter{
		db:           db,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
	}
}

// WriteCommandBatch writes a batch of command envelopes using multi-row INSERT.
func (w *CommandLogWriter) WriteCommandBatch(ctx context.Context, tx *sql.Tx, commands []CommandRow) error {
	if len(commands) == 0 {
		return nil
	}

	query := `INSERT INTO ledger_log.commands
		(sequence, command_type, command_id, partition, source_sequence, payload, state_hash, prev_hash, timestamp)
		VALUES `

	values := make([]string, 0, len(commands))
	args := make([]interface{}, 0, len(commands)*9)

	for i, c := range commands {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			c.Sequence, c.CommandType, c.CommandID, c.Partition,
			c.SourceSequence, c.Payload, c.StateHash, c.PrevHash, c.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING" // Idempotent writes

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteEventBatch writes a batch of domain events to ledger_log.events.
func (w *CommandLogWriter) WriteEventBatch(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO ledger_log.events
		(sequence, idx, event_type, payload)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*4)

	for i, e := range events {
		base := i * 4
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4,
		))
		args = append(args, e.Sequence, e.Idx, e.EventType, e.Payload)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence, idx) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// MarshalEventPayload serializes an event payload to JSON for storage.
func MarshalEventPayload(payload interface{}) ([]byte, error) {
	return json.Marshal(payload)
}
