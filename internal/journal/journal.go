// Package journal is a durable audit log of webhook calls and outbound sends.
// It is write-mostly and never consulted for deduplication or polling; the
// reconciliation state itself stays in memory.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// WebhookEntry records one webhook call and what the pipeline did with it.
type WebhookEntry struct {
	ID         string    `json:"id"`
	ReceivedAt time.Time `json:"receivedAt"`
	MessageID  string    `json:"messageId,omitempty"`
	CustomerID string    `json:"customerId,omitempty"`
	Type       string    `json:"type,omitempty"`
	Outcome    string    `json:"outcome"`
	HTTPStatus int       `json:"httpStatus"`
	Body       string    `json:"body,omitempty"`
}

// OutboundEntry records one outbound send attempt.
type OutboundEntry struct {
	ID         string    `json:"id"`
	SentAt     time.Time `json:"sentAt"`
	MessageID  string    `json:"messageId"`
	CustomerID string    `json:"customerId,omitempty"`
	Status     string    `json:"status"`
	HTTPStatus int       `json:"httpStatus,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Recorder is what the pipeline and API write to.
type Recorder interface {
	RecordWebhook(ctx context.Context, e WebhookEntry) error
	RecordOutbound(ctx context.Context, e OutboundEntry) error
}

// Nop discards everything. Used when the journal is disabled.
type Nop struct{}

func (Nop) RecordWebhook(context.Context, WebhookEntry) error   { return nil }
func (Nop) RecordOutbound(context.Context, OutboundEntry) error { return nil }

// maxBodyBytes caps the stored raw webhook body.
const maxBodyBytes = 64 << 10

// SQLiteJournal implements Recorder on SQLite.
type SQLiteJournal struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

func Open(dbPath string, logger *slog.Logger) (*SQLiteJournal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create journal directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	j := &SQLiteJournal{db: db, logger: logger.With("component", "journal"), now: time.Now}
	if err := runMigrations(db, j.logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal migration failed: %w", err)
	}
	return j, nil
}

func (j *SQLiteJournal) RecordWebhook(ctx context.Context, e WebhookEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = j.now()
	}
	e.Body = truncateBody(e.Body, maxBodyBytes)
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO webhook_log (id, received_at, message_id, customer_id, type, outcome, http_status, body)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ReceivedAt.UTC(), e.MessageID, e.CustomerID, e.Type, e.Outcome, e.HTTPStatus, e.Body,
	)
	if err != nil {
		return fmt.Errorf("record webhook: %w", err)
	}
	return nil
}

func (j *SQLiteJournal) RecordOutbound(ctx context.Context, e OutboundEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.SentAt.IsZero() {
		e.SentAt = j.now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO outbound_log (id, sent_at, message_id, customer_id, status, http_status, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SentAt.UTC(), e.MessageID, e.CustomerID, e.Status, e.HTTPStatus, e.Error,
	)
	if err != nil {
		return fmt.Errorf("record outbound: %w", err)
	}
	return nil
}

// RecentWebhooks returns the latest webhook entries, newest first.
func (j *SQLiteJournal) RecentWebhooks(ctx context.Context, limit int) ([]WebhookEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, received_at, message_id, customer_id, type, outcome, http_status, body
		 FROM webhook_log ORDER BY received_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]WebhookEntry, 0)
	for rows.Next() {
		var e WebhookEntry
		var body sql.NullString
		if err := rows.Scan(&e.ID, &e.ReceivedAt, &e.MessageID, &e.CustomerID, &e.Type, &e.Outcome, &e.HTTPStatus, &body); err != nil {
			return nil, err
		}
		e.Body = body.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RecentOutbound returns the latest outbound entries, newest first.
func (j *SQLiteJournal) RecentOutbound(ctx context.Context, limit int) ([]OutboundEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, sent_at, message_id, customer_id, status, http_status, error
		 FROM outbound_log ORDER BY sent_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]OutboundEntry, 0)
	for rows.Next() {
		var e OutboundEntry
		if err := rows.Scan(&e.ID, &e.SentAt, &e.MessageID, &e.CustomerID, &e.Status, &e.HTTPStatus, &e.Error); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PruneBefore deletes entries older than cutoff and returns how many went.
func (j *SQLiteJournal) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for _, q := range []string{
		`DELETE FROM webhook_log WHERE received_at < ?`,
		`DELETE FROM outbound_log WHERE sent_at < ?`,
	} {
		res, err := j.db.ExecContext(ctx, q, cutoff.UTC())
		if err != nil {
			return total, fmt.Errorf("prune journal: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// truncateBody cuts s to at most limit bytes without splitting a UTF-8
// sequence.
func truncateBody(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
