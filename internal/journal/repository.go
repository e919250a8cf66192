package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SQLiteRepository persists the journal in the event_journal and
// service_calls tables.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a journal repository over db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Append inserts entry. ID and ReceivedAt are generated if empty.
func (r *SQLiteRepository) Append(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = "evt-" + uuid.NewString()
	}
	if entry.ReceivedAt.IsZero() {
		entry.ReceivedAt = time.Now()
	}
	if len(entry.Payload) == 0 {
		entry.Payload = []byte("{}")
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO event_journal
		   (id, subscription_id, event_type, entity_id, origin, time_fired, context_id, payload, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, int64(entry.SubscriptionID), entry.EventType, //nolint:gosec // ids are small sequence numbers
		nullableString(entry.EntityID), nullableString(entry.Origin),
		nullableString(entry.TimeFired), nullableString(entry.ContextID),
		string(entry.Payload),
		formatTime(entry.ReceivedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting journal entry: %w", err)
	}
	return nil
}

// List returns entries matching filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any

	if filter.EventType != "" {
		conditions = append(conditions, "event_type = ?")
		args = append(args, filter.EventType)
	}
	if filter.EntityID != "" {
		conditions = append(conditions, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "received_at >= ?")
		args = append(args, formatTime(filter.Since))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM event_journal " + where //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting journal entries: %w", err)
	}

	query := `SELECT id, subscription_id, event_type, entity_id, origin, time_fired, context_id, payload, received_at
		FROM event_journal ` + where + ` ORDER BY received_at DESC, rowid DESC LIMIT ? OFFSET ?` //nolint:gosec // as above
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var subID int64
		var entityID, origin, timeFired, contextID sql.NullString
		var payload, receivedAt string

		if err := rows.Scan(&e.ID, &subID, &e.EventType, &entityID, &origin,
			&timeFired, &contextID, &payload, &receivedAt); err != nil {
			return nil, fmt.Errorf("scanning journal entry: %w", err)
		}

		e.SubscriptionID = uint64(subID) //nolint:gosec // written from a uint64
		e.EntityID = entityID.String
		e.Origin = origin.String
		e.TimeFired = timeFired.String
		e.ContextID = contextID.String
		e.Payload = []byte(payload)
		if e.ReceivedAt, err = parseTime(receivedAt); err != nil {
			return nil, err
		}

		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

// Prune deletes entries and service calls older than before and returns
// how many rows were removed.
func (r *SQLiteRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	cutoff := formatTime(before)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning prune: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	var removed int64
	for _, stmt := range []string{
		"DELETE FROM event_journal WHERE received_at < ?",
		"DELETE FROM service_calls WHERE requested_at < ?",
	} {
		res, err := tx.ExecContext(ctx, stmt, cutoff)
		if err != nil {
			return 0, fmt.Errorf("pruning journal: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("pruning journal: %w", err)
		}
		removed += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing prune: %w", err)
	}
	return removed, nil
}

// RecordCall inserts a service call outcome. ID and RequestedAt are
// generated if empty.
func (r *SQLiteRepository) RecordCall(ctx context.Context, call *ServiceCall) error {
	if call.ID == "" {
		call.ID = "call-" + uuid.NewString()
	}
	if call.RequestedAt.IsZero() {
		call.RequestedAt = time.Now()
	}

	var data any
	if len(call.ServiceData) > 0 {
		data = string(call.ServiceData)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO service_calls
		   (id, domain, service, service_data, success, error_code, error_message, requested_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		call.ID, call.Domain, call.Service, data, boolInt(call.Success),
		nullableString(call.ErrorCode), nullableString(call.ErrorMessage),
		formatTime(call.RequestedAt), call.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("inserting service call: %w", err)
	}
	return nil
}

// RecentCalls returns up to limit service calls, most recent first.
func (r *SQLiteRepository) RecentCalls(ctx context.Context, limit int) ([]ServiceCall, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, domain, service, service_data, success, error_code, error_message, requested_at, duration_ms
		 FROM service_calls ORDER BY requested_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying service calls: %w", err)
	}
	defer rows.Close()

	calls := []ServiceCall{}
	for rows.Next() {
		var c ServiceCall
		var data, code, message sql.NullString
		var success, durationMS int64
		var requestedAt string

		if err := rows.Scan(&c.ID, &c.Domain, &c.Service, &data, &success,
			&code, &message, &requestedAt, &durationMS); err != nil {
			return nil, fmt.Errorf("scanning service call: %w", err)
		}

		if data.Valid {
			c.ServiceData = []byte(data.String)
		}
		c.Success = success != 0
		c.ErrorCode = code.String
		c.ErrorMessage = message.String
		c.Duration = time.Duration(durationMS) * time.Millisecond
		if c.RequestedAt, err = parseTime(requestedAt); err != nil {
			return nil, err
		}

		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating service calls: %w", err)
	}
	return calls, nil
}

// nullableString maps "" to NULL for optional TEXT columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing journal timestamp %q: %w", s, err)
		}
	}
	return t, nil
}
