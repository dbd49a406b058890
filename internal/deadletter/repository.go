package deadletter

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-tsdbsink/internal/mapper"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/sink"
)

// Page size bounds for List.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// timeFormat is fixed-width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

var (
	// ErrNotFound indicates no dead letter exists with the given ID.
	ErrNotFound = errors.New("deadletter: not found")

	// ErrAlreadyReplayed indicates the letter was claimed for replay before.
	ErrAlreadyReplayed = errors.New("deadletter: already replayed")
)

// Letter is one record the sink failed to write.
type Letter struct {
	ID         string          `json:"id"`
	RecordID   string          `json:"record_id"`
	Topic      string          `json:"topic,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	Kind       string          `json:"kind"`
	Error      string          `json:"error"`
	Attempts   int             `json:"attempts"`
	CreatedAt  time.Time       `json:"created_at"`
	ReplayedAt *time.Time      `json:"replayed_at,omitempty"`
}

// Filter controls which dead letters List returns.
type Filter struct {
	Kind            string // optional: mapping, overload, timeout, transport
	IncludeReplayed bool
	Limit           int // default 50, max 200
	Offset          int
}

// ListResult contains a page of dead letters.
type ListResult struct {
	Letters []Letter `json:"letters"`
	Total   int      `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

// Repository stores failed records. It satisfies sink.Journal.
type Repository interface {
	Record(ctx context.Context, rec mapper.Record, cause error) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	Get(ctx context.Context, id string) (*Letter, error)
	MarkReplayed(ctx context.Context, id string) error
	ClearReplayed(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// attempter is implemented by records that count their deliveries.
type attempter interface {
	Attempts() int
}

// SQLiteRepository keeps dead letters in the dead_letters table.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a dead-letter repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Record stores rec with the error that failed it.
func (r *SQLiteRepository) Record(ctx context.Context, rec mapper.Record, cause error) error {
	if rec == nil {
		return fmt.Errorf("deadletter: record is required")
	}

	var topic string
	payload := []byte("{}")
	if src, ok := rec.(mapper.Source); ok {
		topic = src.Topic()
		if p := src.Payload(); len(p) > 0 {
			payload = p
		}
	}

	attempts := 1
	if a, ok := rec.(attempter); ok && a.Attempts() > 0 {
		attempts = a.Attempts()
	}

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO dead_letters (id, record_id, topic, payload, kind, error, attempts, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		"dl-"+uuid.NewString(),
		rec.ID(),
		topic,
		payload,
		sink.Classify(cause).String(),
		msg,
		attempts,
		r.now().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting dead letter: %w", err)
	}
	return nil
}

// List returns dead letters matching the filter, newest first.
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
	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, filter.Kind)
	}
	if !filter.IncludeReplayed {
		conditions = append(conditions, "replayed_at IS NULL")
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM dead_letters %s", where) //nolint:gosec // WHERE built from fixed conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting dead letters: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from fixed conditions
		`SELECT id, record_id, topic, payload, kind, error, attempts, created_at, replayed_at
		 FROM dead_letters %s ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying dead letters: %w", err)
	}
	defer rows.Close()

	letters := []Letter{}
	for rows.Next() {
		l, err := scanLetter(rows)
		if err != nil {
			return nil, err
		}
		letters = append(letters, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dead letters: %w", err)
	}

	return &ListResult{
		Letters: letters,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

// Get returns one dead letter.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Letter, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, record_id, topic, payload, kind, error, attempts, created_at, replayed_at
		 FROM dead_letters WHERE id = ?`, id)

	l, err := scanLetter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return l, err
}

// MarkReplayed claims the letter for replay. Only one caller succeeds; later
// calls get ErrAlreadyReplayed until ClearReplayed releases the claim.
func (r *SQLiteRepository) MarkReplayed(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE dead_letters SET replayed_at = ? WHERE id = ? AND replayed_at IS NULL",
		r.now().Format(timeFormat), id)
	if err != nil {
		return fmt.Errorf("marking dead letter replayed: %w", err)
	}
	err = expectOne(res, id)
	if !errors.Is(err, ErrNotFound) {
		return err
	}

	// Nothing changed: either the letter is gone or someone else claimed it.
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM dead_letters WHERE id = ?)", id).Scan(&exists); err != nil {
		return fmt.Errorf("checking dead letter: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrAlreadyReplayed, id)
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// ClearReplayed releases a replay claim whose resubmission failed.
func (r *SQLiteRepository) ClearReplayed(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE dead_letters SET replayed_at = NULL WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("clearing dead letter replay: %w", err)
	}
	return expectOne(res, id)
}

// Delete removes a dead letter.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM dead_letters WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting dead letter: %w", err)
	}
	return expectOne(res, id)
}

// Count returns the number of dead letters not yet replayed.
func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM dead_letters WHERE replayed_at IS NULL").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting dead letters: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLetter(s scanner) (*Letter, error) {
	var l Letter
	var payload []byte
	var createdAt string
	var replayedAt sql.NullString

	if err := s.Scan(&l.ID, &l.RecordID, &l.Topic, &payload, &l.Kind, &l.Error,
		&l.Attempts, &createdAt, &replayedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning dead letter: %w", err)
	}

	l.Payload = json.RawMessage(payload)
	if !json.Valid(payload) {
		// Keep non-JSON payloads readable in API responses.
		quoted, _ := json.Marshal(string(payload)) //nolint:errcheck // marshalling a string cannot fail
		l.Payload = quoted
	}

	t, err := time.Parse(timeFormat, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing dead letter timestamp %q: %w", createdAt, err)
	}
	l.CreatedAt = t

	if replayedAt.Valid {
		rt, err := time.Parse(timeFormat, replayedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing replay timestamp %q: %w", replayedAt.String, err)
		}
		l.ReplayedAt = &rt
	}

	return &l, nil
}

func expectOne(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
