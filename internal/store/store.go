package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/mohammad-safakhou/podcaster/config"
	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
)

type Store struct {
	DB *sql.DB
}

// Job statuses persisted for async generation.
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// ErrNotFound is returned by mutations addressing a missing row.
var ErrNotFound = errors.New("not found")

// ScriptSummary is the list view of a stored script.
type ScriptSummary struct {
	ID        string          `json:"id"`
	Source    core.SourceKind `json:"source"`
	Reference string          `json:"reference"`
	Title     string          `json:"title"`
	Lines     int             `json:"lines"`
	CreatedAt time.Time       `json:"created_at"`
}

// ScriptFilter constrains ListScripts queries.
type ScriptFilter struct {
	Source core.SourceKind
	Limit  int
	Before time.Time
}

// JobRecord tracks one asynchronous generation request.
type JobRecord struct {
	ID        string          `json:"id"`
	Source    core.SourceKind `json:"source"`
	Reference string          `json:"reference"`
	Status    string          `json:"status"`
	Request   json.RawMessage `json:"request,omitempty"`
	ScriptID  string          `json:"script_id,omitempty"`
	Stage     string          `json:"stage,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// DSN builds a Postgres connection string from configuration.
func DSN(p config.PostgresConfig) (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres configuration incomplete: host/dbname required")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// New connects using the storage configuration.
func New(ctx context.Context, p config.PostgresConfig) (*Store, error) {
	dsn, err := DSN(p)
	if err != nil {
		return nil, err
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

// SaveScript inserts or replaces a generated script.
func (s *Store) SaveScript(ctx context.Context, res *core.ScriptResult) error {
	if res == nil || res.ID == "" {
		return fmt.Errorf("script id is required")
	}
	host, err := json.Marshal(res.Host)
	if err != nil {
		return fmt.Errorf("marshal host: %w", err)
	}
	guest, err := json.Marshal(res.Guest)
	if err != nil {
		return fmt.Errorf("marshal guest: %w", err)
	}
	outline, err := json.Marshal(res.Outline)
	if err != nil {
		return fmt.Errorf("marshal outline: %w", err)
	}
	dialogue, err := json.Marshal(res.Dialogue)
	if err != nil {
		return fmt.Errorf("marshal dialogue: %w", err)
	}
	createdAt := res.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO scripts (id, source, reference, title, host, guest, outline, dialogue, line_count, report, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO UPDATE SET
  title      = EXCLUDED.title,
  host       = EXCLUDED.host,
  guest      = EXCLUDED.guest,
  outline    = EXCLUDED.outline,
  dialogue   = EXCLUDED.dialogue,
  line_count = EXCLUDED.line_count,
  report     = EXCLUDED.report;
`, res.ID, string(res.Source), res.Reference, res.Title, host, guest, outline, dialogue, len(res.Dialogue), res.Report, createdAt)
	return err
}

// GetScript loads a script. The bool indicates whether a record was found.
func (s *Store) GetScript(ctx context.Context, id string) (core.ScriptResult, bool, error) {
	var (
		res                            core.ScriptResult
		source                         string
		host, guest, outline, dialogue []byte
	)
	row := s.DB.QueryRowContext(ctx, `
SELECT id::text, source, reference, title, host, guest, outline, dialogue, report, created_at
FROM scripts
WHERE id = $1`, id)
	if err := row.Scan(&res.ID, &source, &res.Reference, &res.Title, &host, &guest, &outline, &dialogue, &res.Report, &res.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return core.ScriptResult{}, false, nil
		}
		return core.ScriptResult{}, false, err
	}
	res.Source = core.SourceKind(source)
	for _, col := range []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"host", host, &res.Host},
		{"guest", guest, &res.Guest},
		{"outline", outline, &res.Outline},
		{"dialogue", dialogue, &res.Dialogue},
	} {
		if len(col.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(col.raw, col.dst); err != nil {
			return core.ScriptResult{}, false, fmt.Errorf("decode script %s %s: %w", id, col.name, err)
		}
	}
	return res, true, nil
}

// ListScripts returns the newest scripts first.
func (s *Store) ListScripts(ctx context.Context, filter ScriptFilter) ([]ScriptSummary, error) {
	conditions := []string{"1=1"}
	var args []interface{}
	arg := func(value interface{}) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.Source != "" {
		conditions = append(conditions, fmt.Sprintf("source = %s", arg(string(filter.Source))))
	}
	if !filter.Before.IsZero() {
		conditions = append(conditions, fmt.Sprintf("created_at < %s", arg(filter.Before)))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := fmt.Sprintf(`
SELECT id::text, source, reference, title, line_count, created_at
FROM scripts
WHERE %s
ORDER BY created_at DESC
LIMIT %d`, strings.Join(conditions, " AND "), limit)
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScriptSummary
	for rows.Next() {
		var (
			sum    ScriptSummary
			source string
		)
		if err := rows.Scan(&sum.ID, &source, &sum.Reference, &sum.Title, &sum.Lines, &sum.CreatedAt); err != nil {
			return nil, err
		}
		sum.Source = core.SourceKind(source)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// DeleteScript removes a script, returning ErrNotFound when it does not exist.
func (s *Store) DeleteScript(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM scripts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveJob records a newly requested job.
func (s *Store) SaveJob(ctx context.Context, job JobRecord) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if job.Status == "" {
		job.Status = JobStatusQueued
	}
	request := job.Request
	if len(request) == 0 {
		request = json.RawMessage(`{}`)
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO jobs (id, source, reference, status, request, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW(),NOW())
ON CONFLICT (id) DO NOTHING;
`, job.ID, string(job.Source), job.Reference, job.Status, []byte(request))
	return err
}

// UpdateJobStatus moves a job to status. Empty scriptID, stage or errMsg leave the column NULL.
func (s *Store) UpdateJobStatus(ctx context.Context, id, status, scriptID, stage, errMsg string) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE jobs SET status=$2, script_id=NULLIF($3,'')::uuid, stage=NULLIF($4,''), error=NULLIF($5,''), updated_at=NOW()
WHERE id=$1`, id, status, scriptID, stage, errMsg)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetJob loads a job. The bool indicates whether a record was found.
func (s *Store) GetJob(ctx context.Context, id string) (JobRecord, bool, error) {
	var (
		job                     JobRecord
		source                  string
		request                 []byte
		scriptID, stage, errMsg sql.NullString
	)
	row := s.DB.QueryRowContext(ctx, `
SELECT id::text, source, reference, status, request, script_id::text, stage, error, created_at, updated_at
FROM jobs
WHERE id = $1`, id)
	if err := row.Scan(&job.ID, &source, &job.Reference, &job.Status, &request, &scriptID, &stage, &errMsg, &job.CreatedAt, &job.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return JobRecord{}, false, nil
		}
		return JobRecord{}, false, err
	}
	job.Source = core.SourceKind(source)
	job.Request = request
	job.ScriptID, job.Stage, job.Error = scriptID.String, stage.String, errMsg.String
	return job, true, nil
}

// ListJobsByStatus returns jobs in any of the given statuses, oldest first.
func (s *Store) ListJobsByStatus(ctx context.Context, statuses ...string) ([]JobRecord, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id::text, source, reference, status, request, created_at, updated_at
FROM jobs
WHERE status = ANY($1)
ORDER BY created_at ASC`, pq.Array(statuses))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []JobRecord
	for rows.Next() {
		var (
			job     JobRecord
			source  string
			request []byte
		)
		if err := rows.Scan(&job.ID, &source, &job.Reference, &job.Status, &request, &job.CreatedAt, &job.UpdatedAt); err != nil {
			return nil, err
		}
		job.Source = core.SourceKind(source)
		job.Request = request
		out = append(out, job)
	}
	return out, rows.Err()
}

// ClaimIdempotency records scope/key once. It reports false when the key was
// already claimed.
func (s *Store) ClaimIdempotency(ctx context.Context, scope, key string) (bool, error) {
	if scope == "" || key == "" {
		return false, fmt.Errorf("scope and key must be provided")
	}
	var inserted bool
	err := s.DB.QueryRowContext(ctx, `INSERT INTO idempotency_keys (scope, key) VALUES ($1,$2) ON CONFLICT DO NOTHING RETURNING true`, scope, key).Scan(&inserted)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return inserted, nil
}
