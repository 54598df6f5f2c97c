package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/mohammad-safakhou/podcaster/config"
	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Store{DB: db}, mock
}

func TestSaveScript(t *testing.T) {
	st, mock := newMock(t)
	res := &core.ScriptResult{
		ID:        "7f1c3f0e-6a3b-4f2e-9d7a-1f8d7a0b2c11",
		Source:    core.SourcePDF,
		Reference: "paper.pdf",
		Title:     "Episode",
		Host:      core.Identity{Name: "主持人"},
		Guest:     core.Identity{Name: "來賓"},
		Dialogue: []core.DialogueLine{
			{Speaker: core.SpeakerHost, Name: "主持人", Text: "hi"},
			{Speaker: core.SpeakerGuest, Name: "來賓", Text: "hello"},
		},
		CreatedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO scripts (id, source, reference, title, host, guest, outline, dialogue, line_count, report, created_at)`)).
		WithArgs(res.ID, "pdf", "paper.pdf", "Episode", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			[]byte(`[{"role":"host","speaker":"主持人","content":"hi"},{"role":"guest","speaker":"來賓","content":"hello"}]`),
			2, "", res.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.SaveScript(context.Background(), res); err != nil {
		t.Fatalf("SaveScript: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveScriptRequiresID(t *testing.T) {
	st, _ := newMock(t)
	if err := st.SaveScript(context.Background(), &core.ScriptResult{}); err == nil {
		t.Fatalf("expected error for missing id")
	}
}

func TestGetScript(t *testing.T) {
	st, mock := newMock(t)
	created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "source", "reference", "title", "host", "guest", "outline", "dialogue", "report", "created_at"}).
		AddRow("s-1", "arxiv", "https://arxiv.org/abs/1", "T",
			[]byte(`{"name":"A","background":"a"}`), []byte(`{"name":"B","background":"b"}`),
			[]byte(`{"title":"T","plan":[{"subplan_num":"結尾段","main_topic":"m","key_points":"k"}]}`),
			[]byte(`[{"role":"guest","speaker":"B","content":"x"}]`), "report", created)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM scripts`)).WithArgs("s-1").WillReturnRows(rows)

	res, ok, err := st.GetScript(context.Background(), "s-1")
	if err != nil || !ok {
		t.Fatalf("GetScript: ok=%v err=%v", ok, err)
	}
	if res.Source != core.SourceArxiv || res.Host.Name != "A" || res.Guest.Background != "b" {
		t.Fatalf("unexpected header %+v", res)
	}
	if len(res.Dialogue) != 1 || res.Dialogue[0].Speaker != core.SpeakerGuest {
		t.Fatalf("dialogue not decoded: %+v", res.Dialogue)
	}
	if !res.Outline.Sections[0].IsClosing() {
		t.Fatalf("outline not decoded: %+v", res.Outline)
	}
}

func TestGetScriptMissing(t *testing.T) {
	st, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM scripts`)).WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	_, ok, err := st.GetScript(context.Background(), "nope")
	if err != nil || ok {
		t.Fatalf("expected not found, got ok=%v err=%v", ok, err)
	}
}

func TestListScriptsFilters(t *testing.T) {
	st, mock := newMock(t)
	before := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE 1=1 AND source = $1 AND created_at < $2
ORDER BY created_at DESC
LIMIT 50`)).
		WithArgs("prompt", before).
		WillReturnRows(sqlmock.NewRows([]string{"id", "source", "reference", "title", "line_count", "created_at"}).
			AddRow("s-1", "prompt", "topic", "T", 12, before.Add(-time.Hour)))

	out, err := st.ListScripts(context.Background(), ScriptFilter{Source: core.SourcePrompt, Before: before, Limit: 1000})
	if err != nil {
		t.Fatalf("ListScripts: %v", err)
	}
	if len(out) != 1 || out[0].Lines != 12 || out[0].Source != core.SourcePrompt {
		t.Fatalf("unexpected summaries %+v", out)
	}
}

func TestDeleteScript(t *testing.T) {
	st, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM scripts WHERE id = $1`)).WithArgs("s-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM scripts WHERE id = $1`)).WithArgs("s-2").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := st.DeleteScript(context.Background(), "s-1"); err != nil {
		t.Fatalf("DeleteScript: %v", err)
	}
	if err := st.DeleteScript(context.Background(), "s-2"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestJobLifecycle(t *testing.T) {
	st, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO jobs (id, source, reference, status, request, created_at, updated_at)`)).
		WithArgs("j-1", "arxiv", "https://arxiv.org/abs/1", JobStatusQueued, []byte(`{}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE jobs SET status=$2`)).
		WithArgs("j-1", JobStatusFailed, "", "read_source", "boom").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE jobs SET status=$2`)).
		WithArgs("j-404", JobStatusRunning, "", "", "").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := st.SaveJob(ctx, JobRecord{ID: "j-1", Source: core.SourceArxiv, Reference: "https://arxiv.org/abs/1"}); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}
	if err := st.UpdateJobStatus(ctx, "j-1", JobStatusFailed, "", "read_source", "boom"); err != nil {
		t.Fatalf("UpdateJobStatus: %v", err)
	}
	if err := st.UpdateJobStatus(ctx, "j-404", JobStatusRunning, "", "", ""); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetJobNullColumns(t *testing.T) {
	st, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM jobs`)).WithArgs("j-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "source", "reference", "status", "request", "script_id", "stage", "error", "created_at", "updated_at"}).
			AddRow("j-1", "pdf", "a.pdf", JobStatusQueued, []byte(`{}`), nil, nil, nil, now, now))

	job, ok, err := st.GetJob(context.Background(), "j-1")
	if err != nil || !ok {
		t.Fatalf("GetJob: ok=%v err=%v", ok, err)
	}
	if job.ScriptID != "" || job.Stage != "" || job.Source != core.SourcePDF {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestClaimIdempotency(t *testing.T) {
	st, mock := newMock(t)
	q := regexp.QuoteMeta(`INSERT INTO idempotency_keys (scope, key) VALUES ($1,$2) ON CONFLICT DO NOTHING RETURNING true`)
	mock.ExpectQuery(q).WithArgs("podcast.job.requested", "e-1").WillReturnRows(sqlmock.NewRows([]string{"bool"}).AddRow(true))
	mock.ExpectQuery(q).WithArgs("podcast.job.requested", "e-1").WillReturnRows(sqlmock.NewRows([]string{"bool"}))

	ok, err := st.ClaimIdempotency(context.Background(), "podcast.job.requested", "e-1")
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	ok, err = st.ClaimIdempotency(context.Background(), "podcast.job.requested", "e-1")
	if err != nil || ok {
		t.Fatalf("second claim: ok=%v err=%v", ok, err)
	}
}

func TestDSN(t *testing.T) {
	t.Parallel()
	got, err := DSN(config.PostgresConfig{Host: "db", User: "u", Password: "p", DBName: "podcaster"})
	if err != nil {
		t.Fatalf("DSN: %v", err)
	}
	if got != "postgres://u:p@db:5432/podcaster?sslmode=disable" {
		t.Fatalf("unexpected dsn %q", got)
	}
	if _, err := DSN(config.PostgresConfig{Host: "db"}); err == nil {
		t.Fatalf("expected error without dbname")
	}
	if got, _ := DSN(config.PostgresConfig{URL: "postgres://x"}); got != "postgres://x" {
		t.Fatalf("url must win, got %q", got)
	}
}

func TestMigrateRequiresDSN(t *testing.T) {
	if err := Migrate("file://../../migrations", "", "up", 0); err == nil {
		t.Fatalf("expected missing dsn error")
	}
}
