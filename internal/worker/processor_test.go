package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
	"github.com/mohammad-safakhou/podcaster/internal/agent/pipeline"
	"github.com/mohammad-safakhou/podcaster/internal/queue/streams"
	"github.com/mohammad-safakhou/podcaster/internal/store"
)

const (
	jobsStream   = "podcast.jobs"
	eventsStream = "podcast.events"
)

type memStore struct {
	mu      sync.Mutex
	claimed map[string]bool
	jobs    map[string]store.JobRecord
	scripts map[string]*core.ScriptResult
}

func newMemStore() *memStore {
	return &memStore{claimed: map[string]bool{}, jobs: map[string]store.JobRecord{}, scripts: map[string]*core.ScriptResult{}}
}

func (m *memStore) ClaimIdempotency(ctx context.Context, scope, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimed[scope+"/"+key] {
		return false, nil
	}
	m.claimed[scope+"/"+key] = true
	return true, nil
}

func (m *memStore) SaveJob(ctx context.Context, job store.JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		if job.Status == "" {
			job.Status = store.JobStatusQueued
		}
		m.jobs[job.ID] = job
	}
	return nil
}

func (m *memStore) GetJob(ctx context.Context, id string) (store.JobRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	return job, ok, nil
}

func (m *memStore) UpdateJobStatus(ctx context.Context, id, status, scriptID, stage, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	job.Status, job.ScriptID, job.Stage, job.Error = status, scriptID, stage, errMsg
	m.jobs[id] = job
	return nil
}

func (m *memStore) SaveScript(ctx context.Context, res *core.ScriptResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[res.ID] = res
	return nil
}

func (m *memStore) claimedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.claimed)
}

func (m *memStore) job(id string) store.JobRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id]
}

type stubPipelines struct {
	mu     sync.Mutex
	calls  []string
	err    error
	prompt pipeline.PromptInput
}

func (s *stubPipelines) result(src core.SourceKind, ref string) (*core.ScriptResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, string(src))
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return &core.ScriptResult{
		ID:        uuid.NewString(),
		Source:    src,
		Reference: ref,
		Title:     "Episode",
		Dialogue: []core.DialogueLine{
			{Speaker: core.SpeakerHost, Name: "主持人", Text: "歡迎收聽"},
			{Speaker: core.SpeakerGuest, Name: "來賓", Text: "謝謝邀請"},
		},
	}, nil
}

func (s *stubPipelines) FromPrompt(ctx context.Context, in pipeline.PromptInput) (*core.ScriptResult, error) {
	s.mu.Lock()
	s.prompt = in
	s.mu.Unlock()
	return s.result(core.SourcePrompt, in.Topic)
}

func (s *stubPipelines) FromPDF(ctx context.Context, in pipeline.PDFInput) (*core.ScriptResult, error) {
	return s.result(core.SourcePDF, in.Path)
}

func (s *stubPipelines) FromArxiv(ctx context.Context, in pipeline.ArxivInput) (*core.ScriptResult, error) {
	return s.result(core.SourceArxiv, in.URL)
}

func (s *stubPipelines) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type harness struct {
	client *redis.Client
	queue  *streams.JobQueue
	store  *memStore
	pipes  *stubPipelines
	proc   *Processor
}

func newHarness(t *testing.T, pipes *stubPipelines) *harness {
	t.Helper()
	return newHarnessWith(t, pipes, nil, Options{Block: 20 * time.Millisecond})
}

// newHarnessWith lets a test wrap the in-memory store; wrap may be nil.
func newHarnessWith(t *testing.T, pipes *stubPipelines, wrap func(*memStore) StoreAPI, opts Options) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	reg, err := streams.NewBaseRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if err := streams.EnsureGroup(context.Background(), client, jobsStream, "workers"); err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}
	pub := streams.NewPublisher(client, reg, 0)
	queue := streams.NewJobQueue(pub, jobsStream, eventsStream)
	st := newMemStore()
	var api StoreAPI = st
	if wrap != nil {
		api = wrap(st)
	}
	cons := streams.NewConsumer(client, reg, "workers", "w-test", nil)
	proc := NewProcessor(nil, api, pipes, cons, queue, jobsStream, opts, nil, nil)
	return &harness{client: client, queue: queue, store: st, pipes: pipes, proc: proc}
}

func (h *harness) run(t *testing.T, until func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.proc.Start(ctx) }()
	deadline := time.Now().Add(3 * time.Second)
	for !until() {
		if time.Now().After(deadline) {
			cancel()
			<-done
			t.Fatalf("condition not reached before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func (h *harness) events(t *testing.T) []streams.Envelope {
	t.Helper()
	entries, err := h.client.XRange(context.Background(), eventsStream, "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange: %v", err)
	}
	out := make([]streams.Envelope, 0, len(entries))
	for _, e := range entries {
		raw, _ := e.Values["envelope"].(string)
		env, err := streams.UnmarshalEnvelope([]byte(raw))
		if err != nil {
			t.Fatalf("decode event: %v", err)
		}
		out = append(out, env)
	}
	return out
}

func TestProcessorCompletesJob(t *testing.T) {
	h := newHarness(t, &stubPipelines{})
	jobID := uuid.NewString()
	_, err := h.queue.Enqueue(context.Background(), streams.JobRequestedPayload{
		JobID:     jobID,
		Source:    "prompt",
		Reference: "台灣的 LLM 發展",
		Host:      &streams.IdentityPayload{Name: "Ann", Background: "host"},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	h.run(t, func() bool { return h.store.job(jobID).Status == store.JobStatusCompleted })

	job := h.store.job(jobID)
	if job.ScriptID == "" || h.store.scripts[job.ScriptID] == nil {
		t.Fatalf("completed job must reference a saved script: %+v", job)
	}
	if h.pipes.prompt.Topic != "台灣的 LLM 發展" || h.pipes.prompt.Speakers.Host.Name != "Ann" {
		t.Fatalf("payload not mapped to pipeline input: %+v", h.pipes.prompt)
	}
	evs := h.events(t)
	if len(evs) != 1 || evs[0].EventType != streams.EventJobCompleted {
		t.Fatalf("expected one completion event, got %+v", evs)
	}
	var done streams.JobCompletedPayload
	if err := evs[0].Decode(&done); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if done.JobID != jobID || done.Lines != 2 {
		t.Fatalf("unexpected completion payload %+v", done)
	}
	pending, _ := h.client.XPending(context.Background(), jobsStream, "workers").Result()
	if pending.Count != 0 {
		t.Fatalf("job entry should be acked, %d pending", pending.Count)
	}
}

func TestProcessorRecordsFailedStage(t *testing.T) {
	pipes := &stubPipelines{err: &core.StageError{Stage: core.StageSummarize, Err: errors.New("model down")}}
	h := newHarness(t, pipes)
	jobID := uuid.NewString()
	if _, err := h.queue.Enqueue(context.Background(), streams.JobRequestedPayload{JobID: jobID, Source: "pdf", Reference: "/tmp/a.pdf"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	h.run(t, func() bool { return h.store.job(jobID).Status == store.JobStatusFailed })

	job := h.store.job(jobID)
	if job.Stage != core.StageSummarize || job.Error == "" {
		t.Fatalf("failed job should carry the stage: %+v", job)
	}
	evs := h.events(t)
	if len(evs) != 1 || evs[0].EventType != streams.EventJobFailed {
		t.Fatalf("expected one failure event, got %+v", evs)
	}
	var failed streams.JobFailedPayload
	_ = evs[0].Decode(&failed)
	if failed.Stage != core.StageSummarize {
		t.Fatalf("unexpected failure payload %+v", failed)
	}
}

func TestProcessorSkipsSettledJobs(t *testing.T) {
	h := newHarness(t, &stubPipelines{})
	jobID := uuid.NewString()
	_ = h.store.SaveJob(context.Background(), store.JobRecord{ID: jobID, Source: core.SourceArxiv, Status: store.JobStatusCompleted})

	if _, err := h.queue.Enqueue(context.Background(), streams.JobRequestedPayload{JobID: jobID, Source: "arxiv", Reference: "https://arxiv.org/abs/2401.00001"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	h.run(t, func() bool {
		pending, err := h.client.XPending(context.Background(), jobsStream, "workers").Result()
		n, _ := h.client.XLen(context.Background(), jobsStream).Result()
		return err == nil && pending.Count == 0 && n == 1 && h.store.claimedCount() == 1
	})
	if h.pipes.callCount() != 0 {
		t.Fatalf("settled job must not run again")
	}
}

func TestProcessorRejectsUnknownSource(t *testing.T) {
	h := newHarness(t, &stubPipelines{})
	jobID := uuid.NewString()
	rec := store.JobRecord{ID: jobID, Source: "rss"}
	_ = h.store.SaveJob(context.Background(), rec)

	msg := streams.Message{ID: "1-1", Envelope: streams.Envelope{EventID: uuid.NewString(), EventType: streams.EventJobRequested, PayloadVersion: streams.PayloadVersionV1, Data: []byte(`{"job_id":"` + jobID + `","source":"rss","reference":"x"}`)}}
	err := h.proc.handleJob(context.Background(), msg, true)
	if !errors.Is(err, pipeline.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if got := h.store.job(jobID); got.Status != store.JobStatusFailed {
		t.Fatalf("job should be marked failed, got %q", got.Status)
	}
}

func TestProcessorDeduplicatesEventIDs(t *testing.T) {
	h := newHarness(t, &stubPipelines{})
	jobID := uuid.NewString()
	env := streams.Envelope{EventID: uuid.NewString(), EventType: streams.EventJobRequested, PayloadVersion: streams.PayloadVersionV1, Data: []byte(`{"job_id":"` + jobID + `","source":"prompt","reference":"topic"}`)}
	msg := streams.Message{ID: "1-1", Envelope: env}

	if err := h.proc.handleJob(context.Background(), msg, true); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	// reset status so only the idempotency key can stop the rerun
	_ = h.store.UpdateJobStatus(context.Background(), jobID, store.JobStatusRunning, "", "", "")
	if err := h.proc.handleJob(context.Background(), msg, true); err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if h.pipes.callCount() != 1 {
		t.Fatalf("duplicate delivery ran the pipeline again: %d calls", h.pipes.callCount())
	}
}

func TestProcessorReportsBacklog(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &stubPipelines{})
	for i := 0; i < 2; i++ {
		if _, err := h.queue.Enqueue(ctx, streams.JobRequestedPayload{JobID: uuid.NewString(), Source: "prompt", Reference: "topic"}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	reg, _ := streams.NewBaseRegistry()
	cons := streams.NewConsumer(h.client, reg, "workers", "w-metrics", nil)
	if _, err := cons.Read(ctx, jobsStream, streams.Batch{Count: 1, Block: 10 * time.Millisecond}); err != nil {
		t.Fatalf("Read: %v", err)
	}

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(ctx) })
	NewProcessor(nil, h.store, h.pipes, cons, h.queue, jobsStream, Options{}, mp.Meter("test"), nil)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "podcaster_worker_backlog" {
				continue
			}
			gauge, ok := m.Data.(metricdata.Gauge[int64])
			if !ok {
				t.Fatalf("unexpected data type %T", m.Data)
			}
			for _, dp := range gauge.DataPoints {
				if v, ok := dp.Attributes.Value("state"); ok && v.AsString() == "pending" && dp.Value == 1 {
					return
				}
			}
			t.Fatalf("pending backlog not reported: %+v", gauge.DataPoints)
		}
	}
	t.Fatalf("podcaster_worker_backlog not collected")
}

// flakyStore fails the first GetJob calls the way a dropped connection would.
type flakyStore struct {
	*memStore
	mu    sync.Mutex
	fails int
}

func (f *flakyStore) GetJob(ctx context.Context, id string) (store.JobRecord, bool, error) {
	f.mu.Lock()
	if f.fails > 0 {
		f.fails--
		f.mu.Unlock()
		return store.JobRecord{}, false, errors.New("connection reset")
	}
	f.mu.Unlock()
	return f.memStore.GetJob(ctx, id)
}

func TestProcessorRetriesJobAfterStoreError(t *testing.T) {
	h := newHarnessWith(t, &stubPipelines{}, func(m *memStore) StoreAPI {
		return &flakyStore{memStore: m, fails: 1}
	}, Options{Block: 20 * time.Millisecond, ReclaimIdle: 30 * time.Millisecond})
	jobID := uuid.NewString()
	if _, err := h.queue.Enqueue(context.Background(), streams.JobRequestedPayload{JobID: jobID, Source: "prompt", Reference: "topic"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	h.run(t, func() bool {
		pending, err := h.client.XPending(context.Background(), jobsStream, "workers").Result()
		return err == nil && pending.Count == 0 && h.store.job(jobID).Status == store.JobStatusCompleted
	})

	if h.pipes.callCount() != 1 {
		t.Fatalf("expected one pipeline run, got %d", h.pipes.callCount())
	}
}

func TestProcessorFailsJobAfterStoreErrorWithoutReclaim(t *testing.T) {
	h := newHarnessWith(t, &stubPipelines{}, func(m *memStore) StoreAPI {
		return &flakyStore{memStore: m, fails: 1}
	}, Options{Block: 20 * time.Millisecond})
	jobID := uuid.NewString()
	_ = h.store.SaveJob(context.Background(), store.JobRecord{ID: jobID, Source: core.SourcePrompt})
	if _, err := h.queue.Enqueue(context.Background(), streams.JobRequestedPayload{JobID: jobID, Source: "prompt", Reference: "topic"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	h.run(t, func() bool { return h.store.job(jobID).Status == store.JobStatusFailed })

	if h.pipes.callCount() != 0 {
		t.Fatalf("pipeline must not run when the job could not be loaded")
	}
	evs := h.events(t)
	if len(evs) != 1 || evs[0].EventType != streams.EventJobFailed {
		t.Fatalf("expected one failure event, got %+v", evs)
	}
}
