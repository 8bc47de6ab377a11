package scheduler_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"telegram-ai-subscription/internal/bigcontext/scheduler"
	"telegram-ai-subscription/internal/domain"
	"telegram-ai-subscription/internal/domain/model"
	"telegram-ai-subscription/internal/domain/ports/adapter"
	"telegram-ai-subscription/internal/domain/ports/repository"
)

// ---------------- in-memory JobStore fake ----------------

type memJobStore struct {
	mu     sync.Mutex
	job    *model.Job
	chunks map[int]*model.Chunk
}

func newMemJobStore(job *model.Job, chunks []*model.Chunk) *memJobStore {
	m := &memJobStore{job: job, chunks: map[int]*model.Chunk{}}
	for _, c := range chunks {
		m.chunks[c.Index] = c
	}
	return m
}

func (m *memJobStore) InsertJob(ctx context.Context, tx repository.Tx, j *model.Job) error { return nil }
func (m *memJobStore) InsertChunks(ctx context.Context, tx repository.Tx, chunks []*model.Chunk) error {
	return nil
}

func (m *memJobStore) GetJob(ctx context.Context, tx repository.Tx, jobID string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.job
	return &cp, nil
}
func (m *memJobStore) FindJobsByChat(ctx context.Context, tx repository.Tx, chatID string, status model.JobStatus) ([]*model.Job, error) {
	return nil, nil
}
func (m *memJobStore) LatestActiveJobByChat(ctx context.Context, tx repository.Tx, chatID string) (*model.Job, error) {
	return nil, nil
}
func (m *memJobStore) FinalizeJob(ctx context.Context, tx repository.Tx, jobID string, status model.JobStatus, out *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.job.Status = status
	m.job.StitchedOutput = out
	return nil
}
func (m *memJobStore) SetJobStatus(ctx context.Context, tx repository.Tx, jobID string, status model.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.job.Status = status
	return nil
}
func (m *memJobStore) IncrementCompletedChunks(ctx context.Context, tx repository.Tx, jobID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.job.CompletedChunks++
	return m.job.CompletedChunks, nil
}
func (m *memJobStore) RecountCompletedChunks(ctx context.Context, tx repository.Tx, jobID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.chunks {
		if c.Status == model.ChunkCompleted {
			n++
		}
	}
	return n, nil
}
func (m *memJobStore) SetCompletedChunks(ctx context.Context, tx repository.Tx, jobID string, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.job.CompletedChunks = n
	return nil
}
func (m *memJobStore) ListChunks(ctx context.Context, tx repository.Tx, jobID string) ([]*model.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Chunk, 0, len(m.chunks))
	for _, c := range m.chunks {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}
func (m *memJobStore) GetChunk(ctx context.Context, tx repository.Tx, jobID string, index int) (*model.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chunks[index]
	if !ok {
		return nil, domain.ErrChunkNotFound
	}
	cp := *c
	return &cp, nil
}
func (m *memJobStore) FindChunksByStatus(ctx context.Context, tx repository.Tx, jobID string, statuses ...model.ChunkStatus) ([]*model.Chunk, error) {
	return nil, nil
}
func (m *memJobStore) SetChunkProcessing(ctx context.Context, tx repository.Tx, jobID string, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chunks[index]
	if !ok {
		return domain.ErrChunkNotFound
	}
	c.Status = model.ChunkProcessing
	return nil
}
func (m *memJobStore) CompleteChunk(ctx context.Context, tx repository.Tx, jobID string, index int, output string, tokens int, cost float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chunks[index]
	if !ok {
		return domain.ErrChunkNotFound
	}
	c.Status = model.ChunkCompleted
	c.OutputText = &output
	c.Tokens = tokens
	c.Cost = cost
	return nil
}
func (m *memJobStore) FailChunk(ctx context.Context, tx repository.Tx, jobID string, index int, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chunks[index]
	if !ok {
		return domain.ErrChunkNotFound
	}
	c.Status = model.ChunkFailed
	c.Error = &errMsg
	return nil
}
func (m *memJobStore) CancelChunks(ctx context.Context, tx repository.Tx, jobID string, statuses ...model.ChunkStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.chunks {
		for _, s := range statuses {
			if c.Status == s {
				c.Status = model.ChunkCancelled
				n++
				break
			}
		}
	}
	return n, nil
}
func (m *memJobStore) ResetChunksToPending(ctx context.Context, tx repository.Tx, jobID string, indexes []int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range indexes {
		if c, ok := m.chunks[i]; ok {
			c.Status = model.ChunkPending
		}
	}
	return nil
}

// ---------------- fake RemoteClient ----------------

type fakeRemote struct {
	calls int32
	fail  bool
}

func (f *fakeRemote) Complete(ctx context.Context, modelID string, messages []adapter.Message, maxTokens int) (string, string, adapter.Usage, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if f.fail {
		return "", "", adapter.Usage{}, &adapter.RemoteError{Kind: adapter.ErrKindServerError, Err: fmt.Errorf("boom")}
	}
	_ = n
	return "output", "stop", adapter.Usage{TotalTokens: 10}, nil
}

func (f *fakeRemote) CountTokens(ctx context.Context, modelID string, messages []adapter.Message) (int, error) {
	return 10, nil
}

// rateLimitedOnceRemote fails with rate-limited on the first call for a
// given chunk index and succeeds thereafter, exercising the retry path.
type rateLimitedOnceRemote struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (r *rateLimitedOnceRemote) Complete(ctx context.Context, modelID string, messages []adapter.Message, maxTokens int) (string, string, adapter.Usage, error) {
	key := messages[len(messages)-1].Content
	r.mu.Lock()
	first := !r.seen[key]
	r.seen[key] = true
	r.mu.Unlock()
	if first {
		return "", "", adapter.Usage{}, &adapter.RemoteError{Kind: adapter.ErrKindRateLimited, Err: fmt.Errorf("429")}
	}
	return "ok", "stop", adapter.Usage{TotalTokens: 5}, nil
}

func (r *rateLimitedOnceRemote) CountTokens(ctx context.Context, modelID string, messages []adapter.Message) (int, error) {
	return 5, nil
}

func newJob(total int) (*model.Job, []*model.Chunk) {
	job := &model.Job{ID: "job-1", ChatID: "chat-1", Status: model.JobProcessing, TotalChunks: total, ModelID: "gpt-4o-mini"}
	chunks := make([]*model.Chunk, total)
	for i := 0; i < total; i++ {
		chunks[i] = &model.Chunk{ID: fmt.Sprintf("c-%d", i), JobID: job.ID, Index: i, InputText: fmt.Sprintf("text-%d", i), Status: model.ChunkPending}
	}
	return job, chunks
}

func silentLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// TestSchedulerConcurrencyBound verifies no more than MAX_CONCURRENCY
// chunks are in flight simultaneously (P6).
func TestSchedulerConcurrencyBound(t *testing.T) {
	job, chunks := newJob(20)
	store := newMemJobStore(job, chunks)

	var inFlight, maxObserved int32
	remote := &trackingRemote{onCall: func() {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			cur := atomic.LoadInt32(&maxObserved)
			if n <= cur || atomic.CompareAndSwapInt32(&maxObserved, cur, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
	}}

	sched := scheduler.New(store, remote, silentLogger(), 3, 3, time.Millisecond)
	indexes := make([]int, 20)
	for i := range indexes {
		indexes[i] = i
	}
	if err := sched.Run(context.Background(), scheduler.RunParams{
		JobID: job.ID, Instruction: "summarize", ModelID: job.ModelID, TotalChunks: 20, Indexes: indexes,
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if maxObserved > 3 {
		t.Fatalf("observed %d concurrent calls, want <= 3", maxObserved)
	}
}

type trackingRemote struct {
	onCall func()
}

func (t *trackingRemote) Complete(ctx context.Context, modelID string, messages []adapter.Message, maxTokens int) (string, string, adapter.Usage, error) {
	t.onCall()
	return "ok", "stop", adapter.Usage{TotalTokens: 1}, nil
}
func (t *trackingRemote) CountTokens(ctx context.Context, modelID string, messages []adapter.Message) (int, error) {
	return 1, nil
}

// TestSchedulerCompletionAccounting verifies every chunk ends terminal
// and CompletedChunks matches the number dispatched (P7), including the
// rule that a terminal failure still increments the counter.
func TestSchedulerCompletionAccounting(t *testing.T) {
	job, chunks := newJob(4)
	store := newMemJobStore(job, chunks)
	remote := &fakeRemote{fail: true}

	sched := scheduler.New(store, remote, silentLogger(), 5, 0, time.Millisecond)
	indexes := []int{0, 1, 2, 3}
	if err := sched.Run(context.Background(), scheduler.RunParams{
		JobID: job.ID, Instruction: "x", ModelID: job.ModelID, TotalChunks: 4, Indexes: indexes,
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	list, _ := store.ListChunks(context.Background(), nil, job.ID)
	for _, c := range list {
		if !c.IsTerminal() {
			t.Fatalf("chunk %d not terminal: %s", c.Index, c.Status)
		}
	}
	if job.CompletedChunks != 4 {
		t.Fatalf("CompletedChunks = %d, want 4 (terminal failures still count)", job.CompletedChunks)
	}
}

// TestSchedulerRetriesRateLimitedOnly verifies a rate-limited failure is
// retried and eventually succeeds without exhausting max retries.
func TestSchedulerRetriesRateLimitedOnly(t *testing.T) {
	job, chunks := newJob(1)
	store := newMemJobStore(job, chunks)
	remote := &rateLimitedOnceRemote{seen: map[string]bool{}}

	sched := scheduler.New(store, remote, silentLogger(), 1, 3, time.Millisecond)
	if err := sched.Run(context.Background(), scheduler.RunParams{
		JobID: job.ID, Instruction: "x", ModelID: job.ModelID, TotalChunks: 1, Indexes: []int{0},
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	c, _ := store.GetChunk(context.Background(), nil, job.ID, 0)
	if c.Status != model.ChunkCompleted {
		t.Fatalf("chunk status = %s, want completed after retry", c.Status)
	}
}

// TestSchedulerStopsLaunchingWhenCancelled verifies the dispatcher does
// not launch further chunks once the job is observed as cancelled.
func TestSchedulerStopsLaunchingWhenCancelled(t *testing.T) {
	job, chunks := newJob(5)
	job.Status = model.JobCancelled
	store := newMemJobStore(job, chunks)
	remote := &fakeRemote{}

	sched := scheduler.New(store, remote, silentLogger(), 5, 0, time.Millisecond)
	indexes := []int{0, 1, 2, 3, 4}
	_ = sched.Run(context.Background(), scheduler.RunParams{
		JobID: job.ID, Instruction: "x", ModelID: job.ModelID, TotalChunks: 5, Indexes: indexes,
	})

	if atomic.LoadInt32(&remote.calls) != 0 {
		t.Fatalf("expected no remote calls once job is cancelled, got %d", remote.calls)
	}
	list, _ := store.ListChunks(context.Background(), nil, job.ID)
	for _, c := range list {
		if c.Status != model.ChunkCancelled {
			t.Fatalf("chunk %d = %s, want cancelled", c.Index, c.Status)
		}
	}
}
