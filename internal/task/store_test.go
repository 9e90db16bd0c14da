package task

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/joshjon/kit/log"
	"github.com/joshjon/kit/tx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fuel/internal/review"
)

// mockRepository is an in-memory Repository used to exercise Store logic
// without a real database.
type mockRepository struct {
	mu     sync.Mutex
	nextID int64
	tasks  map[int64]*Task
}

func newMockRepo() *mockRepository {
	return &mockRepository{tasks: make(map[int64]*Task)}
}

func (m *mockRepository) Create(_ context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	t.ID = m.nextID
	if t.Short == "" {
		t.Short = ShortIDPrefix + string(rune('a'+int(m.nextID)))
	}
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *mockRepository) Read(_ context.Context, id int64) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrTagNotFound{}
	}
	cp := *t
	return &cp, nil
}

func (m *mockRepository) ReadByShort(_ context.Context, short string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.Short == short {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrTagNotFound{}
}

func (m *mockRepository) FindByPrefix(_ context.Context, prefix string) ([]*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Task
	for _, t := range m.tasks {
		if len(t.Short) >= len(prefix) && t.Short[:len(prefix)] == prefix {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockRepository) List(_ context.Context) ([]*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Task
	for _, t := range m.tasks {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockRepository) ListByEpic(_ context.Context, epicID string) ([]*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Task
	for _, t := range m.tasks {
		if t.EpicID == epicID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockRepository) ListByStatus(_ context.Context, statuses ...Status) ([]*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[Status]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []*Task
	for _, t := range m.tasks {
		if want[t.Status] {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockRepository) Update(_ context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; !ok {
		return ErrTagNotFound{}
	}
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *mockRepository) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
	return nil
}

func (m *mockRepository) AddDependency(_ context.Context, id int64, blockerShort string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return ErrTagNotFound{}
	}
	t.BlockedBy = append(t.BlockedBy, blockerShort)
	return nil
}

func (m *mockRepository) RemoveDependency(_ context.Context, id int64, blockerShort string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return ErrTagNotFound{}
	}
	kept := t.BlockedBy[:0]
	for _, b := range t.BlockedBy {
		if b != blockerShort {
			kept = append(kept, b)
		}
	}
	t.BlockedBy = kept
	return nil
}

func (m *mockRepository) Claim(_ context.Context, id int64, pid int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status != StatusOpen {
		return false, nil
	}
	t.Status = StatusInProgress
	t.Consumed = true
	t.ConsumePID = pid
	return true, nil
}

func (m *mockRepository) Release(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return ErrTagNotFound{}
	}
	t.Consumed = false
	t.ConsumePID = 0
	t.ConsumedAt = nil
	return nil
}

func (m *mockRepository) Heartbeat(_ context.Context, id int64) error { return nil }

func (m *mockRepository) ListStaleInProgress(_ context.Context, before time.Time) ([]*Task, error) {
	return nil, nil
}

func (m *mockRepository) BeginTxFunc(ctx context.Context, fn func(context.Context, tx.Tx, Repository) error) error {
	return fn(ctx, nil, m)
}

func newTestStore() (*Store, *mockRepository) {
	repo := newMockRepo()
	return NewStore(repo, nil, log.NewLogger(log.WithDevelopment())), repo
}

// mockReviewRepository is a minimal in-memory review.Repository for
// exercising Store.Done's review-closing side effect.
type mockReviewRepository struct {
	byTaskID map[int64]*review.Review
}

func newMockReviewRepo() *mockReviewRepository {
	return &mockReviewRepository{byTaskID: make(map[int64]*review.Review)}
}

func (m *mockReviewRepository) Create(_ context.Context, r *review.Review) error {
	r.ID = int64(len(m.byTaskID) + 1)
	m.byTaskID[r.TaskID] = r
	return nil
}

func (m *mockReviewRepository) Read(_ context.Context, id int64) (*review.Review, error) {
	for _, r := range m.byTaskID {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, review.ErrTagNotFound{}
}

func (m *mockReviewRepository) ReadLatestForTask(_ context.Context, taskID int64) (*review.Review, error) {
	r, ok := m.byTaskID[taskID]
	if !ok {
		return nil, review.ErrTagNotFound{}
	}
	return r, nil
}

func (m *mockReviewRepository) Update(_ context.Context, r *review.Review) error {
	m.byTaskID[r.TaskID] = r
	return nil
}

func newTestStoreWithReviews() (*Store, *mockRepository, *mockReviewRepository) {
	repo := newMockRepo()
	reviews := newMockReviewRepo()
	return NewStore(repo, reviews, log.NewLogger(log.WithDevelopment())), repo, reviews
}

func TestAddDependency_RejectsDirectCycle(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	a := New("a", "", TypeTask, 2, ComplexitySimple)
	b := New("b", "", TypeTask, 2, ComplexitySimple)
	require.NoError(t, s.Create(ctx, a))
	require.NoError(t, s.Create(ctx, b))

	require.NoError(t, s.AddDependency(ctx, a.Short, b.Short))
	err := s.AddDependency(ctx, b.Short, a.Short)
	require.Error(t, err)
	assert.ErrorAs(t, err, &ErrTagCycleDetected{})
}

func TestAddDependency_RejectsTransitiveCycle(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	a := New("a", "", TypeTask, 2, ComplexitySimple)
	b := New("b", "", TypeTask, 2, ComplexitySimple)
	c := New("c", "", TypeTask, 2, ComplexitySimple)
	require.NoError(t, s.Create(ctx, a))
	require.NoError(t, s.Create(ctx, b))
	require.NoError(t, s.Create(ctx, c))

	require.NoError(t, s.AddDependency(ctx, a.Short, b.Short))
	require.NoError(t, s.AddDependency(ctx, b.Short, c.Short))

	err := s.AddDependency(ctx, c.Short, a.Short)
	require.Error(t, err)
	assert.ErrorAs(t, err, &ErrTagCycleDetected{})
}

func TestAddDependency_SelfDependencyRejected(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	a := New("a", "", TypeTask, 2, ComplexitySimple)
	require.NoError(t, s.Create(ctx, a))

	err := s.AddDependency(ctx, a.Short, a.Short)
	require.Error(t, err)
	assert.ErrorAs(t, err, &ErrTagCycleDetected{})
}

func TestRemoveDependency_Idempotent(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	a := New("a", "", TypeTask, 2, ComplexitySimple)
	b := New("b", "", TypeTask, 2, ComplexitySimple)
	require.NoError(t, s.Create(ctx, a))
	require.NoError(t, s.Create(ctx, b))
	require.NoError(t, s.AddDependency(ctx, a.Short, b.Short))

	require.NoError(t, s.RemoveDependency(ctx, a.Short, b.Short))
	require.NoError(t, s.RemoveDependency(ctx, a.Short, b.Short))

	got, err := s.Find(ctx, a.Short)
	require.NoError(t, err)
	assert.Empty(t, got.BlockedBy)
}

func TestStart_RefusedWhileBlockerOpen(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	blocker := New("blocker", "", TypeTask, 2, ComplexitySimple)
	blocked := New("blocked", "", TypeTask, 2, ComplexitySimple)
	require.NoError(t, s.Create(ctx, blocker))
	require.NoError(t, s.Create(ctx, blocked))
	require.NoError(t, s.AddDependency(ctx, blocked.Short, blocker.Short))

	_, err := s.Start(ctx, blocked.Short, 1234)
	require.Error(t, err)
}

func TestStart_SucceedsOnceBlockerDone(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	blocker := New("blocker", "", TypeTask, 2, ComplexitySimple)
	blocked := New("blocked", "", TypeTask, 2, ComplexitySimple)
	require.NoError(t, s.Create(ctx, blocker))
	require.NoError(t, s.Create(ctx, blocked))
	require.NoError(t, s.AddDependency(ctx, blocked.Short, blocker.Short))

	_, err := s.Done(ctx, blocker.Short, "", "")
	require.NoError(t, err)

	started, err := s.Start(ctx, blocked.Short, 42)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, started.Status)
	assert.True(t, started.Consumed)
	assert.Equal(t, 42, started.ConsumePID)
}

func TestDone_ClosesPendingReviewRow(t *testing.T) {
	s, _, reviews := newTestStoreWithReviews()
	ctx := context.Background()

	tk := New("reviewed", "", TypeTask, 2, ComplexitySimple)
	require.NoError(t, s.Create(ctx, tk))
	require.NoError(t, reviews.Create(ctx, review.New(tk.ID, 1, "claude")))

	_, err := s.Done(ctx, tk.Short, "", "")
	require.NoError(t, err)

	rec, err := reviews.ReadLatestForTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, review.StatusCompleted, rec.Status)
	assert.NotNil(t, rec.CompletedAt)
}

func TestDone_NoopWhenNoReviewStoreConfigured(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	tk := New("no review wiring", "", TypeTask, 2, ComplexitySimple)
	require.NoError(t, s.Create(ctx, tk))

	_, err := s.Done(ctx, tk.Short, "", "")
	require.NoError(t, err)
}

func TestReopen_NoOpWhenAlreadyOpen(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	a := New("a", "", TypeTask, 2, ComplexitySimple)
	require.NoError(t, s.Create(ctx, a))
	require.NoError(t, s.Reopen(ctx, a.Short))

	got, err := s.Find(ctx, a.Short)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, got.Status)
}

func TestFind_AmbiguousPrefix(t *testing.T) {
	s, repo := newTestStore()
	ctx := context.Background()

	a := New("a", "", TypeTask, 2, ComplexitySimple)
	b := New("b", "", TypeTask, 2, ComplexitySimple)
	require.NoError(t, s.Create(ctx, a))
	require.NoError(t, s.Create(ctx, b))
	repo.mu.Lock()
	a.Short = "f-abc123"
	b.Short = "f-abc456"
	repo.tasks[a.ID].Short = a.Short
	repo.tasks[b.ID].Short = b.Short
	repo.mu.Unlock()

	_, err := s.Find(ctx, "f-abc")
	require.Error(t, err)
	assert.ErrorAs(t, err, &ErrTagAmbiguous{})
}

func TestRecordFailure_CircuitBreakerTripsOnRepeatCategory(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	a := New("a", "", TypeTask, 2, ComplexitySimple)
	require.NoError(t, s.Create(ctx, a))
	_, err := s.Start(ctx, a.Short, 1)
	require.NoError(t, err)

	t1, err := s.RecordFailure(ctx, a.Short, "network", 5)
	require.NoError(t, err)
	assert.False(t, t1.HasLabel(LabelNeedsHuman))
	assert.Equal(t, StatusOpen, t1.Status)

	t2, err := s.RecordFailure(ctx, a.Short, "network", 5)
	require.NoError(t, err)
	assert.True(t, t2.HasLabel(LabelNeedsHuman))
}

func TestRecordFailure_TripsAtMaxRetriesRegardlessOfCategory(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	a := New("a", "", TypeTask, 2, ComplexitySimple)
	require.NoError(t, s.Create(ctx, a))

	categories := []string{"network", "crash", "timeout"}
	var last *Task
	var err error
	for _, c := range categories {
		last, err = s.RecordFailure(ctx, a.Short, c, 3)
		require.NoError(t, err)
	}
	assert.True(t, last.HasLabel(LabelNeedsHuman))
}

func TestStartOver_ClearsRetryMetadata(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	a := New("a", "", TypeTask, 2, ComplexitySimple)
	require.NoError(t, s.Create(ctx, a))
	require.NoError(t, s.RecordReview(ctx, a.Short))

	a.Status = StatusReview
	a.RetryCount = 2
	a.LastReviewIssues = []string{"ISSUE1"}
	require.NoError(t, s.Update(ctx, a))

	require.NoError(t, s.StartOver(ctx, a.Short))

	got, err := s.Find(ctx, a.Short)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, got.Status)
	assert.Zero(t, got.RetryCount)
	assert.Empty(t, got.LastReviewIssues)
}
