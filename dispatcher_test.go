package pagegen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eringen/pagegen/pipeline"
)

type fakeQueue struct {
	ids []string
	err error
}

func (q *fakeQueue) ListQueuedJobs(context.Context) ([]string, error) { return q.ids, q.err }

type fakeStarter struct {
	mu      sync.Mutex
	started []string
	errs    map[string]error
}

func (s *fakeStarter) Start(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs[id]; err != nil {
		return err
	}
	s.started = append(s.started, id)
	return nil
}

func (s *fakeStarter) Started() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.started...)
}

func newTestDispatcher(t *testing.T, q queuedJobs, s jobStarter, interval time.Duration) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(q, s, interval, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Stop() })
	return d
}

func TestDispatchStartsQueuedJobs(t *testing.T) {
	starter := &fakeStarter{errs: map[string]error{
		"claimed": fmt.Errorf("job claimed is PROCESSING: %w", pipeline.ErrNotStartable),
		"broken":  errors.New("database is locked"),
	}}
	d := newTestDispatcher(t, &fakeQueue{ids: []string{"a", "claimed", "broken", "b"}}, starter, time.Hour)

	assert.Equal(t, 2, d.Dispatch(context.Background()))
	assert.Equal(t, []string{"a", "b"}, starter.Started())
}

func TestDispatchStopsWhenRunnerClosed(t *testing.T) {
	starter := &fakeStarter{errs: map[string]error{"a": pipeline.ErrRunnerClosed}}
	d := newTestDispatcher(t, &fakeQueue{ids: []string{"a", "b"}}, starter, time.Hour)

	assert.Equal(t, 0, d.Dispatch(context.Background()))
	assert.Empty(t, starter.Started())
}

func TestDispatchListError(t *testing.T) {
	starter := &fakeStarter{}
	d := newTestDispatcher(t, &fakeQueue{err: errors.New("no such table")}, starter, time.Hour)
	assert.Equal(t, 0, d.Dispatch(context.Background()))
}

func TestDispatcherPolls(t *testing.T) {
	starter := &fakeStarter{}
	d := newTestDispatcher(t, &fakeQueue{ids: []string{"queued"}}, starter, 10*time.Millisecond)
	d.Start()

	assert.Eventually(t, func() bool { return len(starter.Started()) > 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestDispatcherWithStore(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	queued := newStoredJob(t, s)
	require.NoError(t, s.QueueJob(ctx, queued.ID))
	newStoredJob(t, s)

	runner := pipeline.NewRunner(pipeline.Deps{Geo: s, Pages: s, Jobs: s})
	defer runner.Close()
	d := newTestDispatcher(t, s, runner, time.Hour)

	assert.Equal(t, 1, d.Dispatch(ctx))
	runner.Wait()

	got, err := s.GetJob(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusCompleted, got.Status)
	assert.Equal(t, 0, d.Dispatch(ctx))
}
