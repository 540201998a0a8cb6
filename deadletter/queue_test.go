package deadletter

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/coinhaven/depositd/core"
)

type memDeadLetterStore struct {
	mu   sync.Mutex
	rows map[string]*core.DeadLetterEvent
}

func newMemDeadLetterStore() *memDeadLetterStore {
	return &memDeadLetterStore{rows: map[string]*core.DeadLetterEvent{}}
}

func (s *memDeadLetterStore) Create(_ context.Context, event core.DeadLetterEvent) (core.DeadLetterEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[event.ID] = &event
	return event, nil
}

func (s *memDeadLetterStore) Get(_ context.Context, id string) (core.DeadLetterEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return core.DeadLetterEvent{}, fmt.Errorf("dead letter event %s not found", id)
	}
	return *row, nil
}

func (s *memDeadLetterStore) ClaimDue(_ context.Context, now time.Time, limit int) ([]core.DeadLetterEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	due := []core.DeadLetterEvent{}
	for _, row := range s.rows {
		if (row.Status == core.DeadLetterStatusPending || row.Status == core.DeadLetterStatusRetrying) &&
			!row.NextRetryAt.After(now) {
			due = append(due, *row)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for _, event := range due {
		s.rows[event.ID].Status = core.DeadLetterStatusRetrying
	}
	return due, nil
}

func (s *memDeadLetterStore) ListByStatus(_ context.Context, statuses []core.DeadLetterStatus, limit int) ([]core.DeadLetterEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := []core.DeadLetterEvent{}
	for _, row := range s.rows {
		for _, status := range statuses {
			if row.Status == status {
				matched = append(matched, *row)
				break
			}
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.Before(matched[j].CreatedAt) })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *memDeadLetterStore) MarkSucceeded(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[id]; ok {
		row.Status = core.DeadLetterStatusSuccess
	}
	return nil
}

func (s *memDeadLetterStore) MarkFailed(_ context.Context, id string, errorMessage string, errorType core.FailureKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[id]; ok {
		row.Status = core.DeadLetterStatusFailed
		row.ErrorMessage = errorMessage
		row.ErrorType = errorType
	}
	return nil
}

func (s *memDeadLetterStore) Reschedule(_ context.Context, id string, retryCount int, nextRetryAt time.Time, errorMessage string, errorType core.FailureKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[id]; ok {
		row.Status = core.DeadLetterStatusPending
		row.RetryCount = retryCount
		row.NextRetryAt = nextRetryAt
		row.ErrorMessage = errorMessage
		row.ErrorType = errorType
	}
	return nil
}

func (s *memDeadLetterStore) SweepExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	swept := 0
	for _, row := range s.rows {
		if row.Status != core.DeadLetterStatusExpired && row.ExpiresAt.Before(now) {
			row.Status = core.DeadLetterStatusExpired
			swept++
		}
	}
	return swept, nil
}

func (s *memDeadLetterStore) Stats(_ context.Context) (core.DeadLetterStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := core.DeadLetterStats{TotalEvents: len(s.rows)}
	for _, row := range s.rows {
		switch row.Status {
		case core.DeadLetterStatusPending:
			stats.PendingEvents++
		case core.DeadLetterStatusRetrying:
			stats.RetryingEvents++
		case core.DeadLetterStatusFailed:
			stats.FailedEvents++
		case core.DeadLetterStatusSuccess:
			stats.SuccessEvents++
		case core.DeadLetterStatusExpired:
			stats.ExpiredEvents++
		}
	}
	return stats, nil
}

type stubReplayer struct {
	mu         sync.Mutex
	errs       map[string]error
	calls      int
	inFlight   int
	maxFlight  int
	callDelay  time.Duration
	defaultErr error
}

func (s *stubReplayer) Replay(_ context.Context, payload []byte) error {
	s.mu.Lock()
	s.calls++
	s.inFlight++
	if s.inFlight > s.maxFlight {
		s.maxFlight = s.inFlight
	}
	delay := s.callDelay
	err, ok := s.errs[string(payload)]
	if !ok {
		err = s.defaultErr
	}
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
	return err
}

func testQueue(t *testing.T, replay Replayer, options Options) (*Queue, *memDeadLetterStore) {
	t.Helper()
	store := newMemDeadLetterStore()
	queue, err := NewQueue(store, replay, options, nil)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return queue, store
}

func TestCaptureClassifiesAndSchedules(t *testing.T) {
	queue, store := testQueue(t, &stubReplayer{}, Options{})
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	queue.Now = func() time.Time { return now }

	event, err := queue.Capture(context.Background(), "wh-1", []byte(`{"type":"x"}`), fmt.Errorf("connection refused"))
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if event.ErrorType != core.FailureRetryable {
		t.Fatalf("expected retryable classification, got %s", event.ErrorType)
	}
	if event.Status != core.DeadLetterStatusPending {
		t.Fatalf("expected pending status, got %s", event.Status)
	}
	if !event.NextRetryAt.After(now) {
		t.Fatal("expected next retry in the future")
	}
	if !event.ExpiresAt.Equal(now.Add(7 * 24 * time.Hour)) {
		t.Fatalf("expected default 7 day TTL, got %s", event.ExpiresAt)
	}
	stored, _ := store.Get(context.Background(), event.ID)
	if string(stored.Payload) != `{"type":"x"}` {
		t.Fatal("expected original payload preserved")
	}
}

func TestCapturePermanentErrorIsTerminal(t *testing.T) {
	queue, _ := testQueue(t, &stubReplayer{}, Options{})

	event, err := queue.Capture(context.Background(), "wh-1", []byte(`{}`), fmt.Errorf("permission denied"))
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if event.Status != core.DeadLetterStatusFailed {
		t.Fatalf("expected permanent failure stored as failed, got %s", event.Status)
	}

	summary, err := queue.ProcessDue(context.Background())
	if err != nil {
		t.Fatalf("process due: %v", err)
	}
	if summary.Claimed != 0 {
		t.Fatalf("expected terminal event to stay unclaimed, got %d", summary.Claimed)
	}
}

func TestProcessDueReplaysAndSucceeds(t *testing.T) {
	replay := &stubReplayer{}
	queue, store := testQueue(t, replay, Options{})
	queue.Now = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }

	event, _ := queue.Capture(context.Background(), "wh-1", []byte(`{"ok":true}`), fmt.Errorf("timeout"))
	queue.Now = func() time.Time { return time.Date(2026, 8, 1, 13, 0, 0, 0, time.UTC) }

	summary, err := queue.ProcessDue(context.Background())
	if err != nil {
		t.Fatalf("process due: %v", err)
	}
	if summary.Claimed != 1 || summary.Succeeded != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	stored, _ := store.Get(context.Background(), event.ID)
	if stored.Status != core.DeadLetterStatusSuccess {
		t.Fatalf("expected success status, got %s", stored.Status)
	}
}

func TestProcessDueRespectsRetryBound(t *testing.T) {
	replay := &stubReplayer{defaultErr: fmt.Errorf("timeout")}
	queue, store := testQueue(t, replay, Options{MaxRetries: 3})
	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	queue.Now = func() time.Time { return current }

	event, _ := queue.Capture(context.Background(), "wh-1", []byte(`{}`), fmt.Errorf("timeout"))

	for i := 0; i < 6; i++ {
		current = current.Add(time.Hour)
		if _, err := queue.ProcessDue(context.Background()); err != nil {
			t.Fatalf("process due %d: %v", i, err)
		}
	}

	stored, _ := store.Get(context.Background(), event.ID)
	if stored.Status != core.DeadLetterStatusFailed {
		t.Fatalf("expected exhausted event to end failed, got %s", stored.Status)
	}
	if stored.RetryCount >= 3 {
		t.Fatalf("expected retry count below max, got %d", stored.RetryCount)
	}
}

func TestProcessDueNewPermanentErrorStopsRetrying(t *testing.T) {
	replay := &stubReplayer{defaultErr: fmt.Errorf("malformed payload")}
	queue, store := testQueue(t, replay, Options{MaxRetries: 10})
	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	queue.Now = func() time.Time { return current }

	event, _ := queue.Capture(context.Background(), "wh-1", []byte(`{}`), fmt.Errorf("timeout"))
	current = current.Add(time.Hour)

	if _, err := queue.ProcessDue(context.Background()); err != nil {
		t.Fatalf("process due: %v", err)
	}
	stored, _ := store.Get(context.Background(), event.ID)
	if stored.Status != core.DeadLetterStatusFailed {
		t.Fatalf("expected permanent reclassification to fail the event, got %s", stored.Status)
	}
	if stored.ErrorType != core.FailurePermanent {
		t.Fatalf("expected permanent error type, got %s", stored.ErrorType)
	}
	if replay.calls != 1 {
		t.Fatalf("expected a single replay attempt, got %d", replay.calls)
	}
}

func TestProcessDueBoundsWorkerPool(t *testing.T) {
	replay := &stubReplayer{callDelay: 20 * time.Millisecond}
	queue, _ := testQueue(t, replay, Options{Workers: 3, BatchSize: 12})
	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	queue.Now = func() time.Time { return current }

	for i := 0; i < 12; i++ {
		if _, err := queue.Capture(context.Background(), fmt.Sprintf("wh-%d", i), []byte(fmt.Sprintf(`{"i":%d}`, i)), fmt.Errorf("timeout")); err != nil {
			t.Fatalf("capture %d: %v", i, err)
		}
	}
	current = current.Add(time.Hour)

	summary, err := queue.ProcessDue(context.Background())
	if err != nil {
		t.Fatalf("process due: %v", err)
	}
	if summary.Claimed != 12 || summary.Succeeded != 12 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if replay.maxFlight > 3 {
		t.Fatalf("expected at most 3 concurrent replays, saw %d", replay.maxFlight)
	}
}

func TestProcessDueSingleFlight(t *testing.T) {
	queue, _ := testQueue(t, &stubReplayer{}, Options{})
	queue.processing.Store(true)

	if _, err := queue.ProcessDue(context.Background()); err != ErrBatchInFlight {
		t.Fatalf("expected ErrBatchInFlight, got %v", err)
	}
}

func TestRetryAllDrainsFailedEvents(t *testing.T) {
	replay := &stubReplayer{errs: map[string]error{`{"bad":1}`: fmt.Errorf("timeout")}}
	queue, store := testQueue(t, replay, Options{})
	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	queue.Now = func() time.Time { return current }

	good, _ := queue.Capture(context.Background(), "wh-good", []byte(`{"ok":1}`), fmt.Errorf("timeout"))
	bad, _ := queue.Capture(context.Background(), "wh-bad", []byte(`{"bad":1}`), fmt.Errorf("permission denied"))

	results, err := queue.RetryAll(context.Background())
	if err != nil {
		t.Fatalf("retry all: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	byID := map[string]RetryResult{}
	for _, result := range results {
		byID[result.EventID] = result
	}
	if !byID[good.ID].Success {
		t.Fatalf("expected good event to drain successfully: %+v", byID[good.ID])
	}
	if byID[bad.ID].Success || byID[bad.ID].Error == "" {
		t.Fatalf("expected bad event to report its error: %+v", byID[bad.ID])
	}
	goodStored, _ := store.Get(context.Background(), good.ID)
	if goodStored.Status != core.DeadLetterStatusSuccess {
		t.Fatalf("expected drained event marked success, got %s", goodStored.Status)
	}
}

func TestSweepExpired(t *testing.T) {
	queue, store := testQueue(t, &stubReplayer{}, Options{MaxAge: time.Hour})
	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	queue.Now = func() time.Time { return current }

	event, _ := queue.Capture(context.Background(), "wh-1", []byte(`{}`), fmt.Errorf("timeout"))
	current = current.Add(2 * time.Hour)

	swept, err := queue.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected one swept event, got %d", swept)
	}
	stored, _ := store.Get(context.Background(), event.ID)
	if stored.Status != core.DeadLetterStatusExpired {
		t.Fatalf("expected expired status, got %s", stored.Status)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want core.FailureKind
	}{
		{fmt.Errorf("permission denied"), core.FailurePermanent},
		{fmt.Errorf("invalid signature header"), core.FailurePermanent},
		{fmt.Errorf("malformed payload body"), core.FailurePermanent},
		{fmt.Errorf("ECONNRESET"), core.FailureRetryable},
		{fmt.Errorf("request timeout after 5s"), core.FailureRetryable},
		{fmt.Errorf("upstream returned 503"), core.FailureRetryable},
		{fmt.Errorf("429 too many requests"), core.FailureRateLimited},
		{fmt.Errorf("rate limit exceeded"), core.FailureRateLimited},
		{fmt.Errorf("something novel"), core.FailureRetryable},
		{goerrors.New("nope", goerrors.CategoryAuth), core.FailurePermanent},
		{goerrors.New("slow down", goerrors.CategoryRateLimit), core.FailureRateLimited},
		{goerrors.New("store blip", goerrors.CategoryExternal), core.FailureRetryable},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("Classify(%q) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestRetryDelayBounds(t *testing.T) {
	base := 5 * time.Second
	max := 15 * time.Minute

	for retryCount := 0; retryCount < 12; retryCount++ {
		delay := RetryDelay(core.FailureRetryable, retryCount, base, max)
		if delay < time.Second {
			t.Fatalf("retry %d: delay %s below 1s floor", retryCount, delay)
		}
		ceiling := time.Duration(float64(max) * 1.2)
		if delay > ceiling {
			t.Fatalf("retry %d: delay %s above jittered cap %s", retryCount, delay, ceiling)
		}
	}

	fast := RetryDelay(core.FailureRetryable, 0, base, max)
	throttled := RetryDelay(core.FailureRateLimited, 0, base, max)
	if throttled < time.Duration(float64(fast)*0.8) {
		t.Fatalf("expected rate-limited backoff to trend longer: %s vs %s", throttled, fast)
	}
}
