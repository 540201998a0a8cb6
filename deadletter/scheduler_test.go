package deadletter

import (
	"fmt"
	"testing"
)

func TestNewSchedulerValidatesSchedules(t *testing.T) {
	queue, _ := testQueue(t, &stubReplayer{}, Options{})

	if _, err := NewScheduler(queue, "@every 30s", "@every 1h", nil); err != nil {
		t.Fatalf("expected valid schedules to register: %v", err)
	}
	if _, err := NewScheduler(queue, "not-a-schedule", "", nil); err == nil {
		t.Fatal("expected invalid retry schedule to error")
	}
	if _, err := NewScheduler(queue, "", "also-bad", nil); err == nil {
		t.Fatal("expected invalid sweep schedule to error")
	}
	if _, err := NewScheduler(nil, "@every 30s", "", nil); err == nil {
		t.Fatal("expected nil queue to error")
	}
}

func TestSchedulerRunRetryBatchSwallowsInFlight(t *testing.T) {
	queue, _ := testQueue(t, &stubReplayer{defaultErr: fmt.Errorf("timeout")}, Options{})
	scheduler, err := NewScheduler(queue, "@every 30s", "@every 1h", nil)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	queue.processing.Store(true)
	scheduler.runRetryBatch()
	queue.processing.Store(false)

	scheduler.runRetryBatch()
	scheduler.runSweep()
}
