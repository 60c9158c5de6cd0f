package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"tickethunter/internal/domain"
	"tickethunter/internal/events"
	"tickethunter/internal/ports"
)

// manualDriver fires only when the test says so.
type manualDriver struct {
	mu      sync.Mutex
	job     func(time.Time)
	stopped bool
}

func (d *manualDriver) Start(_ context.Context, job func(time.Time)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.job = job
	return nil
}

func (d *manualDriver) Stop(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	return nil
}

func (d *manualDriver) fire() {
	d.mu.Lock()
	job := d.job
	d.mu.Unlock()
	if job != nil {
		job(time.Now())
	}
}

func TestWatchLaunchesTaskPerTick(t *testing.T) {
	t.Parallel()

	service, hub := newTestService(&fakeRefiner{}, &fakeSource{}, &fakeClassifier{}, newMemRepo(), 2)
	driver := &manualDriver{}
	monitor := NewMonitor(service, func() ports.Scheduler { return driver }, nil)

	sub := hub.Subscribe(events.AllTasks)
	defer sub.Close()

	watchID, err := monitor.Watch(context.Background(), "watched keyword")
	if err != nil {
		t.Fatalf("Watch returned error: %v", err)
	}

	driver.fire()
	driver.fire()

	terminals := 0
	timeout := time.After(5 * time.Second)
	for terminals < 2 {
		select {
		case event := <-sub.Events():
			if event.Type == domain.EventTaskUpdate && event.Status.Terminal() {
				terminals++
			}
		case <-timeout:
			t.Fatalf("saw %d completed runs, want 2", terminals)
		}
	}

	if err := monitor.Unwatch(context.Background(), watchID); err != nil {
		t.Fatalf("Unwatch returned error: %v", err)
	}
	driver.mu.Lock()
	stopped := driver.stopped
	driver.mu.Unlock()
	if !stopped {
		t.Fatal("driver not stopped by Unwatch")
	}

	// Unknown and repeated unwatch calls are no-ops.
	if err := monitor.Unwatch(context.Background(), watchID); err != nil {
		t.Fatalf("repeated Unwatch returned error: %v", err)
	}
	if err := monitor.Unwatch(context.Background(), 999); err != nil {
		t.Fatalf("unknown Unwatch returned error: %v", err)
	}
}
