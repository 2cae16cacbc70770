package legacy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/basket/toolrelay/internal/relay"
)

type fakeExecutor struct {
	mu       sync.Mutex
	inFlight int
	maxSeen  int
	order    []string
	fail     map[string]error
	delay    time.Duration
}

func (f *fakeExecutor) Execute(_ context.Context, cmd *relay.Command) (string, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	f.order = append(f.order, cmd.Tool)
	f.mu.Unlock()

	time.Sleep(f.delay)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	if err := f.fail[cmd.Tool]; err != nil {
		return "", err
	}
	return "ok:" + cmd.Tool, nil
}

func waitDone(t *testing.T, p *Processor, id string) Request {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		r, ok := p.Status(id)
		if !ok {
			t.Fatalf("request %s vanished", id)
		}
		if r.Status.Done() {
			return r
		}
		if time.Now().After(deadline) {
			t.Fatalf("request %s stuck in %s", id, r.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestProcessor_SerialInSubmissionOrder(t *testing.T) {
	exec := &fakeExecutor{delay: 10 * time.Millisecond}
	p := New(Config{Executor: exec, Pause: time.Millisecond})

	a := p.Submit("tree", nil)
	b := p.Submit("get", map[string]any{"path": "game.Workspace"})
	c := p.Submit("readLine", nil)
	if a.Status != StatusQueued {
		t.Fatalf("initial status: %s", a.Status)
	}
	if snap := p.Snapshot(); snap.QueueLength != 3 || snap.TotalRequests != 3 {
		t.Fatalf("snapshot before run: %+v", snap)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	for _, id := range []string{a.ID, b.ID, c.ID} {
		if r := waitDone(t, p, id); r.Status != StatusCompleted || r.Result != "ok:"+r.Tool {
			t.Fatalf("request %s: %+v", id, r)
		}
	}
	exec.mu.Lock()
	defer exec.mu.Unlock()
	if exec.maxSeen != 1 {
		t.Fatalf("expected one request in flight at a time, saw %d", exec.maxSeen)
	}
	want := []string{"tree", "get", "readLine"}
	for i := range want {
		if exec.order[i] != want[i] {
			t.Fatalf("execution order: got %v want %v", exec.order, want)
		}
	}
}

func TestProcessor_RejectionBecomesError(t *testing.T) {
	exec := &fakeExecutor{fail: map[string]error{
		"delete": relay.Rejected("delete", "", "operation was rejected by user"),
	}}
	p := New(Config{Executor: exec})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	r := p.Submit("delete", map[string]any{"path": "game.Part"})
	got := waitDone(t, p, r.ID)
	if got.Status != StatusError || got.Result != "operation was rejected by user" {
		t.Fatalf("rejected request: %+v", got)
	}
}

func TestProcessor_SubmitErrorIsQueryable(t *testing.T) {
	p := New(Config{Executor: &fakeExecutor{}})
	r := p.SubmitError("tree", nil, "path is required")
	got, ok := p.Status(r.ID)
	if !ok || got.Status != StatusError || got.Result != "path is required" {
		t.Fatalf("error record: %+v ok=%v", got, ok)
	}
	if snap := p.Snapshot(); snap.QueueLength != 0 || snap.TotalRequests != 1 {
		t.Fatalf("error record must not be queued: %+v", snap)
	}
}

func TestProcessor_SweepOlderThan(t *testing.T) {
	p := New(Config{Executor: &fakeExecutor{}})
	old := p.Submit("tree", nil)
	p.now = func() time.Time { return time.Now().Add(time.Hour) }
	fresh := p.Submit("get", nil)

	if n := p.SweepOlderThan(time.Now().Add(time.Minute)); n != 1 {
		t.Fatalf("expected one swept request, got %d", n)
	}
	if _, ok := p.Status(old.ID); ok {
		t.Fatalf("old request should be gone")
	}
	if _, ok := p.Status(fresh.ID); !ok {
		t.Fatalf("fresh request should survive")
	}
	if snap := p.Snapshot(); snap.QueueLength != 1 {
		t.Fatalf("swept request should leave the queue: %+v", snap)
	}
}
