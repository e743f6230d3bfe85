package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/anonzap/anonzap-backend/internal/correlation"
	"github.com/anonzap/anonzap-backend/internal/queue"
)

type fakeResolver struct {
	mu      sync.Mutex
	inbound []correlation.InboundReply
	match   *correlation.Match
	err     error
}

func (f *fakeResolver) Resolve(ctx context.Context, in correlation.InboundReply) (*correlation.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbound = append(f.inbound, in)
	return f.match, f.err
}

func (f *fakeResolver) seen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inbound)
}

type fakeNotifier struct {
	mu      sync.Mutex
	matches []*correlation.Match
}

func (f *fakeNotifier) NotifyReply(match *correlation.Match) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matches = append(f.matches, match)
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.matches)
}

type recordingQueue struct {
	*queue.MemoryQueue
	mu      sync.Mutex
	deletes []string
}

func (r *recordingQueue) Delete(ctx context.Context, receiptHandle string) error {
	r.mu.Lock()
	r.deletes = append(r.deletes, receiptHandle)
	r.mu.Unlock()
	return r.MemoryQueue.Delete(ctx, receiptHandle)
}

func (r *recordingQueue) deleted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deletes)
}

func enqueue(t *testing.T, q queue.Client, job Job) {
	t.Helper()
	body, err := job.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := q.Send(context.Background(), body); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestWorkerResolvesAndNotifies(t *testing.T) {
	q := &recordingQueue{MemoryQueue: queue.NewMemoryQueue(8)}
	match := &correlation.Match{
		Message: &correlation.OutboundMessage{ID: uuid.New(), UserID: uuid.New()},
		Reply:   &correlation.Reply{ID: uuid.New()},
		Stage:   "tracking_code",
	}
	resolver := &fakeResolver{match: match}
	notifier := &fakeNotifier{}
	w := New(q, resolver, notifier, Options{WaitSeconds: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	enqueue(t, q, Job{FromIdentifier: "123456@lid", Body: "thanks! by7K2m", Channel: "whatsapp", OpaqueID: true})

	waitFor(t, 2*time.Second, func() bool { return notifier.count() == 1 }, "match never notified")
	waitFor(t, 2*time.Second, func() bool { return q.deleted() == 1 }, "message never deleted")

	resolver.mu.Lock()
	in := resolver.inbound[0]
	resolver.mu.Unlock()
	if in.FromIdentifier != "123456@lid" || !in.OpaqueID || in.Channel != "whatsapp" {
		t.Fatalf("unexpected inbound reply: %+v", in)
	}
}

func TestWorkerDeletesOnMiss(t *testing.T) {
	q := &recordingQueue{MemoryQueue: queue.NewMemoryQueue(8)}
	resolver := &fakeResolver{} // nil match, nil error: a silent miss
	notifier := &fakeNotifier{}
	w := New(q, resolver, notifier, Options{WaitSeconds: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	enqueue(t, q, Job{FromIdentifier: "unknown@lid", Body: "hi", Channel: "whatsapp", OpaqueID: true})

	waitFor(t, 2*time.Second, func() bool { return q.deleted() == 1 }, "miss should still delete")
	if notifier.count() != 0 {
		t.Fatal("miss must not notify")
	}
}

func TestWorkerKeepsMessageOnStoreFailure(t *testing.T) {
	q := &recordingQueue{MemoryQueue: queue.NewMemoryQueue(8)}
	resolver := &fakeResolver{err: errors.New("pool exhausted")}
	w := New(q, resolver, nil, Options{WaitSeconds: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	enqueue(t, q, Job{FromIdentifier: "5511999998888", Body: "hi", Channel: "whatsapp"})

	waitFor(t, 2*time.Second, func() bool { return resolver.seen() >= 1 }, "job never resolved")
	time.Sleep(50 * time.Millisecond)
	if q.deleted() != 0 {
		t.Fatal("store failure must leave the message for redelivery")
	}
}

func TestWorkerDropsPoisonPayload(t *testing.T) {
	q := &recordingQueue{MemoryQueue: queue.NewMemoryQueue(8)}
	resolver := &fakeResolver{}
	w := New(q, resolver, nil, Options{WaitSeconds: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if err := q.Send(context.Background(), "{not json"); err != nil {
		t.Fatalf("send: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return q.deleted() == 1 }, "poison payload never dropped")
	if resolver.seen() != 0 {
		t.Fatal("poison payload must not reach the resolver")
	}
}

func TestRunPoolStopsOnCancel(t *testing.T) {
	q := &recordingQueue{MemoryQueue: queue.NewMemoryQueue(8)}
	w := New(q, &fakeResolver{}, nil, Options{WaitSeconds: 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.RunPool(ctx, 3)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("pool did not stop on cancel")
	}
}
