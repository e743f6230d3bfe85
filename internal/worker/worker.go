// Package worker drains the inbound-event queue and runs each event through
// the reply correlation resolver, pushing realtime notifications for hits.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/anonzap/anonzap-backend/internal/correlation"
	"github.com/anonzap/anonzap-backend/internal/queue"
	"github.com/anonzap/anonzap-backend/pkg/logging"
)

const (
	defaultBatchSize   = 5
	defaultWaitSeconds = 10
	defaultIdleSleep   = time.Second
)

// Job is the queue payload the webhook handler enqueues for every inbound
// message event.
type Job struct {
	FromIdentifier string    `json:"from_identifier"`
	Body           string    `json:"body"`
	Channel        string    `json:"channel"`
	OpaqueID       bool      `json:"opaque_id"`
	ReceivedAt     time.Time `json:"received_at"`
}

// Encode serializes the job for the queue.
func (j Job) Encode() (string, error) {
	raw, err := json.Marshal(j)
	if err != nil {
		return "", fmt.Errorf("worker: encode job: %w", err)
	}
	return string(raw), nil
}

// Resolver is the correlation surface the worker drives.
type Resolver interface {
	Resolve(ctx context.Context, in correlation.InboundReply) (*correlation.Match, error)
}

// Notifier pushes a correlated reply to the owning user's live connections.
// Implementations must not block; delivery is best effort.
type Notifier interface {
	NotifyReply(match *correlation.Match)
}

// Worker polls the queue and feeds events to the resolver. Resolver misses
// are final, so their queue messages are deleted; store failures leave the
// message in place for redelivery.
type Worker struct {
	queue       queue.Client
	resolver    Resolver
	notifier    Notifier
	logger      *logging.Logger
	batchSize   int
	waitSeconds int
}

type Options struct {
	BatchSize   int
	WaitSeconds int
	Logger      *logging.Logger
}

func New(q queue.Client, resolver Resolver, notifier Notifier, opts Options) *Worker {
	if q == nil {
		panic("worker: queue cannot be nil")
	}
	if resolver == nil {
		panic("worker: resolver cannot be nil")
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	wait := opts.WaitSeconds
	if wait <= 0 {
		wait = defaultWaitSeconds
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{
		queue:       q,
		resolver:    resolver,
		notifier:    notifier,
		logger:      logger,
		batchSize:   batch,
		waitSeconds: wait,
	}
}

// Run polls until ctx is cancelled. It is safe to run several Run loops on
// the same Worker; the queue arbitrates delivery.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker: correlation loop started")
	for {
		if ctx.Err() != nil {
			w.logger.Info("worker: correlation loop stopped")
			return
		}
		msgs, err := w.queue.Receive(ctx, w.batchSize, w.waitSeconds)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("worker: correlation loop stopped")
				return
			}
			w.logger.Error("worker: receive failed", "error", err)
			select {
			case <-time.After(defaultIdleSleep):
			case <-ctx.Done():
			}
			continue
		}
		for _, msg := range msgs {
			w.handle(ctx, msg)
		}
	}
}

// RunPool starts n Run loops and blocks until all exit.
func (w *Worker) RunPool(ctx context.Context, n int) {
	if n <= 0 {
		n = 1
	}
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}
	wg.Wait()
}

func (w *Worker) handle(ctx context.Context, msg queue.Message) {
	var job Job
	if err := json.Unmarshal([]byte(msg.Body), &job); err != nil {
		// Poison payload: retrying cannot fix it.
		w.logger.Error("worker: dropping undecodable job", "error", err, "queue_id", msg.ID)
		w.deleteMessage(ctx, msg)
		return
	}

	match, err := w.resolver.Resolve(ctx, correlation.InboundReply{
		FromIdentifier: job.FromIdentifier,
		Body:           job.Body,
		Channel:        job.Channel,
		OpaqueID:       job.OpaqueID,
	})
	if err != nil {
		// Store failure: leave the message for redelivery.
		w.logger.Error("worker: resolve failed", "error", err, "queue_id", msg.ID)
		return
	}
	if match != nil && w.notifier != nil {
		w.notifier.NotifyReply(match)
	}
	w.deleteMessage(ctx, msg)
}

func (w *Worker) deleteMessage(ctx context.Context, msg queue.Message) {
	if err := w.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		w.logger.Warn("worker: delete failed", "error", err, "queue_id", msg.ID)
	}
}
