// Package queue decouples webhook ingestion from reply correlation. The
// webhook handler enqueues raw inbound events; the correlation worker drains
// them. Production uses SQS, local development an in-memory channel.
package queue

import "context"

// Message is one raw inbound event awaiting correlation.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// Client is the transport-neutral queue contract.
type Client interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}
