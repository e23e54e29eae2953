// Package queue delivers job-execution requests from the API to the workers
// with at-least-once semantics and delayed redelivery for retries.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrEmpty is returned by Dequeue when nothing became ready within the wait.
var ErrEmpty = errors.New("queue empty")

// ErrClosed is returned by operations on a queue that has been closed.
var ErrClosed = errors.New("queue closed")

// Message is one execution request. Attempt counts prior failed attempts.
type Message struct {
	JobID    uuid.UUID `json:"job_id"`
	Query    string    `json:"query"`
	Document string    `json:"document"`
	Attempt  int       `json:"attempt"`
}

// Delivery is a dequeued Message that must be settled with Ack or Retry.
type Delivery struct {
	Message Message

	receipt string
}

// Queue is the broker contract. Implementations must be safe for concurrent use.
type Queue interface {
	Ping(ctx context.Context) error
	Enqueue(ctx context.Context, msg Message) error
	// Dequeue blocks up to wait for a ready message. It returns ErrEmpty on timeout.
	Dequeue(ctx context.Context, wait time.Duration) (*Delivery, error)
	// Ack settles a delivery for good.
	Ack(ctx context.Context, d *Delivery) error
	// Retry settles a delivery and makes d.Message ready again after delay.
	Retry(ctx context.Context, d *Delivery, delay time.Duration) error
}

func encodeMessage(msg Message) (string, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}
	return string(b), nil
}

func decodeMessage(raw string) (Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if msg.JobID == uuid.Nil {
		return Message{}, fmt.Errorf("decode message: missing job_id")
	}
	return msg, nil
}
