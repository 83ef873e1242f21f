package util

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
)

// ProcessWithTimeout runs callback with a deadline derived from parent and gives up waiting once it passes.
func ProcessWithTimeout[T any](parent context.Context, timeout time.Duration, msg T, callback func(ctx context.Context, msg T) error) error {
	if timeout <= 0 {
		return callback(parent, msg)
	}

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- callback(ctx, msg)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("processing timeout after %s: %w", timeout, ctx.Err())
	case err := <-done:
		return err
	}
}

func PublishEvent(nc *nats.Conn, subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return nc.Publish(subject, payload)
}
