// Package rabbitmq publishes user lifecycle events to a durable queue.
package rabbitmq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// New dials the broker and proves it answers by opening a channel within
// a few seconds.
func New(ctx context.Context, url string) (*amqp.Connection, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Dial:      amqp.DefaultDial(3 * time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq failed: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	err = withContext(checkCtx, func() error {
		ch, err := conn.Channel()
		if err == nil {
			_ = ch.Close()
		}
		return err
	})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq health check failed: %w", err)
	}
	return conn, nil
}

// withContext runs fn and waits for it until ctx is done. amqp091 channel
// operations do not watch a context, so a stalled broker would otherwise
// block the caller. fn keeps running in the background after a timeout.
func withContext(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
