package task

import (
	"context"
	"sync"
	"testing"
	"time"

	xerrors "MultiAI-Relay/internal/errors"
)

func TestBrokerQueuesRequireAddress(t *testing.T) {
	if _, err := NewRedisQueue(RedisQueueConfig{}); xerrors.CodeOf(err) != xerrors.CodeConfiguration {
		t.Fatalf("expected configuration error for redis, got %v", err)
	}
	if _, err := NewRabbitMQQueue(RabbitMQConfig{}); xerrors.CodeOf(err) != xerrors.CodeConfiguration {
		t.Fatalf("expected configuration error for rabbitmq, got %v", err)
	}
}

func TestMemoryQueueDeliversAndStops(t *testing.T) {
	queue := NewMemoryQueue(4)
	ctx, cancel := context.WithCancel(context.Background())

	received := make(chan string, 2)
	done := make(chan error, 1)
	go func() {
		done <- queue.Consume(ctx, 2, func(_ context.Context, id string) error {
			received <- id
			return nil
		})
	}()

	if err := queue.Publish(ctx, "run-1"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case id := <-received:
		if id != "run-1" {
			t.Fatalf("unexpected id: %s", id)
		}
	case <-time.After(time.Second):
		t.Fatalf("message not delivered")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("consumer did not stop")
	}

	if err := queue.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := queue.Publish(context.Background(), "run-2"); err == nil {
		t.Fatalf("publish after close should fail")
	}
}

func TestMemoryQueueCloseStopsConsumersAndPublishers(t *testing.T) {
	queue := NewMemoryQueue(1)
	done := make(chan error, 1)
	go func() {
		done <- queue.Consume(context.Background(), 3, func(context.Context, string) error { return nil })
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = queue.Publish(context.Background(), "run")
		}()
	}
	if err := queue.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := queue.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	wg.Wait()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("consume after close: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("consumer did not stop after close")
	}
	if err := queue.Publish(context.Background(), "late"); xerrors.CodeOf(err) != xerrors.CodeQueueFailure {
		t.Fatalf("expected queue failure, got %v", err)
	}
}
