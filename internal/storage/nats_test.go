package storage

import (
	"context"
	"errors"
	"os"
	"testing"
)

// Requires a JetStream-enabled server, e.g. `nats-server -js`.
func TestNatsKVIntegration(t *testing.T) {
	url := os.Getenv("NATS_TEST_URL")
	if url == "" {
		t.Skip("NATS_TEST_URL not set")
	}

	ctx := context.Background()
	kv, err := NewNatsKV(ctx, url, "chat_test")
	if err != nil {
		t.Fatalf("NewNatsKV err: %v", err)
	}
	defer kv.Close()

	if err := kv.Put(ctx, "chat-messages", []byte(`[]`)); err != nil {
		t.Fatalf("Put err: %v", err)
	}
	got, err := kv.Get(ctx, "chat-messages")
	if err != nil || string(got) != `[]` {
		t.Fatalf("Get = %q, %v", got, err)
	}

	if err := kv.Delete(ctx, "chat-messages"); err != nil {
		t.Fatalf("Delete err: %v", err)
	}
	if _, err := kv.Get(ctx, "chat-messages"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
