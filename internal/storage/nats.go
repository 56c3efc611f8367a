package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NatsKV persists keys into a JetStream key-value bucket.
type NatsKV struct {
	nc *nats.Conn
	kv jetstream.KeyValue
}

// NewNatsKV connects to NATS and ensures the bucket exists.
func NewNatsKV(ctx context.Context, url, bucket string) (*NatsKV, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("nats kv bucket is required")
	}

	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	setupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	kv, err := js.CreateOrUpdateKeyValue(setupCtx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Stores chat conversation snapshots",
		History:     1,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to open kv bucket '%s': %w", bucket, err)
	}
	log.Printf("[storage] using NATS kv bucket %s", bucket)

	return &NatsKV{nc: nc, kv: kv}, nil
}

func (n *NatsKV) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := n.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}
	return entry.Value(), nil
}

func (n *NatsKV) Put(ctx context.Context, key string, value []byte) error {
	if _, err := n.kv.Put(ctx, key, value); err != nil {
		return fmt.Errorf("kv put %s: %w", key, err)
	}
	return nil
}

// Delete purges the key so no tombstoned revision remains readable.
func (n *NatsKV) Delete(ctx context.Context, key string) error {
	if err := n.kv.Purge(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("kv purge %s: %w", key, err)
	}
	return nil
}

// Close drains the underlying connection.
func (n *NatsKV) Close() {
	if n.nc != nil {
		_ = n.nc.Drain()
	}
}
