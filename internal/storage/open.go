package storage

import (
	"context"
	"fmt"
)

// Driver names accepted by Open.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverNats   = "nats"
)

// Settings selects and locates a KV backend.
type Settings struct {
	Driver     string
	Dir        string
	NatsURL    string
	NatsBucket string
}

// Open builds the backend named by s.Driver. The returned close func is never nil.
func Open(ctx context.Context, s Settings) (KV, func(), error) {
	noop := func() {}

	switch s.Driver {
	case DriverMemory:
		return NewMemoryKV(), noop, nil
	case DriverFile, "":
		kv, err := NewFileKV(s.Dir)
		if err != nil {
			return nil, noop, err
		}
		return kv, noop, nil
	case DriverNats:
		kv, err := NewNatsKV(ctx, s.NatsURL, s.NatsBucket)
		if err != nil {
			return nil, noop, err
		}
		return kv, kv.Close, nil
	default:
		return nil, noop, fmt.Errorf("unsupported storage driver %q", s.Driver)
	}
}
