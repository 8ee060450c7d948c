package sync

import (
	"context"
	"encoding/json"
	"fmt"
)

// KV is the persisted key-value store the sync state lives in.
// *store.DB and *store.MemKV both satisfy it.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Keys for the independently persisted components.
const (
	KeyPendingQueue = "pending_records"
	KeySyncLock     = "sync_lock"
	KeyCircuit      = "circuit_breaker"
	KeySyncStatus   = "sync_status"
	KeyWebHealth    = "web_health"
)

// getJSON decodes the value under key into v. It returns false when the key
// is absent or the stored value is not valid JSON; corrupt state is treated
// as missing.
func getJSON(ctx context.Context, kv KV, key string, v any) (bool, error) {
	data, ok, err := kv.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok || len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, nil
	}
	return true, nil
}

func putJSON(ctx context.Context, kv KV, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return kv.Put(ctx, key, data)
}
