package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/updownhft/updownbot/internal/domain"
)

// instrumentTTL bounds how long discovered metadata is served without a
// refresh. Short-duration markets churn hourly, so stale entries age out on
// their own.
const instrumentTTL = 10 * time.Minute

// InstrumentCache implements domain.InstrumentCache using Redis hashes with
// JSON-serialized Instrument data and a secondary token-to-instrument index.
//
// Key schema:
//
//	instrument:{id}            - hash with field "data" containing JSON
//	instrument:token:{tokenID} - string value of the instrument ID
type InstrumentCache struct {
	rdb *redis.Client
}

// NewInstrumentCache creates an InstrumentCache backed by the given Client.
func NewInstrumentCache(c *Client) *InstrumentCache {
	return &InstrumentCache{rdb: c.Underlying()}
}

func instrumentKey(id string) string       { return "instrument:" + id }
func instrumentTokenKey(tok string) string { return "instrument:token:" + tok }

// Set stores an Instrument with a 10-minute TTL and indexes both outcome
// tokens back to the instrument.
func (ic *InstrumentCache) Set(ctx context.Context, inst domain.Instrument) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("redis: marshal instrument %s: %w", inst.ID, err)
	}

	key := instrumentKey(inst.ID)

	pipe := ic.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, instrumentTTL)

	for _, tokenID := range []string{inst.TokenYes, inst.TokenNo} {
		if tokenID == "" {
			continue
		}
		pipe.Set(ctx, instrumentTokenKey(tokenID), inst.ID, instrumentTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set instrument %s: %w", inst.ID, err)
	}
	return nil
}

// Get retrieves an Instrument by its market ID. It returns domain.ErrNotFound
// when the key does not exist.
func (ic *InstrumentCache) Get(ctx context.Context, id string) (domain.Instrument, error) {
	data, err := ic.rdb.HGet(ctx, instrumentKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Instrument{}, domain.ErrNotFound
		}
		return domain.Instrument{}, fmt.Errorf("redis: get instrument %s: %w", id, err)
	}

	var inst domain.Instrument
	if err := json.Unmarshal(data, &inst); err != nil {
		return domain.Instrument{}, fmt.Errorf("redis: unmarshal instrument %s: %w", id, err)
	}
	return inst, nil
}

// GetByToken looks up an Instrument by one of its outcome token IDs.
func (ic *InstrumentCache) GetByToken(ctx context.Context, tokenID string) (domain.Instrument, error) {
	id, err := ic.rdb.Get(ctx, instrumentTokenKey(tokenID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Instrument{}, domain.ErrNotFound
		}
		return domain.Instrument{}, fmt.Errorf("redis: get instrument by token %s: %w", tokenID, err)
	}

	return ic.Get(ctx, id)
}

// Invalidate removes an Instrument and its token index entries, typically
// after the market settles.
func (ic *InstrumentCache) Invalidate(ctx context.Context, id string) error {
	inst, err := ic.Get(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("redis: invalidate instrument %s: %w", id, err)
	}

	pipe := ic.rdb.TxPipeline()
	pipe.Del(ctx, instrumentKey(id))

	// Only delete token mappings if we successfully read the instrument.
	if err == nil {
		for _, tokenID := range []string{inst.TokenYes, inst.TokenNo} {
			if tokenID == "" {
				continue
			}
			pipe.Del(ctx, instrumentTokenKey(tokenID))
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: invalidate instrument %s: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.InstrumentCache = (*InstrumentCache)(nil)
