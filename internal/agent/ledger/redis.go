package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"

	"github.com/robbu/chatbot-core/server/internal/agent/model"
	errx "github.com/robbu/chatbot-core/server/internal/core/errx"
	logx "github.com/robbu/chatbot-core/server/pkg/logger"
)

// maxCASRetries bounds the optimistic retry loop when another writer races
// the same conversation key between WATCH and EXEC.
const maxCASRetries = 5

type RedisLedger struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRedisLedger(rdb redis.UniversalClient, ttl time.Duration) *RedisLedger {
	return &RedisLedger{rdb: rdb, ttl: ttl}
}

func conversationKey(id model.Identity) string {
	return fmt.Sprintf("conversation:%s:%s:%s", id.Phone, id.Project, id.Protocol)
}

func (r *RedisLedger) GetOrCreate(ctx context.Context, id model.Identity, contact model.Contact, first *schema.Message) (*model.Record, bool, error) {
	key := conversationKey(id)
	now := time.Now().UTC()
	rec := &model.Record{
		Contact:    contact,
		Messages:   []*schema.Message{},
		Processing: true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if first != nil {
		rec.Messages = append(rec.Messages, first)
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, false, fmt.Errorf("marshal conversation record: %w", err)
	}

	created, err := r.rdb.SetNX(ctx, key, b, r.ttl).Result()
	if err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to create conversation record")
		return nil, false, errx.WrapRedis(err)
	}
	if created {
		return rec, true, nil
	}
	existing, err := r.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *RedisLedger) Get(ctx context.Context, id model.Identity) (*model.Record, error) {
	key := conversationKey(id)
	raw, err := r.rdb.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			logx.Error().Err(err).Str("key", key).Msg("failed to load conversation record")
		}
		return nil, errx.WrapRedis(err)
	}
	var rec model.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to unmarshal conversation record")
		return nil, fmt.Errorf("unmarshal conversation record: %w", err)
	}
	return &rec, nil
}

// AppendAndLock appends msgs and raises the processing flag in a single
// atomic step. If the flag is already raised the conversation is mid-turn
// and the caller gets errx.ErrBusy; nothing is written in that case.
func (r *RedisLedger) AppendAndLock(ctx context.Context, id model.Identity, msgs ...*schema.Message) (*model.Record, error) {
	var out *model.Record
	err := r.update(ctx, id, func(rec *model.Record) error {
		if rec.Processing {
			return errx.Busy()
		}
		rec.Messages = append(rec.Messages, msgs...)
		rec.Processing = true
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Finalize overwrites the record with the turn's full message list and
// releases the processing flag. It succeeds even when the flag is already
// down, so a crashed turn can always be reconciled.
func (r *RedisLedger) Finalize(ctx context.Context, id model.Identity, msgs []*schema.Message) error {
	return r.update(ctx, id, func(rec *model.Record) error {
		rec.Messages = msgs
		rec.Processing = false
		return nil
	})
}

// update runs fn against the current record under WATCH and writes the
// mutated record back transactionally, retrying on concurrent modification.
func (r *RedisLedger) update(ctx context.Context, id model.Identity, fn func(*model.Record) error) error {
	key := conversationKey(id)
	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if err != nil {
			return errx.WrapRedis(err)
		}
		var rec model.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return fmt.Errorf("unmarshal conversation record: %w", err)
		}
		if err := fn(&rec); err != nil {
			return err
		}
		rec.UpdatedAt = time.Now().UTC()
		b, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("marshal conversation record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, r.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxCASRetries; i++ {
		err := r.rdb.Watch(ctx, txn, key)
		if err == redis.TxFailedErr {
			logx.Warn().Str("key", key).Int("attempt", i+1).Msg("conversation record modified concurrently, retrying")
			continue
		}
		if err != nil {
			return err
		}
		return nil
	}
	return errx.Conflict()
}

var _ model.Ledger = (*RedisLedger)(nil)
