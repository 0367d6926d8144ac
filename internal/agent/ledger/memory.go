package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/robbu/chatbot-core/server/internal/agent/model"
	errx "github.com/robbu/chatbot-core/server/internal/core/errx"
)

// MemoryLedger keeps conversation records in process memory. It honors the
// same processing-flag contract as RedisLedger and is used by tests and
// single-node development setups.
type MemoryLedger struct {
	mu      sync.Mutex
	records map[model.Identity]*model.Record
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: make(map[model.Identity]*model.Record)}
}

func (m *MemoryLedger) GetOrCreate(_ context.Context, id model.Identity, contact model.Contact, first *schema.Message) (*model.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[id]; ok {
		return copyRecord(rec), false, nil
	}
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
	m.records[id] = rec
	return copyRecord(rec), true, nil
}

func (m *MemoryLedger) Get(_ context.Context, id model.Identity) (*model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, errx.NotFound(errx.RedisNotFoundMessage)
	}
	return copyRecord(rec), nil
}

func (m *MemoryLedger) AppendAndLock(_ context.Context, id model.Identity, msgs ...*schema.Message) (*model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, errx.NotFound(errx.RedisNotFoundMessage)
	}
	if rec.Processing {
		return nil, errx.Busy()
	}
	rec.Messages = append(rec.Messages, msgs...)
	rec.Processing = true
	rec.UpdatedAt = time.Now().UTC()
	return copyRecord(rec), nil
}

func (m *MemoryLedger) Finalize(_ context.Context, id model.Identity, msgs []*schema.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return errx.NotFound(errx.RedisNotFoundMessage)
	}
	rec.Messages = make([]*schema.Message, len(msgs))
	copy(rec.Messages, msgs)
	rec.Processing = false
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func copyRecord(rec *model.Record) *model.Record {
	cp := *rec
	cp.Messages = make([]*schema.Message, len(rec.Messages))
	copy(cp.Messages, rec.Messages)
	return &cp
}

var _ model.Ledger = (*MemoryLedger)(nil)
