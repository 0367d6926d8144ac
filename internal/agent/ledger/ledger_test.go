package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cloudwego/eino/schema"

	"github.com/robbu/chatbot-core/server/internal/agent/model"
	errx "github.com/robbu/chatbot-core/server/internal/core/errx"
)

func testIdentity() model.Identity {
	return model.Identity{Phone: "5511999990000", Project: "HelpDesk IA", Protocol: "whatsapp"}
}

func testContact() model.Contact {
	return model.Contact{
		Name:     "Maria",
		Project:  "HelpDesk IA",
		Protocol: "whatsapp",
		Channel:  model.Channel{Phone: "5511999990000"},
	}
}

func TestMemoryLedgerCreateTakesLock(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	id := testIdentity()

	rec, created, err := l.GetOrCreate(ctx, id, testContact(), schema.UserMessage("oi"))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if !created {
		t.Fatal("expected first call to create the record")
	}
	if len(rec.Messages) != 1 || rec.Messages[0].Content != "oi" {
		t.Fatalf("unexpected initial messages: %+v", rec.Messages)
	}
	if !rec.Processing {
		t.Fatal("creation must take the turn lock")
	}

	rec2, created, err := l.GetOrCreate(ctx, id, testContact(), schema.UserMessage("ignored"))
	if err != nil {
		t.Fatalf("GetOrCreate again: %v", err)
	}
	if created {
		t.Fatal("second call must reuse the existing record")
	}
	if len(rec2.Messages) != 1 {
		t.Fatalf("existing record must keep its messages, got %d", len(rec2.Messages))
	}
}

func TestMemoryLedgerBusyLifecycle(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	id := testIdentity()
	first := schema.UserMessage("quero ajuda")
	if _, _, err := l.GetOrCreate(ctx, id, testContact(), first); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	// the creating turn is still in flight
	_, busyErr := l.AppendAndLock(ctx, id, schema.UserMessage("de novo"))
	if !errors.Is(busyErr, errx.ErrBusy) {
		t.Fatalf("expected ErrBusy while locked, got %v", busyErr)
	}
	if got := errx.Status(busyErr); got != 406 {
		t.Fatalf("busy status = %d, want 406", got)
	}

	reply := schema.AssistantMessage("posso ajudar sim", nil)
	if err := l.Finalize(ctx, id, []*schema.Message{first, reply}); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	got, err := l.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Processing {
		t.Fatal("record must be released after finalize")
	}
	want := []string{"quero ajuda", "posso ajudar sim"}
	if len(got.Messages) != len(want) {
		t.Fatalf("message count = %d, want %d", len(got.Messages), len(want))
	}
	for i, w := range want {
		if got.Messages[i].Content != w {
			t.Fatalf("message[%d] = %q, want %q", i, got.Messages[i].Content, w)
		}
	}

	// a new turn can start after release, and it relocks
	rec, err := l.AppendAndLock(ctx, id, schema.UserMessage("mais uma coisa"))
	if err != nil {
		t.Fatalf("AppendAndLock after finalize: %v", err)
	}
	if !rec.Processing || len(rec.Messages) != 3 {
		t.Fatalf("unexpected record after relock: %+v", rec)
	}
}

func TestMemoryLedgerConcurrentLockIsExclusive(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	id := testIdentity()
	if _, _, err := l.GetOrCreate(ctx, id, testContact(), nil); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := l.Finalize(ctx, id, nil); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	wins := make(chan int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := l.AppendAndLock(ctx, id, schema.UserMessage("corrida")); err == nil {
				wins <- n
			} else if !errors.Is(err, errx.ErrBusy) {
				t.Errorf("worker %d: unexpected error %v", n, err)
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var winners int
	for range wins {
		winners++
	}
	if winners != 1 {
		t.Fatalf("exactly one caller may take the lock, got %d", winners)
	}

	rec, err := l.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(rec.Messages) != 1 {
		t.Fatalf("only the winning turn may append, got %d messages", len(rec.Messages))
	}
}

func TestMemoryLedgerUnknownConversation(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	id := testIdentity()

	if _, err := l.Get(ctx, id); !errors.Is(err, errx.ErrNotFound) {
		t.Fatalf("Get on missing record: got %v, want ErrNotFound", err)
	}
	if _, err := l.AppendAndLock(ctx, id, schema.UserMessage("oi")); !errors.Is(err, errx.ErrNotFound) {
		t.Fatalf("AppendAndLock on missing record: got %v, want ErrNotFound", err)
	}
	if err := l.Finalize(ctx, id, nil); !errors.Is(err, errx.ErrNotFound) {
		t.Fatalf("Finalize on missing record: got %v, want ErrNotFound", err)
	}
}

func TestMemoryLedgerReturnsCopies(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	id := testIdentity()
	original := schema.UserMessage("original")
	if _, _, err := l.GetOrCreate(ctx, id, testContact(), original); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := l.Finalize(ctx, id, []*schema.Message{original}); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	rec, err := l.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	rec.Messages[0] = schema.UserMessage("mutated")
	rec.Processing = true

	fresh, err := l.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if fresh.Messages[0].Content != "original" || fresh.Processing {
		t.Fatal("caller mutations must not leak into the stored record")
	}
}
