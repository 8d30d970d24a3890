package events

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/wolfman30/support-hitl/pkg/logging"
)

func TestOutboxStoreFlow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newOutboxStoreWithExec(mock)

	mock.ExpectExec("INSERT INTO outbox").WithArgs(pgxmock.AnyArg(), "appr-1", TypeApprovalTransitioned, pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	if _, err := store.Insert(context.Background(), "appr-1", TypeApprovalTransitioned, map[string]string{"to": "approved"}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	now := time.Now().UTC()
	id := uuid.New()
	rows := pgxmock.NewRows([]string{"id", "aggregate_id", "type", "payload", "attempts", "created_at"}).
		AddRow(id, "appr-1", TypeApprovalTransitioned, []byte(`{"to":"approved"}`), 2, now)
	mock.ExpectQuery("SELECT id").WithArgs(int32(10), 5).WillReturnRows(rows)

	entries, err := store.FetchPending(context.Background(), 10, 5)
	if err != nil {
		t.Fatalf("fetch pending failed: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != id || entries[0].Attempts != 2 {
		t.Fatalf("unexpected entries: %#v", entries)
	}

	mock.ExpectExec("UPDATE outbox").WithArgs(id, "broker down").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := store.MarkFailed(context.Background(), id, errors.New("broker down")); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	mock.ExpectExec("UPDATE outbox").WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := store.MarkDelivered(context.Background(), id)
	if err != nil {
		t.Fatalf("mark delivered failed: %v", err)
	}
	if !ok {
		t.Fatal("expected mark delivered to report success")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

type fakeOutbox struct {
	entries   []OutboxEntry
	fetchErr  error
	delivered []uuid.UUID
	failed    map[uuid.UUID]string
}

func (f *fakeOutbox) FetchPending(context.Context, int32, int) ([]OutboxEntry, error) {
	return f.entries, f.fetchErr
}

func (f *fakeOutbox) MarkDelivered(_ context.Context, id uuid.UUID) (bool, error) {
	f.delivered = append(f.delivered, id)
	return true, nil
}

func (f *fakeOutbox) MarkFailed(_ context.Context, id uuid.UUID, cause error) error {
	if f.failed == nil {
		f.failed = map[uuid.UUID]string{}
	}
	f.failed[id] = cause.Error()
	return nil
}

type handlerFunc func(context.Context, OutboxEntry) error

func (f handlerFunc) Handle(ctx context.Context, e OutboxEntry) error { return f(ctx, e) }

func TestDelivererRunOnce(t *testing.T) {
	good, bad := uuid.New(), uuid.New()
	store := &fakeOutbox{entries: []OutboxEntry{{ID: good, Type: "a"}, {ID: bad, Type: "b"}}}
	handler := handlerFunc(func(_ context.Context, e OutboxEntry) error {
		if e.ID == bad {
			return errors.New("broker down")
		}
		return nil
	})

	d := newDeliverer(store, handler, logging.NewWithWriter(io.Discard, "error"))
	if n := d.RunOnce(context.Background()); n != 1 {
		t.Fatalf("expected 1 delivered, got %d", n)
	}
	if len(store.delivered) != 1 || store.delivered[0] != good {
		t.Fatalf("unexpected delivered ids %v", store.delivered)
	}
	if store.failed[bad] != "broker down" {
		t.Fatalf("expected failure recorded, got %v", store.failed)
	}
}

func TestDelivererFetchError(t *testing.T) {
	store := &fakeOutbox{fetchErr: errors.New("db gone")}
	d := newDeliverer(store, handlerFunc(func(context.Context, OutboxEntry) error { return nil }), logging.NewWithWriter(io.Discard, "error"))
	if n := d.RunOnce(context.Background()); n != 0 {
		t.Fatalf("expected nothing delivered, got %d", n)
	}
}

func TestDelivererStartReturnsOnCancel(t *testing.T) {
	store := &fakeOutbox{}
	d := newDeliverer(store, handlerFunc(func(context.Context, OutboxEntry) error { return nil }), nil).WithInterval(5 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Start(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("deliverer did not stop")
	}
}

func TestNewDelivererWithoutStoreIsInert(t *testing.T) {
	d := NewDeliverer(nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Start(ctx)
}
