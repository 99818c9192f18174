package platform

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"escrowflow/events"
)

var fixedNow = time.Unix(1_700_000_000, 0)

func newTestService(repo *fakeRepo) (*Service, *fakePool, *fakeOutbox) {
	pool := &fakePool{}
	out := &fakeOutbox{}
	svc := NewService(pool, repo).WithOutbox(out).WithClock(func() time.Time { return fixedNow })
	return svc, pool, out
}

func TestInitialize(t *testing.T) {
	repo := &fakeRepo{}
	svc, pool, out := newTestService(repo)

	cfg, err := svc.Initialize(context.Background(), "admin-1", "ops-1", "treasury-acc")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if cfg.AdminID != "admin-1" || cfg.OpsID != "ops-1" || cfg.TreasuryAccountID != "treasury-acc" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if !pool.tx.committed {
		t.Fatal("expected commit")
	}
	if len(out.published) != 1 || out.published[0].topic != events.TopicConfigInitialized {
		t.Fatalf("unexpected outbox writes: %+v", out.published)
	}
	if out.published[0].payload["ts"] != fixedNow.Unix() {
		t.Fatal("expected payload timestamp from the injected clock")
	}

	// Second initialization fails on the single-row constraint.
	if _, err := svc.Initialize(context.Background(), "admin-2", "ops-2", "treasury-acc"); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestInitialize_Validation(t *testing.T) {
	svc, pool, _ := newTestService(&fakeRepo{})

	if _, err := svc.Initialize(context.Background(), "", "ops-1", "treasury-acc"); err == nil {
		t.Fatal("expected error for empty admin")
	}
	if _, err := svc.Initialize(context.Background(), "admin-1", "", "treasury-acc"); err == nil {
		t.Fatal("expected error for empty ops")
	}
	if _, err := svc.Initialize(context.Background(), "admin-1", "ops-1", ""); err == nil {
		t.Fatal("expected error for empty treasury")
	}
	if pool.tx != nil {
		t.Fatal("validation failures must not open a transaction")
	}
}

func TestUpdateOps(t *testing.T) {
	repo := &fakeRepo{}
	svc, pool, out := newTestService(repo)

	if _, err := svc.Initialize(context.Background(), "admin-1", "ops-1", "treasury-acc"); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	if _, err := svc.UpdateOps(context.Background(), "ops-1", "ops-2"); !errors.Is(err, ErrUnauthorizedAdmin) {
		t.Fatalf("expected ErrUnauthorizedAdmin, got %v", err)
	}

	cfg, err := svc.UpdateOps(context.Background(), "admin-1", "ops-2")
	if err != nil {
		t.Fatalf("update ops: %v", err)
	}
	if cfg.OpsID != "ops-2" {
		t.Fatalf("expected ops-2, got %s", cfg.OpsID)
	}
	if cfg.AdminID != "admin-1" || cfg.TreasuryAccountID != "treasury-acc" {
		t.Fatalf("only the ops identity may change: %+v", cfg)
	}
	if !pool.tx.committed {
		t.Fatal("expected commit")
	}

	last := out.published[len(out.published)-1]
	if last.topic != events.TopicOpsUpdated {
		t.Fatalf("expected ops_updated topic, got %s", last.topic)
	}
	if last.payload["old_ops"] != "ops-1" || last.payload["new_ops"] != "ops-2" {
		t.Fatalf("unexpected payload: %+v", last.payload)
	}
}

func TestUpdateOps_NotInitialized(t *testing.T) {
	svc, _, _ := newTestService(&fakeRepo{})
	if _, err := svc.UpdateOps(context.Background(), "admin-1", "ops-2"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

// --- fakes ---

type fakeRepo struct {
	cfg *Config
}

func (f *fakeRepo) Insert(ctx context.Context, tx pgx.Tx, params InitializeParams) (Config, error) {
	if f.cfg != nil {
		return Config{}, ErrAlreadyInitialized
	}
	f.cfg = &Config{
		AdminID:           params.AdminID,
		OpsID:             params.OpsID,
		TreasuryAccountID: params.TreasuryAccountID,
		CreatedAt:         fixedNow,
		UpdatedAt:         fixedNow,
	}
	return *f.cfg, nil
}

func (f *fakeRepo) GetForUpdate(ctx context.Context, tx pgx.Tx) (Config, error) {
	if f.cfg == nil {
		return Config{}, ErrNotInitialized
	}
	return *f.cfg, nil
}

func (f *fakeRepo) SetOps(ctx context.Context, tx pgx.Tx, newOpsID string) (Config, error) {
	if f.cfg == nil {
		return Config{}, ErrNotInitialized
	}
	f.cfg.OpsID = newOpsID
	return *f.cfg, nil
}

func (f *fakeRepo) Get(ctx context.Context) (Config, error) {
	if f.cfg == nil {
		return Config{}, ErrNotInitialized
	}
	return *f.cfg, nil
}

type published struct {
	topic   string
	payload map[string]any
}

type fakeOutbox struct {
	published []published
}

func (f *fakeOutbox) Publish(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	f.published = append(f.published, published{topic: topic, payload: payload})
	return nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
