package job

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/identity"
	"escrowflow/ledger"
	"escrowflow/platform"
	"escrowflow/settlement"
)

// TestJobLifecycle_Integration runs the full escrow lifecycle against a real
// PostgreSQL via DATABASE_URL: the approval path and the timeout-dispute
// path, verifying ledger conservation and the event trail after each.
func TestJobLifecycle_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	for _, table := range []string{"jobs", "accounts", "timeline_events", "outbox", "platform_config", "idempotency"} {
		var exists bool
		err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		if err != nil || !exists {
			t.Skipf("table %s missing; apply migrations first", table)
		}
	}

	env := seedEnvironment(ctx, t, pool)

	platformService := platform.NewService(pool, platform.NewRepository(pool))
	if _, err := platformService.Initialize(ctx, env.admin.ID, env.ops.ID, env.treasuryAccount); err != nil {
		t.Fatalf("initialize platform: %v", err)
	}

	svc := NewService(pool, NewRepository(pool), settlement.NewEngine(), platformService)

	deposit := func(userID string, amount int64) {
		accountID, err := ledger.AccountForUser(ctx, pool, userID)
		if err != nil {
			t.Fatalf("resolve account: %v", err)
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		defer tx.Rollback(ctx)
		if err := ledger.Deposit(ctx, tx, accountID, amount); err != nil {
			t.Fatalf("deposit: %v", err)
		}
		if err := tx.Commit(ctx); err != nil {
			t.Fatalf("commit deposit: %v", err)
		}
	}

	balance := func(userID string) int64 {
		accountID, err := ledger.AccountForUser(ctx, pool, userID)
		if err != nil {
			t.Fatalf("resolve account: %v", err)
		}
		bal, err := ledger.Balance(ctx, pool, accountID)
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		return bal
	}

	totalBalance := func() int64 {
		var total int64
		if err := pool.QueryRow(ctx, `
            SELECT COALESCE(SUM(balance), 0) FROM accounts
            WHERE owner_user_id IN ($1, $2) OR id = $3
               OR id IN (SELECT escrow_account_id FROM jobs WHERE buyer_id = $1 AND escrow_account_id IS NOT NULL)
        `, env.buyer.ID, env.operator.ID, env.treasuryAccount).Scan(&total); err != nil {
			t.Fatalf("sum balances: %v", err)
		}
		return total
	}

	hash := sha256.Sum256([]byte("result payload"))

	t.Run("approval path", func(t *testing.T) {
		deposit(env.buyer.ID, 1000)
		before := totalBalance()

		rec, err := svc.Create(ctx, env.buyer.ID, CreateParams{
			JobRef: time.Now().UnixNano(), OperatorID: env.operator.ID, Reward: 1000, FeeBps: 500,
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		fundKey := fmt.Sprintf("fund-%d", time.Now().UnixNano())
		if rec, err = svc.Fund(ctx, env.buyer.ID, rec.ID, fundKey); err != nil {
			t.Fatalf("fund: %v", err)
		}
		if bal, err := ledger.Balance(ctx, pool, *rec.EscrowAccountID); err != nil || bal != 1000 {
			t.Fatalf("escrow balance after funding: %d (%v)", bal, err)
		}
		// A replayed request with the reserved key must not run again.
		if _, err := svc.Fund(ctx, env.buyer.ID, rec.ID, fundKey); !errors.Is(err, ErrDuplicateIdempotencyKey) {
			t.Fatalf("expected ErrDuplicateIdempotencyKey on replay, got %v", err)
		}
		if rec, err = svc.SubmitResult(ctx, env.operator.ID, rec.ID, hash[:]); err != nil {
			t.Fatalf("submit: %v", err)
		}
		preSettle := rec.UpdatedAt
		if rec, err = svc.Review(ctx, env.buyer.ID, rec.ID, true, ""); err != nil {
			t.Fatalf("approve: %v", err)
		}

		if rec.Status != StatusSettled || rec.FeeAmount != 50 || rec.OperatorReceive != 950 || rec.BuyerRefund != 0 {
			t.Fatalf("unexpected settlement: %+v", rec)
		}
		// The settling call returns the row as committed, timestamps included.
		if !rec.UpdatedAt.After(preSettle) {
			t.Fatalf("updated_at not refreshed by settlement: %v", rec.UpdatedAt)
		}
		if got := balance(env.operator.ID); got != 950 {
			t.Fatalf("operator balance: %d", got)
		}
		if bal, err := ledger.Balance(ctx, pool, *rec.EscrowAccountID); err != nil || bal != 0 {
			t.Fatalf("escrow must drain to zero, got %d (%v)", bal, err)
		}
		if after := totalBalance(); after != before {
			t.Fatalf("conservation violated: before=%d after=%d", before, after)
		}

		verifyTimeline(ctx, t, pool, rec.ID, []string{"JOB_CREATED", "JOB_FUNDED", "RESULT_SUBMITTED", "JOB_SETTLED"})

		stored, err := svc.Get(ctx, rec.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if !bytes.Equal(stored.SubmissionHash, hash[:]) {
			t.Fatal("stored hash mismatch")
		}
	})

	t.Run("timeout dispute path", func(t *testing.T) {
		deposit(env.buyer.ID, 1000)
		before := totalBalance()

		rec, err := svc.Create(ctx, env.buyer.ID, CreateParams{
			JobRef: time.Now().UnixNano(), OperatorID: env.operator.ID, Reward: 1000, FeeBps: 500,
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if rec, err = svc.Fund(ctx, env.buyer.ID, rec.ID, ""); err != nil {
			t.Fatalf("fund: %v", err)
		}
		if rec, err = svc.SubmitResult(ctx, env.operator.ID, rec.ID, hash[:]); err != nil {
			t.Fatalf("submit: %v", err)
		}
		if rec, err = svc.TriggerTimeout(ctx, env.buyer.ID, rec.ID); err != nil {
			t.Fatalf("timeout: %v", err)
		}
		if rec.Status != StatusDisputed {
			t.Fatalf("expected disputed, got %s", rec.Status)
		}

		buyerBefore := balance(env.buyer.ID)
		operatorBefore := balance(env.operator.ID)

		rec, err = svc.ResolveDispute(ctx, env.ops.ID, rec.ID, 400, "partial delivery accepted", "")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if rec.FeeAmount != 20 || rec.OperatorReceive != 380 || rec.BuyerRefund != 600 {
			t.Fatalf("unexpected breakdown: %+v", rec)
		}
		if got := balance(env.buyer.ID); got != buyerBefore+600 {
			t.Fatalf("buyer refund not applied: %d", got)
		}
		if got := balance(env.operator.ID); got != operatorBefore+380 {
			t.Fatalf("operator payout not applied: %d", got)
		}
		if after := totalBalance(); after != before {
			t.Fatalf("conservation violated: before=%d after=%d", before, after)
		}

		verifyTimeline(ctx, t, pool, rec.ID, []string{"JOB_CREATED", "JOB_FUNDED", "RESULT_SUBMITTED", "JOB_DISPUTED", "JOB_SETTLED", "DISPUTE_RESOLVED"})
	})
}

// verifyTimeline asserts the per-job event trail has the expected types in
// order with gapless sequence numbers starting at 1.
func verifyTimeline(ctx context.Context, t *testing.T, pool *pgxpool.Pool, jobID string, expected []string) {
	t.Helper()

	rows, err := pool.Query(ctx, `SELECT seq, type FROM timeline_events WHERE job_id = $1 ORDER BY seq`, jobID)
	if err != nil {
		t.Fatalf("query timeline: %v", err)
	}
	defer rows.Close()

	var got []string
	seq := 0
	for rows.Next() {
		var s int
		var typ string
		if err := rows.Scan(&s, &typ); err != nil {
			t.Fatalf("scan timeline: %v", err)
		}
		seq++
		if s != seq {
			t.Fatalf("sequence gap: expected %d, got %d", seq, s)
		}
		got = append(got, typ)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterate timeline: %v", err)
	}

	if len(got) != len(expected) {
		t.Fatalf("expected %d events, got %v", len(expected), got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Fatalf("event %d: expected %s, got %s", i+1, expected[i], got[i])
		}
	}
}

type testEnv struct {
	buyer           identity.User
	operator        identity.User
	ops             identity.User
	admin           identity.User
	treasuryAccount string
}

func seedEnvironment(ctx context.Context, t *testing.T, pool *pgxpool.Pool) testEnv {
	t.Helper()

	// The config singleton permits one row; clear any leftovers from a prior
	// run against the same test database.
	if _, err := pool.Exec(ctx, `DELETE FROM platform_config`); err != nil {
		t.Fatalf("clear platform config: %v", err)
	}

	repo := identity.NewRepository(pool)
	suffix := time.Now().UnixNano()
	newUser := func(role identity.Role) identity.User {
		user, err := repo.CreateUser(ctx, identity.CreateUserParams{
			Email:        fmt.Sprintf("%s+%d@example.com", role, suffix),
			FullName:     fmt.Sprintf("Test %s", role),
			PasswordHash: "x",
			Role:         role,
		})
		if err != nil {
			t.Fatalf("seed %s: %v", role, err)
		}
		return user
	}

	env := testEnv{
		buyer:    newUser(identity.RoleBuyer),
		operator: newUser(identity.RoleOperator),
		ops:      newUser(identity.RoleOps),
		admin:    newUser(identity.RoleAdmin),
	}

	if err := pool.QueryRow(ctx, `INSERT INTO accounts (kind, balance) VALUES ('treasury', 0) RETURNING id`).Scan(&env.treasuryAccount); err != nil {
		t.Fatalf("seed treasury account: %v", err)
	}
	return env
}
