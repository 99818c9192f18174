package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"escrowflow/identity"
	"escrowflow/job"
	"escrowflow/platform"
	"escrowflow/settlement"
	"escrowflow/test/actors"
	"escrowflow/test/chaos"
	"escrowflow/test/infra"
	"escrowflow/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 90*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent actor groups")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

// TestEscrowConcurrency hammers the job lifecycle with concurrent buyers,
// operators, and ops resolvers while chaos kills random backends, and checks
// the money-conservation and event-ordering invariants on a timer.
func TestEscrowConcurrency(t *testing.T) {
	flag.Parse()
	seed := *flSeed
	rand.Seed(seed)

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("STRESS_TEST_PG_DSN") != "":
		dsn = os.Getenv("STRESS_TEST_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Fatalf("init local database: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	seedData := mustSeed(t, ctx, pool)

	platformService := platform.NewService(pool, platform.NewRepository(pool))
	if _, err := platformService.Initialize(ctx, seedData.adminID, seedData.opsID, seedData.treasuryAccount); err != nil {
		t.Fatalf("initialize platform: %v", err)
	}
	jobService := job.NewService(pool, job.NewRepository(pool), settlement.NewEngine(), platformService)

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	for i := 0; i < *flConcurrency; i++ {
		buyerID := seedData.buyerIDs[i%len(seedData.buyerIDs)]
		operatorID := seedData.operatorIDs[i%len(seedData.operatorIDs)]
		g.Go(func() error {
			return actors.BuyerCreator(ctx2, pool, jobService, buyerID, operatorID, stop)
		})
		g.Go(func() error {
			return actors.OperatorSubmitter(ctx2, pool, jobService, operatorID, stop)
		})
		g.Go(func() error {
			return actors.BuyerReviewer(ctx2, pool, jobService, buyerID, stop)
		})
	}
	g.Go(func() error { return actors.OpsResolver(ctx2, pool, jobService, seedData.opsID, stop) })
	g.Go(func() error { return actors.OutboxWorker(ctx2, pool, stop) })
	go chaos.TerminateRandomBackend(ctx2, pool, stop)

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

type seedIDs struct {
	buyerIDs        []string
	operatorIDs     []string
	opsID           string
	adminID         string
	treasuryAccount string
}

func mustSeed(t *testing.T, ctx context.Context, pool *pgxpool.Pool) seedIDs {
	t.Helper()

	repo := identity.NewRepository(pool)
	newUser := func(role identity.Role, n int) string {
		user, err := repo.CreateUser(ctx, identity.CreateUserParams{
			Email:        fmt.Sprintf("%s%d-%d@stress.example.com", role, n, rand.Int63()),
			FullName:     fmt.Sprintf("Stress %s %d", role, n),
			PasswordHash: "x",
			Role:         role,
		})
		if err != nil {
			t.Fatalf("seed %s: %v", role, err)
		}
		return user.ID
	}

	var s seedIDs
	for i := 0; i < 3; i++ {
		s.buyerIDs = append(s.buyerIDs, newUser(identity.RoleBuyer, i))
		s.operatorIDs = append(s.operatorIDs, newUser(identity.RoleOperator, i))
	}
	s.opsID = newUser(identity.RoleOps, 0)
	s.adminID = newUser(identity.RoleAdmin, 0)

	if err := pool.QueryRow(ctx, `INSERT INTO accounts (kind, balance) VALUES ('treasury', 0) RETURNING id`).Scan(&s.treasuryAccount); err != nil {
		t.Fatalf("seed treasury account: %v", err)
	}
	return s
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"jobs", `SELECT id, status, reward, fee_bps, payout, fee_amount, operator_receive, buyer_refund FROM jobs ORDER BY updated_at DESC LIMIT 50`},
		{"timeline_events", `SELECT id, job_id, seq, type, created_at FROM timeline_events ORDER BY id DESC LIMIT 50`},
		{"ledger_entries", `SELECT id, account_id, job_id, entry_type, amount, balance_after FROM ledger_entries ORDER BY id DESC LIMIT 50`},
		{"outbox", `SELECT id, topic, status, attempts, created_at FROM outbox ORDER BY created_at DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
