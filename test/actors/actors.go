package actors

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/job"
	"escrowflow/ledger"
	"escrowflow/settlement"
)

// Actors race real service calls against each other. Domain sentinels are
// expected under contention; anything else is a harness failure.
func expected(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, job.ErrInvalidStatus),
		errors.Is(err, job.ErrJobNotFound),
		errors.Is(err, job.ErrJobExists),
		errors.Is(err, job.ErrUnauthorizedActor),
		errors.Is(err, job.ErrDeadlineNotReached),
		errors.Is(err, job.ErrSubmissionMissing),
		errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, settlement.ErrInsufficientVaultBalance),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	// Chaos kills backends mid-operation.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "57P01" || pgErr.Code == "08006") {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "conn closed") ||
		strings.Contains(msg, "terminating connection") ||
		strings.Contains(msg, "unexpected EOF")
}

// BuyerCreator tops up the buyer and pushes fresh jobs through create+fund.
func BuyerCreator(ctx context.Context, pool *pgxpool.Pool, jobs *job.Service, buyerID, operatorID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		default:
		}

		reward := int64(100 + rand.Intn(900))
		if err := deposit(ctx, pool, buyerID, reward); err != nil {
			if expected(err) {
				continue
			}
			return fmt.Errorf("creator deposit: %w", err)
		}

		rec, err := jobs.Create(ctx, buyerID, job.CreateParams{
			JobRef:     rand.Int63(),
			OperatorID: operatorID,
			Reward:     reward,
			FeeBps:     rand.Intn(10001),
		})
		if err != nil {
			if expected(err) {
				continue
			}
			return fmt.Errorf("creator create: %w", err)
		}
		if _, err := jobs.Fund(ctx, buyerID, rec.ID, uuid.NewString()); err != nil && !expected(err) {
			return fmt.Errorf("creator fund: %w", err)
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// OperatorSubmitter picks up funded jobs and commits result hashes,
// occasionally resubmitting over a pending one.
func OperatorSubmitter(ctx context.Context, pool *pgxpool.Pool, jobs *job.Service, operatorID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		default:
		}

		status := "funded"
		if rand.Intn(4) == 0 {
			status = "submitted"
		}
		var jobID string
		err := pool.QueryRow(ctx, `SELECT id FROM jobs WHERE operator_id = $1 AND status = $2::job_status ORDER BY random() LIMIT 1`, operatorID, status).Scan(&jobID)
		if err == nil {
			hash := sha256.Sum256([]byte(fmt.Sprintf("result-%d", rand.Int63())))
			if _, err := jobs.SubmitResult(ctx, operatorID, jobID, hash[:]); err != nil && !expected(err) {
				return fmt.Errorf("submitter: %w", err)
			}
		}
		time.Sleep(time.Duration(15+rand.Intn(30)) * time.Millisecond)
	}
}

// BuyerReviewer approves, rejects, or escalates submitted jobs at random.
func BuyerReviewer(ctx context.Context, pool *pgxpool.Pool, jobs *job.Service, buyerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		default:
		}

		var jobID string
		err := pool.QueryRow(ctx, `SELECT id FROM jobs WHERE buyer_id = $1 AND status = 'submitted' ORDER BY random() LIMIT 1`, buyerID).Scan(&jobID)
		if err == nil {
			var opErr error
			switch rand.Intn(3) {
			case 0:
				_, opErr = jobs.Review(ctx, buyerID, jobID, true, uuid.NewString())
			case 1:
				_, opErr = jobs.Review(ctx, buyerID, jobID, false, uuid.NewString())
			default:
				_, opErr = jobs.TriggerTimeout(ctx, buyerID, jobID)
			}
			if opErr != nil && !expected(opErr) {
				return fmt.Errorf("reviewer: %w", opErr)
			}
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// OpsResolver drains the dispute queue with random payouts across the full
// valid range, including the zero-payout full refund.
func OpsResolver(ctx context.Context, pool *pgxpool.Pool, jobs *job.Service, opsID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		default:
		}

		var jobID string
		var reward int64
		err := pool.QueryRow(ctx, `SELECT id, reward FROM jobs WHERE status = 'disputed' ORDER BY random() LIMIT 1`).Scan(&jobID, &reward)
		if err == nil {
			payout := rand.Int63n(reward + 1)
			if _, err := jobs.ResolveDispute(ctx, opsID, jobID, payout, "stress resolution", uuid.NewString()); err != nil && !expected(err) {
				return fmt.Errorf("resolver: %w", err)
			}
		}
		time.Sleep(time.Duration(25+rand.Intn(50)) * time.Millisecond)
	}
}

// OutboxWorker consumes pending outbox messages with SKIP LOCKED, simulating
// the occasional delivery failure.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		default:
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE status = 'pending' ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]string, 0, 10)
		for rows.Next() {
			var id string
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts = attempts + 1 WHERE id = $1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status = 'processed' WHERE id = $1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}

func deposit(ctx context.Context, pool *pgxpool.Pool, userID string, amount int64) error {
	accountID, err := ledger.AccountForUser(ctx, pool, userID)
	if err != nil {
		return err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := ledger.Deposit(ctx, tx, accountID, amount); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
