package job

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"escrowflow/platform"
	"escrowflow/settlement"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository defines the data access the lifecycle controller needs. All
// mutating methods run inside the controller's transaction and carry their
// own timeline/outbox writes.
type Repository interface {
	ReserveIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error
	Insert(ctx context.Context, tx pgx.Tx, buyerID string, params CreateParams) (Record, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, jobID string) (Record, error)
	Reload(ctx context.Context, tx pgx.Tx, jobID string) (Record, error)
	Fund(ctx context.Context, tx pgx.Tx, rec Record) (Record, error)
	SetSubmission(ctx context.Context, tx pgx.Tx, rec Record, hash []byte) (Record, error)
	MarkDisputed(ctx context.Context, tx pgx.Tx, rec Record, actorID string, reason DisputeReason) (Record, error)
	RecordResolution(ctx context.Context, tx pgx.Tx, rec Record, opsID string, payout int64, note string) error
	ResolveAccounts(ctx context.Context, tx pgx.Tx, rec Record) (buyerAccount, operatorAccount string, err error)
	Get(ctx context.Context, jobID string) (Record, error)
	List(ctx context.Context, filters ListFilters) ([]Record, error)
}

// Engine is the settlement collaborator invoked by the two terminal paths.
type Engine interface {
	Settle(ctx context.Context, tx pgx.Tx, params settlement.SettleParams) (settlement.Breakdown, error)
}

// ConfigSource supplies the trusted identities. Read once at the start of the
// operations that need them.
type ConfigSource interface {
	Get(ctx context.Context) (platform.Config, error)
}

// Service drives a Job Record through its lifecycle. Each call mutates
// exactly one record: it locks the row, checks authorization against the
// stored identities, checks the current state, applies the effect, and
// commits. Any failure rolls the whole operation back.
type Service struct {
	pool   TxBeginner
	repo   Repository
	engine Engine
	config ConfigSource
	now    func() time.Time
}

func NewService(pool TxBeginner, repo Repository, engine Engine, config ConfigSource) *Service {
	return &Service{
		pool:   pool,
		repo:   repo,
		engine: engine,
		config: config,
		now:    time.Now,
	}
}

// WithClock overrides the time source, mainly for tests. Time is sampled
// once per operation.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create allocates a new unfunded job owned by the caller.
func (s *Service) Create(ctx context.Context, buyerID string, params CreateParams) (Record, error) {
	if params.Reward <= 0 {
		return Record{}, ErrInvalidReward
	}
	if params.FeeBps < 0 || params.FeeBps > 10000 {
		return Record{}, ErrInvalidFeeBps
	}
	if params.OperatorID == "" {
		return Record{}, ErrOperatorRequired
	}
	now := s.now()
	if params.DeadlineAt != 0 && params.DeadlineAt <= now.Unix() {
		return Record{}, ErrInvalidDeadline
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("job: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.reserveKey(ctx, tx, params.IdempotencyKey); err != nil {
		return Record{}, err
	}

	rec, err := s.repo.Insert(ctx, tx, buyerID, params)
	if err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("job: commit: %w", err)
	}
	return rec, nil
}

// Fund moves exactly the reward from the buyer into the job's escrow holding.
func (s *Service) Fund(ctx context.Context, callerID, jobID, idemKey string) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("job: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.reserveKey(ctx, tx, idemKey); err != nil {
		return Record{}, err
	}

	rec, err := s.repo.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return Record{}, err
	}
	if err := requireActor(callerID, rec.BuyerID); err != nil {
		return Record{}, err
	}
	if rec.Status != StatusCreated {
		return Record{}, ErrInvalidStatus
	}

	funded, err := s.repo.Fund(ctx, tx, rec)
	if err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("job: commit: %w", err)
	}
	return funded, nil
}

// SubmitResult records the operator's 32-byte content commitment. Allowed
// from funded and from submitted, so the operator can overwrite a pending
// result before review; the buyer may therefore review a hash that was
// replaced after they last looked, and review settles against whatever is
// committed at review time.
func (s *Service) SubmitResult(ctx context.Context, callerID, jobID string, hash []byte) (Record, error) {
	if len(hash) != SubmissionHashLen {
		return Record{}, ErrInvalidSubmissionHash
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("job: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return Record{}, err
	}
	if err := requireActor(callerID, rec.OperatorID); err != nil {
		return Record{}, err
	}
	if rec.Status != StatusFunded && rec.Status != StatusSubmitted {
		return Record{}, ErrInvalidStatus
	}

	updated, err := s.repo.SetSubmission(ctx, tx, rec, hash)
	if err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("job: commit: %w", err)
	}
	return updated, nil
}

// Review is the buyer's verdict on a submitted result. Approval settles the
// full reward toward the operator; rejection opens a dispute for the ops
// authority to resolve.
func (s *Service) Review(ctx context.Context, callerID, jobID string, approve bool, idemKey string) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("job: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.reserveKey(ctx, tx, idemKey); err != nil {
		return Record{}, err
	}

	rec, err := s.repo.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return Record{}, err
	}
	if err := requireActor(callerID, rec.BuyerID); err != nil {
		return Record{}, err
	}
	if rec.Status != StatusSubmitted {
		return Record{}, ErrInvalidStatus
	}
	if !rec.SubmissionSet {
		return Record{}, ErrSubmissionMissing
	}

	if !approve {
		disputed, err := s.repo.MarkDisputed(ctx, tx, rec, callerID, DisputeReasonBuyerReject)
		if err != nil {
			return Record{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return Record{}, fmt.Errorf("job: commit: %w", err)
		}
		return disputed, nil
	}

	cfg, err := s.config.Get(ctx)
	if err != nil {
		return Record{}, err
	}
	settled, err := s.settle(ctx, tx, rec, cfg, rec.Reward, settlement.ReasonBuyerApprove, callerID)
	if err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("job: commit: %w", err)
	}
	return settled, nil
}

// TriggerTimeout escalates a submitted job to disputed once its deadline has
// passed. The buyer or the ops authority may call it, never the operator,
// who is a party to the review being escalated. A zero deadline disables the
// time gate entirely.
func (s *Service) TriggerTimeout(ctx context.Context, callerID, jobID string) (Record, error) {
	cfg, err := s.config.Get(ctx)
	if err != nil {
		return Record{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("job: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return Record{}, err
	}
	if callerID == "" || (callerID != rec.BuyerID && callerID != cfg.OpsID) {
		return Record{}, ErrUnauthorizedActor
	}
	if rec.Status != StatusSubmitted {
		return Record{}, ErrInvalidStatus
	}
	if rec.DeadlineAt > 0 && s.now().Unix() <= rec.DeadlineAt {
		return Record{}, ErrDeadlineNotReached
	}

	disputed, err := s.repo.MarkDisputed(ctx, tx, rec, callerID, DisputeReasonTimeout)
	if err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("job: commit: %w", err)
	}
	return disputed, nil
}

// ResolveDispute settles a disputed job with an ops-chosen payout and a
// free-form audit note.
func (s *Service) ResolveDispute(ctx context.Context, callerID, jobID string, payout int64, note, idemKey string) (Record, error) {
	if len(note) > MaxReasonLen {
		return Record{}, ErrReasonTooLong
	}

	cfg, err := s.config.Get(ctx)
	if err != nil {
		return Record{}, err
	}
	if err := requireActor(callerID, cfg.OpsID); err != nil {
		return Record{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("job: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.reserveKey(ctx, tx, idemKey); err != nil {
		return Record{}, err
	}

	rec, err := s.repo.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return Record{}, err
	}
	if rec.Status != StatusDisputed {
		return Record{}, ErrInvalidStatus
	}

	settled, err := s.settle(ctx, tx, rec, cfg, payout, settlement.ReasonDisputeResolved, callerID)
	if err != nil {
		return Record{}, err
	}
	if err := s.repo.RecordResolution(ctx, tx, rec, callerID, payout, note); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("job: commit: %w", err)
	}
	return settled, nil
}

// reserveKey claims an optional caller-supplied idempotency key inside the
// operation's transaction. Empty keys skip the check entirely.
func (s *Service) reserveKey(ctx context.Context, tx pgx.Tx, key string) error {
	if key == "" {
		return nil
	}
	return s.repo.ReserveIdempotencyKey(ctx, tx, key)
}

func (s *Service) settle(ctx context.Context, tx pgx.Tx, rec Record, cfg platform.Config, payout int64, reason settlement.Reason, actorID string) (Record, error) {
	if rec.EscrowAccountID == nil {
		return Record{}, ErrInvalidStatus
	}

	buyerAccount, operatorAccount, err := s.repo.ResolveAccounts(ctx, tx, rec)
	if err != nil {
		return Record{}, err
	}

	_, err = s.engine.Settle(ctx, tx, settlement.SettleParams{
		JobID:             rec.ID,
		EscrowAccountID:   *rec.EscrowAccountID,
		BuyerAccountID:    buyerAccount,
		OperatorAccountID: operatorAccount,
		TreasuryAccountID: cfg.TreasuryAccountID,
		Reward:            rec.Reward,
		FeeBps:            rec.FeeBps,
		Payout:            payout,
		Reason:            reason,
		ActorID:           actorID,
	})
	if err != nil {
		return Record{}, err
	}

	// The engine stamped the settlement fields and updated_at on the row;
	// re-read so the caller returns exactly what was committed.
	return s.repo.Reload(ctx, tx, rec.ID)
}

// Get returns one job record.
func (s *Service) Get(ctx context.Context, jobID string) (Record, error) {
	return s.repo.Get(ctx, jobID)
}

// List returns jobs matching the filters.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Record, error) {
	return s.repo.List(ctx, filters)
}
