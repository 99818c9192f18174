package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"escrowflow/events"
)

// ErrUnauthorizedAdmin signals the caller is not the stored admin identity.
var ErrUnauthorizedAdmin = errors.New("platform: caller is not admin")

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository defines the data access required by the service.
type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, params InitializeParams) (Config, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx) (Config, error)
	SetOps(ctx context.Context, tx pgx.Tx, newOpsID string) (Config, error)
	Get(ctx context.Context) (Config, error)
}

// Outbox abstracts notification publishing inside the mutating transaction.
type Outbox interface {
	Publish(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

type eventsOutbox struct{}

func (eventsOutbox) Publish(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	return events.Publish(ctx, tx, topic, payload)
}

// Service manages the configuration singleton.
type Service struct {
	pool   TxBeginner
	repo   Repository
	outbox Outbox
	now    func() time.Time
}

func NewService(pool TxBeginner, repo Repository) *Service {
	return &Service{
		pool:   pool,
		repo:   repo,
		outbox: eventsOutbox{},
		now:    time.Now,
	}
}

// WithOutbox overrides the notification sink, mainly for tests.
func (s *Service) WithOutbox(out Outbox) *Service {
	s.outbox = out
	return s
}

// WithClock overrides the time source, mainly for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Initialize creates the singleton configuration record. The caller becomes
// admin. Fails with ErrAlreadyInitialized once the record exists.
func (s *Service) Initialize(ctx context.Context, callerID string, opsID, treasuryAccountID string) (Config, error) {
	if callerID == "" || opsID == "" || treasuryAccountID == "" {
		return Config{}, fmt.Errorf("platform: admin, ops and treasury are required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Config{}, fmt.Errorf("platform: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cfg, err := s.repo.Insert(ctx, tx, InitializeParams{
		AdminID:           callerID,
		OpsID:             opsID,
		TreasuryAccountID: treasuryAccountID,
	})
	if err != nil {
		return Config{}, err
	}

	if err := s.outbox.Publish(ctx, tx, events.TopicConfigInitialized, map[string]any{
		"admin":    cfg.AdminID,
		"ops":      cfg.OpsID,
		"treasury": cfg.TreasuryAccountID,
		"ts":       s.now().Unix(),
	}); err != nil {
		return Config{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Config{}, fmt.Errorf("platform: commit: %w", err)
	}
	return cfg, nil
}

// UpdateOps replaces the ops identity. Only the stored admin may call it; no
// other configuration field is ever mutated after initialization.
func (s *Service) UpdateOps(ctx context.Context, callerID, newOpsID string) (Config, error) {
	if newOpsID == "" {
		return Config{}, fmt.Errorf("platform: new ops id required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Config{}, fmt.Errorf("platform: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.repo.GetForUpdate(ctx, tx)
	if err != nil {
		return Config{}, err
	}
	if callerID != current.AdminID {
		return Config{}, ErrUnauthorizedAdmin
	}

	updated, err := s.repo.SetOps(ctx, tx, newOpsID)
	if err != nil {
		return Config{}, err
	}

	if err := s.outbox.Publish(ctx, tx, events.TopicOpsUpdated, map[string]any{
		"admin":   current.AdminID,
		"old_ops": current.OpsID,
		"new_ops": updated.OpsID,
		"ts":      s.now().Unix(),
	}); err != nil {
		return Config{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Config{}, fmt.Errorf("platform: commit: %w", err)
	}
	return updated, nil
}

// Get returns the current configuration.
func (s *Service) Get(ctx context.Context) (Config, error) {
	return s.repo.Get(ctx)
}
