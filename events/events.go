// Package events writes the append-only notification records: per-job
// timeline events and transactional outbox messages. Both are written inside
// the mutating transaction so observers never see an event for a change that
// rolled back.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Timeline event types.
const (
	TypeJobCreated      = "JOB_CREATED"
	TypeJobFunded       = "JOB_FUNDED"
	TypeResultSubmitted = "RESULT_SUBMITTED"
	TypeJobDisputed     = "JOB_DISPUTED"
	TypeJobSettled      = "JOB_SETTLED"
	TypeDisputeResolved = "DISPUTE_RESOLVED"
)

// Outbox topics.
const (
	TopicConfigInitialized = "config.initialized"
	TopicOpsUpdated        = "config.ops_updated"
	TopicJobCreated        = "job.created"
	TopicJobFunded         = "job.funded"
	TopicResultSubmitted   = "job.result_submitted"
	TopicJobDisputed       = "job.disputed"
	TopicJobSettled        = "job.settled"
	TopicDisputeResolved   = "dispute.resolved"
)

// Append inserts a timeline event for the job with the next sequence number.
// Callers hold the job row lock, so the max-seq read cannot race.
func Append(ctx context.Context, tx pgx.Tx, jobID, eventType string, actorID *string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("events: marshal timeline payload: %w", err)
	}

	var actor any
	if actorID != nil && *actorID != "" {
		actor = *actorID
	}

	const q = `
        INSERT INTO timeline_events (job_id, seq, type, payload, actor_id)
        SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3::jsonb, $4::uuid
        FROM timeline_events
        WHERE job_id = $1
    `
	if _, err := tx.Exec(ctx, q, jobID, eventType, body, actor); err != nil {
		return fmt.Errorf("events: insert timeline event: %w", err)
	}
	return nil
}

// Publish enqueues an outbox message for downstream delivery.
func Publish(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("events: marshal outbox payload: %w", err)
	}
	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, q, topic, body); err != nil {
		return fmt.Errorf("events: enqueue outbox: %w", err)
	}
	return nil
}
