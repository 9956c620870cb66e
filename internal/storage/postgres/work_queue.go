package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/surveypix/image-pipeline/internal/pipeline"
)

// WorkQueue implements the claim protocol on a work_items table. The claim
// runs as a single UPDATE over a locked subselect, so two concurrent
// workers can never receive the same row: SKIP LOCKED makes the loser of a
// race pick a different row instead of blocking.
type WorkQueue struct {
	pool querier
}

// NewWorkQueue wraps an existing pool.
func NewWorkQueue(pool querier) (*WorkQueue, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &WorkQueue{pool: pool}, nil
}

// Claim flips one random PENDING row to CLAIMED and returns it. Random
// selection spreads concurrent workers across hosts and surveys instead of
// hammering whichever host dominates the top of the backlog.
func (q *WorkQueue) Claim(ctx context.Context) (*pipeline.WorkItem, error) {
	query := `
UPDATE work_items
SET state = $1, claimed_at = now()
WHERE id = (
	SELECT id FROM work_items
	WHERE state = $2
	ORDER BY random()
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING id, survey_id, url`

	var item pipeline.WorkItem
	err := q.pool.QueryRow(ctx, query, pipeline.ItemStateClaimed, pipeline.ItemStatePending).
		Scan(&item.ID, &item.SurveyID, &item.URL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim work item: %w", err)
	}
	item.State = pipeline.ItemStateClaimed
	return &item, nil
}

// Complete writes the terminal state for a claimed item. The WHERE clause
// requires the row to still be CLAIMED, so a stale caller cannot overwrite
// a result written by someone else.
func (q *WorkQueue) Complete(ctx context.Context, itemID string, state pipeline.ItemState, completion pipeline.CompletionState) error {
	if state != pipeline.ItemStateSucceeded && state != pipeline.ItemStateFailed {
		return fmt.Errorf("state %q is not terminal", state)
	}
	query := `
UPDATE work_items
SET state = $1, completion_state = NULLIF($2, ''), completed_at = now()
WHERE id = $3 AND state = $4`

	tag, err := q.pool.Exec(ctx, query, state, string(completion), itemID, pipeline.ItemStateClaimed)
	if err != nil {
		return fmt.Errorf("complete work item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %q is not CLAIMED", itemID)
	}
	return nil
}

// PendingCount reports the remaining backlog size.
func (q *WorkQueue) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := q.pool.QueryRow(ctx, `SELECT count(*) FROM work_items WHERE state = $1`, pipeline.ItemStatePending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending items: %w", err)
	}
	return n, nil
}
