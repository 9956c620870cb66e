package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ImageIndex stores perceptual hashes and answers canonical lookups. Rows
// with a NULL duplicate_of are canonical; duplicates point at exactly one
// canonical row, never at another duplicate.
type ImageIndex struct {
	pool querier
}

// NewImageIndex wraps an existing pool.
func NewImageIndex(pool querier) (*ImageIndex, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ImageIndex{pool: pool}, nil
}

// FindCanonical returns the canonical item within a survey holding the
// given hash, excluding the caller's own item. The oldest canonical row
// wins so concurrent inserts of the same hash converge on one owner.
func (x *ImageIndex) FindCanonical(ctx context.Context, surveyID, hash, excludeItemID string) (string, bool, error) {
	query := `
SELECT item_id FROM image_index
WHERE survey_id = $1
  AND perceptual_hash = $2
  AND duplicate_of IS NULL
  AND item_id <> $3
ORDER BY recorded_at
LIMIT 1`

	var itemID string
	err := x.pool.QueryRow(ctx, query, surveyID, hash, excludeItemID).Scan(&itemID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find canonical image: %w", err)
	}
	return itemID, true, nil
}

// Record inserts an index row. An empty duplicateOf records a canonical
// image; a non-empty one records a duplicate link.
func (x *ImageIndex) Record(ctx context.Context, surveyID, itemID, hash string, duplicateOf string) error {
	query := `
INSERT INTO image_index (survey_id, item_id, perceptual_hash, duplicate_of, recorded_at)
VALUES ($1, $2, $3, NULLIF($4, ''), now())`

	if _, err := x.pool.Exec(ctx, query, surveyID, itemID, hash, duplicateOf); err != nil {
		return fmt.Errorf("record image hash: %w", err)
	}
	return nil
}
