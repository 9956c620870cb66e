package dedup

import (
	"context"
	"fmt"
	"image"

	"go.uber.org/zap"

	"github.com/surveypix/image-pipeline/internal/metrics"
	"github.com/surveypix/image-pipeline/internal/pipeline"
)

// Detector links each successfully fetched image either to a canonical
// asset already seen in the same survey or stores it as a new canonical
// asset. Duplicate links always point at a canonical item, never at
// another duplicate, so the duplicate graph stays one level deep.
type Detector struct {
	index pipeline.ImageIndex
	blobs pipeline.BlobStore
	log   *zap.Logger
}

// NewDetector constructs a Detector.
func NewDetector(index pipeline.ImageIndex, blobs pipeline.BlobStore, log *zap.Logger) *Detector {
	metrics.Init()
	if log == nil {
		log = zap.NewNop()
	}
	return &Detector{index: index, blobs: blobs, log: log}
}

// Process hashes a decoded image and resolves its duplicate status within
// the item's survey. For a new canonical image it stores the re-encoded
// full image and a thumbnail and records the hash; for a duplicate it only
// records the link, the canonical item keeps sole ownership of the stored
// bytes. Returns the asset and, for duplicates, the canonical item ID.
func (d *Detector) Process(ctx context.Context, item pipeline.WorkItem, img image.Image) (*pipeline.ImageAsset, string, error) {
	hash, err := PerceptualHash(img)
	if err != nil {
		return nil, "", err
	}

	canonical, found, err := d.index.FindCanonical(ctx, item.SurveyID, hash, item.ID)
	if err != nil {
		return nil, "", fmt.Errorf("canonical lookup: %w", err)
	}
	if found {
		if err := d.index.Record(ctx, item.SurveyID, item.ID, hash, canonical); err != nil {
			return nil, "", fmt.Errorf("record duplicate: %w", err)
		}
		metrics.ObserveDuplicate()
		d.log.Debug("duplicate image detected",
			zap.String("item_id", item.ID),
			zap.String("survey_id", item.SurveyID),
			zap.String("canonical_item_id", canonical),
			zap.String("hash", hash))
		return &pipeline.ImageAsset{PerceptualHash: hash}, canonical, nil
	}

	full, err := EncodeJPEG(img)
	if err != nil {
		return nil, "", err
	}
	thumb, err := EncodeJPEG(Thumbnail(img))
	if err != nil {
		return nil, "", fmt.Errorf("encode thumbnail: %w", err)
	}

	fullURI, err := d.blobs.PutObject(ctx, objectPath(item, "full.jpg"), "image/jpeg", full)
	if err != nil {
		return nil, "", fmt.Errorf("store full image: %w", err)
	}
	thumbURI, err := d.blobs.PutObject(ctx, objectPath(item, "thumb.jpg"), "image/jpeg", thumb)
	if err != nil {
		return nil, "", fmt.Errorf("store thumbnail: %w", err)
	}

	if err := d.index.Record(ctx, item.SurveyID, item.ID, hash, ""); err != nil {
		return nil, "", fmt.Errorf("record canonical: %w", err)
	}

	return &pipeline.ImageAsset{
		FullImage:      full,
		Thumbnail:      thumb,
		PerceptualHash: hash,
		FullURI:        fullURI,
		ThumbnailURI:   thumbURI,
	}, "", nil
}

func objectPath(item pipeline.WorkItem, name string) string {
	return fmt.Sprintf("%s/%s/%s", item.SurveyID, item.ID, name)
}
