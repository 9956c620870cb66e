package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/surveypix/image-pipeline/internal/pipeline"
)

func TestBlobStoreRoundTrip(t *testing.T) {
	t.Parallel()

	s := NewBlobStore()
	uri, err := s.PutObject(context.Background(), "survey-1/item-1/full.jpg", "image/jpeg", []byte{0xff, 0xd8})
	require.NoError(t, err)
	require.Equal(t, "memory://survey-1/item-1/full.jpg", uri)

	data, ok := s.Object("survey-1/item-1/full.jpg")
	require.True(t, ok)
	require.Equal(t, []byte{0xff, 0xd8}, data)

	_, ok = s.Object("missing")
	require.False(t, ok)
}

func TestResultStoreRejectsRewrite(t *testing.T) {
	t.Parallel()

	s := NewResultStore()
	r := pipeline.Result{ItemID: "item-1", SurveyID: "survey-1", FinalSuccess: true}
	require.NoError(t, s.StoreResult(context.Background(), r))

	err := s.StoreResult(context.Background(), r)
	require.Error(t, err)

	got, ok := s.Result("item-1")
	require.True(t, ok)
	require.True(t, got.FinalSuccess)
	require.Len(t, s.Results(), 1)
}

func TestResultStoreRequiresItemID(t *testing.T) {
	t.Parallel()

	s := NewResultStore()
	require.Error(t, s.StoreResult(context.Background(), pipeline.Result{}))
}

func TestImageIndexScopesLookupsToSurvey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	x := NewImageIndex()
	require.NoError(t, x.Record(ctx, "survey-1", "item-1", "hash-a", ""))
	require.NoError(t, x.Record(ctx, "survey-2", "item-2", "hash-a", ""))

	canonical, found, err := x.FindCanonical(ctx, "survey-1", "hash-a", "item-9")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "item-1", canonical)

	// The same hash in another survey is never linked across surveys.
	canonical, found, err = x.FindCanonical(ctx, "survey-3", "hash-a", "item-9")
	require.NoError(t, err)
	require.False(t, found)
	require.Empty(t, canonical)
}

func TestImageIndexSkipsDuplicatesAndSelf(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	x := NewImageIndex()
	require.NoError(t, x.Record(ctx, "survey-1", "item-1", "hash-a", ""))
	require.NoError(t, x.Record(ctx, "survey-1", "item-2", "hash-a", "item-1"))

	// item-2 is a duplicate, so it is never offered as canonical.
	canonical, found, err := x.FindCanonical(ctx, "survey-1", "hash-a", "item-3")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "item-1", canonical)

	// An item looking up its own hash must not find itself.
	_, found, err = x.FindCanonical(ctx, "survey-1", "hash-a", "item-1")
	require.NoError(t, err)
	require.False(t, found)
}
