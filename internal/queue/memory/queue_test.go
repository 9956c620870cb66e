package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/surveypix/image-pipeline/internal/pipeline"
)

func TestClaimEmptyQueueReturnsNil(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	item, err := q.Claim(context.Background())
	require.NoError(t, err)
	require.Nil(t, item)
}

func TestClaimMarksClaimed(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	q.Add(pipeline.WorkItem{ID: "i1", SurveyID: "s1", URL: "https://example.com/a.jpg"})

	item, err := q.Claim(context.Background())
	require.NoError(t, err)
	require.NotNil(t, item)
	require.Equal(t, pipeline.ItemStateClaimed, item.State)

	stored, ok := q.Item("i1")
	require.True(t, ok)
	require.Equal(t, pipeline.ItemStateClaimed, stored.State)

	// Nothing pending remains.
	n, err := q.PendingCount(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestConcurrentClaimsNeverCollide(t *testing.T) {
	t.Parallel()

	const (
		itemCount = 200
		claimers  = 16
	)
	q := NewQueue()
	for i := 0; i < itemCount; i++ {
		q.Add(pipeline.WorkItem{
			ID:       fmt.Sprintf("item-%d", i),
			SurveyID: "s1",
			URL:      fmt.Sprintf("https://example.com/%d.jpg", i),
		})
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
	)
	for c := 0; c < claimers; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				item, err := q.Claim(context.Background())
				require.NoError(t, err)
				if item == nil {
					return
				}
				mu.Lock()
				claimed[item.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, claimed, itemCount)
	for id, n := range claimed {
		require.Equal(t, 1, n, "item %s claimed %d times", id, n)
	}
}

func TestCompleteTransitions(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	q.Add(pipeline.WorkItem{ID: "i1", SurveyID: "s1", URL: "https://example.com/a.jpg"})

	// Completing an unclaimed item is rejected.
	err := q.Complete(context.Background(), "i1", pipeline.ItemStateSucceeded, "")
	require.Error(t, err)

	_, err = q.Claim(context.Background())
	require.NoError(t, err)

	// A non-terminal state is rejected.
	err = q.Complete(context.Background(), "i1", pipeline.ItemStateClaimed, "")
	require.Error(t, err)

	err = q.Complete(context.Background(), "i1", pipeline.ItemStateSucceeded, pipeline.CompletionNotUsable)
	require.NoError(t, err)

	stored, _ := q.Item("i1")
	require.Equal(t, pipeline.ItemStateSucceeded, stored.State)
	completion, ok := q.Completion("i1")
	require.True(t, ok)
	require.Equal(t, pipeline.CompletionNotUsable, completion)

	// Unknown items error.
	err = q.Complete(context.Background(), "ghost", pipeline.ItemStateFailed, "")
	require.Error(t, err)
}

func TestCrashedWorkerLeavesItemClaimed(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	q.Add(pipeline.WorkItem{ID: "i1", SurveyID: "s1", URL: "https://example.com/a.jpg"})

	_, err := q.Claim(context.Background())
	require.NoError(t, err)

	// No Complete call happens (worker crash). The item stays CLAIMED and
	// is never handed out again.
	item, err := q.Claim(context.Background())
	require.NoError(t, err)
	require.Nil(t, item)

	stored, _ := q.Item("i1")
	require.Equal(t, pipeline.ItemStateClaimed, stored.State)
}

func TestLoadCSV(t *testing.T) {
	t.Parallel()

	data := strings.Join([]string{
		"item_id,survey_id,url,extra",
		"i1,s1,https://example.com/a.jpg,x",
		"i2,s1,https://example.com/b.jpg,y",
		"i3,s2,https://example.com/c.jpg,z",
	}, "\n")

	q := NewQueue()
	n, err := q.loadCSV(strings.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 3, n)

	pending, err := q.PendingCount(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, pending)

	item, ok := q.Item("i3")
	require.True(t, ok)
	require.Equal(t, "s2", item.SurveyID)
}

func TestLoadCSVMissingColumn(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	_, err := q.loadCSV(strings.NewReader("item_id,url\ni1,https://example.com/a.jpg"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "survey_id")
}
