package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryEnqueueDedupesByKey(t *testing.T) {
	t.Parallel()

	q := NewMemory()
	ctx := context.Background()

	inserted, err := q.Enqueue(ctx, TypeCrawlListing, "crawl-l1-20260830", map[string]string{"listingId": "l1"})
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = q.Enqueue(ctx, TypeCrawlListing, "crawl-l1-20260830", map[string]string{"listingId": "l1"})
	require.NoError(t, err)
	require.False(t, inserted)

	require.Equal(t, 1, q.Depth())
}

func TestMemoryDequeueOrderAndAck(t *testing.T) {
	t.Parallel()

	q := NewMemory()
	ctx := context.Background()

	_, err := q.Enqueue(ctx, TypeCrawlListing, "a", nil)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, TypeExtractListing, "b", nil)
	require.NoError(t, err)

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Equal(t, "a", first.Key)
	require.Equal(t, 1, first.Attempt)

	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "b", second.Key)

	empty, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Nil(t, empty)

	require.NoError(t, q.Ack(ctx, first.ID))
	require.NoError(t, q.Ack(ctx, second.ID))
}

func TestMemoryNackRetriesThenFails(t *testing.T) {
	t.Parallel()

	q := NewMemory()
	ctx := context.Background()

	_, err := q.Enqueue(ctx, TypeAIReview, "ai-eval-attempt1", nil)
	require.NoError(t, err)

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Nack(ctx, job.ID, 2))

	job, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, job.Attempt)
	require.NoError(t, q.Nack(ctx, job.ID, 2))

	job, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.Nil(t, job)
}

func TestMemoryEnqueueRequiresKey(t *testing.T) {
	t.Parallel()

	q := NewMemory()
	_, err := q.Enqueue(context.Background(), TypeQualitySweep, "", nil)
	require.Error(t, err)
}
