package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func newMockQueue(t *testing.T) (*Postgres, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresWithPool(mock), mock
}

func TestPostgresEnqueueInserts(t *testing.T) {
	t.Parallel()

	q, mock := newMockQueue(t)
	payload, _ := json.Marshal(map[string]string{"listingId": "l1"})

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(TypeCrawlListing, "crawl-l1-20260830", payload).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	inserted, err := q.Enqueue(context.Background(), TypeCrawlListing, "crawl-l1-20260830", map[string]string{"listingId": "l1"})
	require.NoError(t, err)
	require.True(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEnqueueConflictReportsDuplicate(t *testing.T) {
	t.Parallel()

	q, mock := newMockQueue(t)

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := q.Enqueue(context.Background(), TypeCrawlListing, "crawl-l1-20260830", nil)
	require.NoError(t, err)
	require.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDequeueClaimsJob(t *testing.T) {
	t.Parallel()

	q, mock := newMockQueue(t)

	rows := pgxmock.NewRows([]string{"id", "job_type", "job_key", "payload", "attempt"}).
		AddRow("job-1", TypeExtractListing, "extract-a1", []byte(`{"attemptId":"a1"}`), 1)
	mock.ExpectQuery("UPDATE jobs").WillReturnRows(rows)

	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, TypeExtractListing, job.Type)
	require.Equal(t, "extract-a1", job.Key)
	require.Equal(t, 1, job.Attempt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDequeueEmpty(t *testing.T) {
	t.Parallel()

	q, mock := newMockQueue(t)

	mock.ExpectQuery("UPDATE jobs").WillReturnRows(pgxmock.NewRows([]string{"id"}))

	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Nil(t, job)
}

func TestPostgresAckAndNack(t *testing.T) {
	t.Parallel()

	q, mock := newMockQueue(t)

	mock.ExpectExec("UPDATE jobs SET status = 'done'").
		WithArgs("job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, q.Ack(context.Background(), "job-1"))

	mock.ExpectExec("UPDATE jobs").
		WithArgs("job-2", 3).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, q.Nack(context.Background(), "job-2", 3))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEnsureSchemaAppliesDDL(t *testing.T) {
	t.Parallel()

	q, mock := newMockQueue(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS jobs").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, q.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
