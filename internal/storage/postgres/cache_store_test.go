package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func TestLookupRangeReturnsEntries(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCacheStoreWithPool(mock, "image_cache")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	source := "https://static.wikia.nocookie.net/numberwiki/images/a/ab/Fifty.png"

	mock.ExpectQuery("SELECT number, storage_locator, original_source_url, created_at").
		WithArgs(int64(1), int64(100)).
		WillReturnRows(pgxmock.NewRows(
			[]string{"number", "storage_locator", "original_source_url", "created_at"}).
			AddRow(int64(50), "characters/50/abc123.png", &source, now).
			AddRow(int64(7), "characters/7/def456.png", (*string)(nil), now))

	entries, err := store.LookupRange(context.Background(), 1, 100)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.Equal(t, "characters/50/abc123.png", entries[50].StorageLocator)
	require.Equal(t, source, entries[50].OriginalSourceURL)
	require.Empty(t, entries[7].OriginalSourceURL)
	require.Equal(t, now, entries[7].CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupRangeEmpty(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCacheStoreWithPool(mock, "image_cache")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT number, storage_locator, original_source_url, created_at").
		WithArgs(int64(200), int64(300)).
		WillReturnRows(pgxmock.NewRows(
			[]string{"number", "storage_locator", "original_source_url", "created_at"}))

	entries, err := store.LookupRange(context.Background(), 200, 300)
	require.NoError(t, err)
	require.Empty(t, entries)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCacheStoreWithPool(mock, "image_cache")
	require.NoError(t, err)

	source := "https://static.wikia.nocookie.net/numberwiki/images/b/bc/Seven.png"
	mock.ExpectExec("INSERT INTO image_cache").
		WithArgs(int64(7), "characters/7/def456.png", &source).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.Upsert(context.Background(), 7, "characters/7/def456.png", source)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRequiresLocator(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCacheStoreWithPool(mock, "image_cache")
	require.NoError(t, err)

	err = store.Upsert(context.Background(), 7, "", "whatever")
	require.Error(t, err)
}

func TestNewCacheStoreWithPoolRejectsBadTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewCacheStoreWithPool(mock, "image-cache; DROP TABLE")
	require.Error(t, err)
}
