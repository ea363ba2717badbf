package fireorm

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Invoice struct {
	ID     string
	Number string
	Amount float64
	Status string
}

func newInvoiceRepo(t *testing.T) *Repository[Invoice] {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.Exec(
		"CREATE TABLE invoice (id TEXT PRIMARY KEY, number TEXT, amount REAL, status TEXT)",
	).Error)

	repo, err := NewRepository[Invoice](NewGormClient(db))
	require.NoError(t, err)
	return repo
}

func seedInvoices(t *testing.T, repo *Repository[Invoice]) {
	t.Helper()
	ctx := context.Background()
	for _, inv := range []*Invoice{
		{ID: "i1", Number: "2024-001", Amount: 100, Status: "paid"},
		{ID: "i2", Number: "2024-002", Amount: 250, Status: "open"},
		{ID: "i3", Number: "2024-003", Amount: 75, Status: "open"},
		{ID: "i4", Number: "2024-004", Amount: 410, Status: "void"},
		{ID: "i5", Number: "2024-005", Amount: 180, Status: "paid"},
	} {
		_, err := repo.Create(ctx, inv)
		require.NoError(t, err)
	}
}

func TestGormDocumentRoundtrip(t *testing.T) {
	repo := newInvoiceRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, &Invoice{ID: "i1", Number: "2024-001", Amount: 99.5, Status: "open"})
	require.NoError(t, err)

	loaded, err := repo.FindByID(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, created, loaded)

	loaded.Status = "paid"
	_, err = repo.Update(ctx, loaded)
	require.NoError(t, err)

	reloaded, err := repo.FindByID(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, "paid", reloaded.Status)
	assert.Equal(t, 99.5, reloaded.Amount)

	require.NoError(t, repo.Delete(ctx, reloaded))
	_, err = repo.FindByID(ctx, "i1")
	require.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestGormMintsDocumentIDs(t *testing.T) {
	repo := newInvoiceRepo(t)

	inv, err := repo.Create(context.Background(), &Invoice{Number: "2024-009", Amount: 10})
	require.NoError(t, err)
	require.NotEmpty(t, inv.ID)
	_, err = uuid.Parse(inv.ID)
	assert.NoError(t, err, "minted id should be a uuid")
}

func TestGormQueryPipeline(t *testing.T) {
	repo := newInvoiceRepo(t)
	seedInvoices(t, repo)
	ctx := context.Background()

	t.Run("filter and order", func(t *testing.T) {
		open, err := repo.Query().
			WhereEqualTo("status", "open").
			OrderByAscending("amount").
			Find(ctx)
		require.NoError(t, err)
		require.Len(t, open, 2)
		assert.Equal(t, "i3", open[0].ID)
		assert.Equal(t, "i2", open[1].ID)
	})

	t.Run("in filter", func(t *testing.T) {
		picked, err := repo.Query().
			WhereIn("number", "2024-001", "2024-004").
			OrderByAscending("number").
			Find(ctx)
		require.NoError(t, err)
		require.Len(t, picked, 2)
		assert.Equal(t, "i1", picked[0].ID)
		assert.Equal(t, "i4", picked[1].ID)
	})

	t.Run("offset and limit", func(t *testing.T) {
		page, err := repo.Query().
			OrderByAscending("amount").
			Offset(1).
			Limit(2).
			Find(ctx)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "i1", page[0].ID)
		assert.Equal(t, "i5", page[1].ID)
	})

	t.Run("cursor bounds on the order column", func(t *testing.T) {
		window, err := repo.Query().
			OrderByAscending("amount").
			StartAfter(100).
			EndAt(250).
			Find(ctx)
		require.NoError(t, err)
		require.Len(t, window, 2)
		assert.Equal(t, "i5", window[0].ID)
		assert.Equal(t, "i2", window[1].ID)
	})

	t.Run("descending cursor flips comparisons", func(t *testing.T) {
		window, err := repo.Query().
			OrderByDescending("amount").
			StartAt(250).
			EndBefore(100).
			Find(ctx)
		require.NoError(t, err)
		require.Len(t, window, 2)
		assert.Equal(t, "i2", window[0].ID)
		assert.Equal(t, "i5", window[1].ID)
	})

	t.Run("find one", func(t *testing.T) {
		inv, err := repo.Query().
			OrderByDescending("amount").
			FindOne(ctx)
		require.NoError(t, err)
		require.NotNil(t, inv)
		assert.Equal(t, "i4", inv.ID)
	})

	t.Run("count", func(t *testing.T) {
		n, err := repo.Query().WhereGreaterOrEqualThan("amount", 100).Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(4), n)
	})
}

func TestGormRejectsArrayOperators(t *testing.T) {
	repo := newInvoiceRepo(t)
	ctx := context.Background()

	_, err := repo.Query().WhereArrayContains("status", "open").Find(ctx)
	require.ErrorIs(t, err, ErrUnsupportedOperator)

	_, err = repo.Query().WhereArrayContainsAny("status", "open", "paid").Find(ctx)
	require.ErrorIs(t, err, ErrUnsupportedOperator)
}

func TestGormBoundsRequireOrder(t *testing.T) {
	repo := newInvoiceRepo(t)
	seedInvoices(t, repo)

	_, err := repo.Query().StartAfter(100).Find(context.Background())
	require.ErrorIs(t, err, ErrInvalidQuery)
}

func TestGormBatchWrites(t *testing.T) {
	repo := newInvoiceRepo(t)
	ctx := context.Background()

	batch := repo.NewBatch().
		Create(&Invoice{ID: "i1", Number: "2024-001", Amount: 100, Status: "open"}).
		Create(&Invoice{ID: "i2", Number: "2024-002", Amount: 200, Status: "open"}).
		Create(&Invoice{ID: "i3", Number: "2024-003", Amount: 300, Status: "open"})
	require.Equal(t, 3, batch.Len())
	require.NoError(t, batch.Commit(ctx))

	n, err := repo.Query().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.NoError(t, repo.NewBatch().
		Delete(&Invoice{ID: "i2"}).
		Update(&Invoice{ID: "i3", Number: "2024-003", Amount: 300, Status: "paid"}).
		Commit(ctx))

	_, err = repo.FindByID(ctx, "i2")
	require.ErrorIs(t, err, ErrDocumentNotFound)
	updated, err := repo.FindByID(ctx, "i3")
	require.NoError(t, err)
	assert.Equal(t, "paid", updated.Status)
}

func TestGormTransactionRollsBack(t *testing.T) {
	repo := newInvoiceRepo(t)
	ctx := context.Background()
	boom := errors.New("abort")

	err := repo.RunTransaction(ctx, func(tr *TransactionRepository[Invoice]) error {
		if _, err := tr.Create(&Invoice{ID: "i1", Number: "2024-001", Amount: 50}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = repo.FindByID(ctx, "i1")
	require.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestGormTransactionReadsOwnWrites(t *testing.T) {
	repo := newInvoiceRepo(t)
	ctx := context.Background()

	err := repo.RunTransaction(ctx, func(tr *TransactionRepository[Invoice]) error {
		if _, err := tr.Create(&Invoice{ID: "i1", Number: "2024-001", Amount: 50, Status: "open"}); err != nil {
			return err
		}
		inv, err := tr.FindByID("i1")
		if err != nil {
			return err
		}
		inv.Status = "paid"
		_, err = tr.Update(inv)
		return err
	})
	require.NoError(t, err)

	inv, err := repo.FindByID(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, "paid", inv.Status)
}
