package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"price-tracker/internal/models"
	"price-tracker/internal/types"
)

// setupTestStore creates an in-memory SQLite catalog for testing.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	s := New(db, logrus.New())
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func newProduct(url string, price float64) *models.Product {
	now := time.Now().UTC()
	return &models.Product{
		Name:         "Samsung Galaxy A14",
		URL:          url,
		Platform:     string(types.PlatformJumia),
		Category:     "phones",
		CurrentPrice: &price,
		LastUpdated:  &now,
	}
}

func TestBatch_InsertAndCommit(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	batch := s.NewBatch()

	id, err := batch.InsertProduct(ctx, newProduct("https://www.jumia.co.ke/a14.html", 15999))
	require.NoError(t, err)
	assert.NotZero(t, id)
	require.NoError(t, batch.AppendPriceHistory(ctx, id, 15999, time.Now().UTC()))

	// uncommitted writes are visible inside the batch
	found, err := batch.FindProductByURL(ctx, "https://www.jumia.co.ke/a14.html")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, id, found.ID)

	require.NoError(t, batch.CommitBatch(ctx))

	product, err := s.ProductByURL(ctx, "https://www.jumia.co.ke/a14.html")
	require.NoError(t, err)
	require.NotNil(t, product)
	assert.Equal(t, 15999.0, *product.CurrentPrice)
	assert.False(t, product.CreatedAt.IsZero())

	history, err := s.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 15999.0, history[0].Price)
}

func TestBatch_FindMissingProduct(t *testing.T) {
	s := setupTestStore(t)
	batch := s.NewBatch()
	defer batch.RollbackBatch(context.Background())

	product, err := batch.FindProductByURL(context.Background(), "https://jiji.co.ke/nothing.html")

	require.NoError(t, err)
	assert.Nil(t, product)
}

func TestBatch_Rollback(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	batch := s.NewBatch()

	_, err := batch.InsertProduct(ctx, newProduct("https://www.jumia.co.ke/tv.html", 32000))
	require.NoError(t, err)
	require.NoError(t, batch.RollbackBatch(ctx))

	product, err := s.ProductByURL(ctx, "https://www.jumia.co.ke/tv.html")
	require.NoError(t, err)
	assert.Nil(t, product)

	// rolling back an idle batch is a no-op
	assert.NoError(t, batch.RollbackBatch(ctx))
	assert.NoError(t, batch.CommitBatch(ctx))
}

func TestBatch_SavepointKeepsEarlierWrites(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	batch := s.NewBatch()

	require.NoError(t, batch.Savepoint(ctx, "candidate"))
	_, err := batch.InsertProduct(ctx, newProduct("https://www.jumia.co.ke/kept.html", 100))
	require.NoError(t, err)

	require.NoError(t, batch.Savepoint(ctx, "candidate"))
	_, err = batch.InsertProduct(ctx, newProduct("https://www.jumia.co.ke/undone.html", 200))
	require.NoError(t, err)
	require.NoError(t, batch.RollbackTo(ctx, "candidate"))

	require.NoError(t, batch.CommitBatch(ctx))

	kept, err := s.ProductByURL(ctx, "https://www.jumia.co.ke/kept.html")
	require.NoError(t, err)
	assert.NotNil(t, kept)

	undone, err := s.ProductByURL(ctx, "https://www.jumia.co.ke/undone.html")
	require.NoError(t, err)
	assert.Nil(t, undone)
}

func TestBatch_DuplicateURLIsPersistenceError(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	batch := s.NewBatch()
	defer batch.RollbackBatch(ctx)

	_, err := batch.InsertProduct(ctx, newProduct("https://www.jumia.co.ke/dup.html", 100))
	require.NoError(t, err)

	_, err = batch.InsertProduct(ctx, newProduct("https://www.jumia.co.ke/dup.html", 100))

	var persistence *types.PersistenceError
	require.True(t, errors.As(err, &persistence))
	assert.Equal(t, "insert product", persistence.Op)
}

func TestBatch_UpdateProduct(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	batch := s.NewBatch()

	id, err := batch.InsertProduct(ctx, newProduct("https://www.jumia.co.ke/upd.html", 100))
	require.NoError(t, err)

	name := "Samsung Galaxy A14 (64GB)"
	price := 95.0
	require.NoError(t, batch.UpdateProduct(ctx, id, models.ProductUpdate{Name: &name, CurrentPrice: &price}))
	require.NoError(t, batch.UpdateProduct(ctx, id, models.ProductUpdate{}))

	err = batch.UpdateProduct(ctx, id+100, models.ProductUpdate{Name: &name})
	assert.ErrorIs(t, err, ErrProductNotFound)

	require.NoError(t, batch.CommitBatch(ctx))

	product, err := s.ProductByURL(ctx, "https://www.jumia.co.ke/upd.html")
	require.NoError(t, err)
	assert.Equal(t, name, product.Name)
	assert.Equal(t, 95.0, *product.CurrentPrice)
	assert.Equal(t, "phones", product.Category)
}

func TestBatch_ProductsByPlatform(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	batch := s.NewBatch()

	_, err := batch.InsertProduct(ctx, newProduct("https://www.jumia.co.ke/1.html", 100))
	require.NoError(t, err)
	other := newProduct("https://jiji.co.ke/1.html", 100)
	other.Platform = string(types.PlatformJiji)
	_, err = batch.InsertProduct(ctx, other)
	require.NoError(t, err)
	require.NoError(t, batch.CommitBatch(ctx))

	products, err := s.NewBatch().ProductsByPlatform(ctx, types.PlatformJumia)

	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "https://www.jumia.co.ke/1.html", products[0].URL)
}

func TestBatch_CommitSurvivesCancelledContext(t *testing.T) {
	s := setupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	batch := s.NewBatch()

	_, err := batch.InsertProduct(ctx, newProduct("https://www.jumia.co.ke/late.html", 100))
	require.NoError(t, err)

	cancel()
	require.NoError(t, batch.CommitBatch(ctx))

	product, err := s.ProductByURL(context.Background(), "https://www.jumia.co.ke/late.html")
	require.NoError(t, err)
	assert.NotNil(t, product)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open("mysql", "user@/db", logrus.New())
	assert.Error(t, err)
}

func TestOpen_SQLite(t *testing.T) {
	s, err := Open("sqlite", ":memory:", logrus.New())
	require.NoError(t, err)
	defer s.Close()

	assert.NoError(t, s.Migrate())
}
