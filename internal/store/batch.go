package store

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"price-tracker/internal/models"
	"price-tracker/internal/types"
)

// Batch groups catalog writes into one transaction until CommitBatch or
// RollbackBatch. A Batch is owned by a single goroutine.
type Batch struct {
	db     *gorm.DB
	tx     *gorm.DB
	logger logrus.FieldLogger
}

// begin opens the transaction on first use. The transaction outlives ctx
// cancellation so a stopping run can still commit what it has.
func (b *Batch) begin(ctx context.Context) (*gorm.DB, error) {
	if b.tx != nil {
		return b.tx, nil
	}
	tx := b.db.WithContext(context.WithoutCancel(ctx)).Begin()
	if tx.Error != nil {
		return nil, &types.PersistenceError{Op: "begin", Err: tx.Error}
	}
	b.tx = tx
	return tx, nil
}

// FindProductByURL sees the batch's own uncommitted writes. It returns nil, nil when absent.
func (b *Batch) FindProductByURL(ctx context.Context, url string) (*models.Product, error) {
	tx, err := b.begin(ctx)
	if err != nil {
		return nil, err
	}
	product, err := findProductByURL(tx, url)
	if err != nil {
		return nil, &types.PersistenceError{Op: "find product", Err: err}
	}
	return product, nil
}

// InsertProduct creates a product and returns its id
func (b *Batch) InsertProduct(ctx context.Context, product *models.Product) (uint, error) {
	tx, err := b.begin(ctx)
	if err != nil {
		return 0, err
	}
	if err := tx.Create(product).Error; err != nil {
		return 0, &types.PersistenceError{Op: "insert product", Err: err}
	}
	return product.ID, nil
}

// UpdateProduct writes the non-nil fields of update
func (b *Batch) UpdateProduct(ctx context.Context, id uint, update models.ProductUpdate) error {
	if update.Empty() {
		return nil
	}
	tx, err := b.begin(ctx)
	if err != nil {
		return err
	}
	result := tx.Model(&models.Product{}).Where("id = ?", id).Updates(update.Columns())
	if result.Error != nil {
		return &types.PersistenceError{Op: "update product", Err: result.Error}
	}
	if result.RowsAffected == 0 {
		return &types.PersistenceError{Op: "update product", Err: ErrProductNotFound}
	}
	return nil
}

// AppendPriceHistory adds one observation row
func (b *Batch) AppendPriceHistory(ctx context.Context, productID uint, price float64, ts time.Time) error {
	tx, err := b.begin(ctx)
	if err != nil {
		return err
	}
	row := &models.PriceHistory{ProductID: productID, Price: price, Timestamp: ts}
	if err := tx.Create(row).Error; err != nil {
		return &types.PersistenceError{Op: "append price history", Err: err}
	}
	return nil
}

// Savepoint marks a point the batch can roll back to without losing earlier writes
func (b *Batch) Savepoint(ctx context.Context, name string) error {
	tx, err := b.begin(ctx)
	if err != nil {
		return err
	}
	if err := tx.SavePoint(name).Error; err != nil {
		return &types.PersistenceError{Op: "savepoint", Err: err}
	}
	return nil
}

// RollbackTo undoes the writes made since the named savepoint
func (b *Batch) RollbackTo(ctx context.Context, name string) error {
	if b.tx == nil {
		return nil
	}
	if err := b.tx.RollbackTo(name).Error; err != nil {
		return &types.PersistenceError{Op: "rollback to savepoint", Err: err}
	}
	return nil
}

// CommitBatch commits pending writes. The next write starts a new transaction.
func (b *Batch) CommitBatch(ctx context.Context) error {
	if b.tx == nil {
		return nil
	}
	tx := b.tx
	b.tx = nil
	if err := tx.Commit().Error; err != nil {
		tx.Rollback()
		return &types.PersistenceError{Op: "commit", Err: err}
	}
	b.logger.Debug("Committed batch")
	return nil
}

// RollbackBatch discards pending writes
func (b *Batch) RollbackBatch(ctx context.Context) error {
	if b.tx == nil {
		return nil
	}
	tx := b.tx
	b.tx = nil
	if err := tx.Rollback().Error; err != nil {
		return &types.PersistenceError{Op: "rollback", Err: err}
	}
	b.logger.Debug("Rolled back batch")
	return nil
}

// ProductsByPlatform lists the catalog entries of one platform in id order
func (b *Batch) ProductsByPlatform(ctx context.Context, platform types.Platform) ([]models.Product, error) {
	db := b.tx
	if db == nil {
		db = b.db.WithContext(ctx)
	}
	var products []models.Product
	if err := db.Where("platform = ?", string(platform)).Order("id").Find(&products).Error; err != nil {
		return nil, &types.PersistenceError{Op: "list products", Err: err}
	}
	return products, nil
}
