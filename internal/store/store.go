package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"price-tracker/internal/models"
)

// ErrProductNotFound is returned when an update targets a missing product
var ErrProductNotFound = errors.New("product not found")

// Store is the gorm-backed catalog and price history
type Store struct {
	db     *gorm.DB
	logger logrus.FieldLogger
}

// Open connects to the catalog database. driver is "postgres" or "sqlite".
func Open(driver, dsn string, logger logrus.FieldLogger) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "", "postgres":
		dialector = postgres.New(postgres.Config{
			DSN:                  dsn,
			PreferSimpleProtocol: true,
		})
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogLevel(logger)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driverName(driver), err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// one writer; in-memory databases are per connection
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	logger.Infof("Connected to %s", driverName(driver))
	return New(db, logger), nil
}

// New wraps an existing gorm connection
func New(db *gorm.DB, logger logrus.FieldLogger) *Store {
	return &Store{db: db, logger: logger}
}

// Migrate creates or updates the products and price_history tables
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&models.Product{}, &models.PriceHistory{}); err != nil {
		return fmt.Errorf("failed to migrate catalog schema: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// NewBatch starts an empty write batch. Its transaction begins on first use.
func (s *Store) NewBatch() *Batch {
	return &Batch{db: s.db, logger: s.logger}
}

// ProductByURL reads a committed product, returning nil when none exists
func (s *Store) ProductByURL(ctx context.Context, url string) (*models.Product, error) {
	return findProductByURL(s.db.WithContext(ctx), url)
}

// History returns the committed price history of a product in insertion order
func (s *Store) History(ctx context.Context, productID uint) ([]models.PriceHistory, error) {
	var history []models.PriceHistory
	err := s.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("id").
		Find(&history).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read price history: %w", err)
	}
	return history, nil
}

func findProductByURL(db *gorm.DB, url string) (*models.Product, error) {
	var product models.Product
	if err := db.Where("url = ?", url).First(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find product: %w", err)
	}
	return &product, nil
}

func gormLogLevel(logger logrus.FieldLogger) gormLogger.LogLevel {
	if l, ok := logger.(*logrus.Logger); ok && l.IsLevelEnabled(logrus.DebugLevel) {
		return gormLogger.Info
	}
	if e, ok := logger.(*logrus.Entry); ok && e.Logger.IsLevelEnabled(logrus.DebugLevel) {
		return gormLogger.Info
	}
	return gormLogger.Error
}

func driverName(driver string) string {
	if driver == "" {
		return "postgres"
	}
	return driver
}
