package extractor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"price-tracker/adapters"
	"price-tracker/internal/models"
	"price-tracker/internal/notify"
	"price-tracker/internal/types"
	"price-tracker/utils"
)

// candidateSavepoint scopes the writes of a single candidate inside a batch
const candidateSavepoint = "candidate"

// Storage is the catalog interface the collector writes through.
// Writes are grouped into a transaction that CommitBatch or RollbackBatch ends.
type Storage interface {
	// FindProductByURL returns nil, nil when no product has this URL
	FindProductByURL(ctx context.Context, url string) (*models.Product, error)
	InsertProduct(ctx context.Context, product *models.Product) (uint, error)
	UpdateProduct(ctx context.Context, id uint, update models.ProductUpdate) error
	AppendPriceHistory(ctx context.Context, productID uint, price float64, ts time.Time) error
	CommitBatch(ctx context.Context) error
	RollbackBatch(ctx context.Context) error

	Savepoint(ctx context.Context, name string) error
	RollbackTo(ctx context.Context, name string) error
	ProductsByPlatform(ctx context.Context, platform types.Platform) ([]models.Product, error)
}

// BatchFactory returns a fresh Storage batch. Each platform task gets its own.
type BatchFactory func() Storage

// Collector walks platforms and categories, turning listings into catalog
// entries and an append-only price history
type Collector struct {
	config    *types.Config
	adapters  map[types.Platform]types.PlatformAdapter
	newBatch  BatchFactory
	publisher notify.Publisher
	retrier   *Retrier
	logger    logrus.FieldLogger
	sleep     utils.SleepFunc
	jitter    func(min, max time.Duration) time.Duration
	now       func() time.Time
}

// NewCollector creates a collector over the given adapters
func NewCollector(config *types.Config, adapterSet map[types.Platform]types.PlatformAdapter, newBatch BatchFactory, publisher notify.Publisher, logger logrus.FieldLogger) *Collector {
	if publisher == nil {
		publisher = notify.Nop{}
	}
	return &Collector{
		config:    config,
		adapters:  adapterSet,
		newBatch:  newBatch,
		publisher: publisher,
		retrier:   NewRetrier(config, logger),
		logger:    logger,
		sleep:     utils.Sleep,
		jitter:    utils.Jitter,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// PlatformStats counts candidate outcomes for one platform
type PlatformStats struct {
	Platform       types.Platform `json:"platform"`
	Added          int            `json:"added"`
	Updated        int            `json:"updated"`
	Unchanged      int            `json:"unchanged"`
	Failed         int            `json:"failed"`
	CategoryErrors int            `json:"category_errors"`
	Error          string         `json:"error,omitempty"`
}

// RunSummary is the outcome of one collection, refresh or track run
type RunSummary struct {
	RunID      string          `json:"run_id"`
	Mode       string          `json:"mode"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Platforms  []PlatformStats `json:"platforms"`
}

// Totals sums the counters of every platform
func (s *RunSummary) Totals() PlatformStats {
	var total PlatformStats
	for _, p := range s.Platforms {
		total.Added += p.Added
		total.Updated += p.Updated
		total.Unchanged += p.Unchanged
		total.Failed += p.Failed
		total.CategoryErrors += p.CategoryErrors
	}
	return total
}

// Stats returns the counters of one platform
func (s *RunSummary) Stats(platform types.Platform) (PlatformStats, bool) {
	for _, p := range s.Platforms {
		if p.Platform == platform {
			return p, true
		}
	}
	return PlatformStats{}, false
}

// platformTask processes one platform and fills in its stats
type platformTask func(ctx context.Context, log logrus.FieldLogger, adapter types.PlatformAdapter, batch *batchWriter) error

// Collect walks every configured platform and category once
func (c *Collector) Collect(ctx context.Context) (*RunSummary, error) {
	return c.run(ctx, "collect", c.config.Platforms, c.collectPlatform)
}

// Refresh re-fetches every catalog product of the configured platforms
func (c *Collector) Refresh(ctx context.Context) (*RunSummary, error) {
	return c.run(ctx, "refresh", c.config.Platforms, c.refreshPlatform)
}

// Track fetches an explicit list of product URLs on one platform. With force, a
// history row is appended even when the price did not change.
func (c *Collector) Track(ctx context.Context, platform types.Platform, urls []string, force bool) (*RunSummary, error) {
	task := func(ctx context.Context, log logrus.FieldLogger, adapter types.PlatformAdapter, batch *batchWriter) error {
		return c.fetchAndRecord(ctx, log, adapter, batch, urls, "", force)
	}
	return c.run(ctx, "track", []types.Platform{platform}, task)
}

func (c *Collector) run(ctx context.Context, mode string, platforms []types.Platform, task platformTask) (*RunSummary, error) {
	summary := &RunSummary{
		RunID:     uuid.NewString(),
		Mode:      mode,
		StartedAt: c.now(),
		Platforms: make([]PlatformStats, len(platforms)),
	}
	log := c.logger.WithFields(logrus.Fields{"run_id": summary.RunID, "mode": mode})
	log.Infof("Starting %s run over %d platforms", mode, len(platforms))

	errs := make([]error, len(platforms))
	runOne := func(ctx context.Context, i int) {
		summary.Platforms[i], errs[i] = c.runPlatform(ctx, log, summary.RunID, platforms[i], task)
	}

	if c.config.ParallelPlatforms {
		// platforms are rate-limited independently; each task owns its adapter and batch
		g, gctx := errgroup.WithContext(ctx)
		for i := range platforms {
			i := i
			g.Go(func() error {
				runOne(gctx, i)
				return nil
			})
		}
		g.Wait()
	} else {
		for i := range platforms {
			if i > 0 {
				if err := c.sleep(ctx, c.jitter(c.config.PlatformDelayMin, c.config.PlatformDelayMax)); err != nil {
					for j := i; j < len(platforms); j++ {
						summary.Platforms[j] = PlatformStats{Platform: platforms[j], Error: err.Error()}
					}
					errs[i] = err
					break
				}
			}
			runOne(ctx, i)
		}
	}

	summary.FinishedAt = c.now()
	totals := summary.Totals()
	log.WithFields(logrus.Fields{
		"added":     totals.Added,
		"updated":   totals.Updated,
		"unchanged": totals.Unchanged,
		"failed":    totals.Failed,
	}).Infof("Run completed in %v", summary.FinishedAt.Sub(summary.StartedAt))

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, errors.Join(errs...)
}

func (c *Collector) runPlatform(ctx context.Context, runLog logrus.FieldLogger, runID string, platform types.Platform, task platformTask) (PlatformStats, error) {
	stats := PlatformStats{Platform: platform}
	log := runLog.WithField("platform", string(platform))

	adapter, ok := c.adapters[platform]
	if !ok {
		err := fmt.Errorf("%w: no adapter found for %q", types.ErrUnknownPlatform, platform)
		log.Error(err)
		stats.Error = err.Error()
		return stats, err
	}

	if err := adapter.Open(); err != nil {
		err = fmt.Errorf("failed to open %s session: %w", platform, err)
		log.Error(err)
		stats.Error = err.Error()
		return stats, err
	}
	defer adapter.Close()

	batch := &batchWriter{
		store:     c.newBatch(),
		publisher: c.publisher,
		size:      c.config.BatchSize,
		stats:     &stats,
		runID:     runID,
		logger:    log,
	}

	start := time.Now()
	err := task(ctx, log, adapter, batch)
	if flushErr := batch.flush(ctx); flushErr != nil && err == nil && ctx.Err() == nil {
		err = flushErr
	}
	if err != nil && !isContextErr(err) {
		stats.Error = err.Error()
		log.Errorf("Platform run failed: %v", err)
	}

	log.WithFields(logrus.Fields{
		"added":           stats.Added,
		"updated":         stats.Updated,
		"unchanged":       stats.Unchanged,
		"failed":          stats.Failed,
		"category_errors": stats.CategoryErrors,
	}).Infof("Platform %s finished in %v", platform, time.Since(start))

	if isContextErr(err) {
		return stats, nil
	}
	return stats, err
}

func (c *Collector) collectPlatform(ctx context.Context, log logrus.FieldLogger, adapter types.PlatformAdapter, batch *batchWriter) error {
	for i, key := range c.config.Categories {
		if i > 0 {
			if err := c.sleep(ctx, c.jitter(c.config.CategoryDelayMin, c.config.CategoryDelayMax)); err != nil {
				return err
			}
		}

		catLog := log.WithField("category", key)
		categoryURL, err := adapter.CategoryURL(key)
		if err != nil {
			catLog.Warn(err)
			batch.stats.CategoryErrors++
			continue
		}

		listings, err := c.retrier.ListCategory(ctx, adapter, types.Category{Key: key, URL: categoryURL})
		if err != nil {
			if isContextErr(err) {
				return err
			}
			catLog.WithField("reason", types.Reason(err)).Errorf("Failed to list category: %v", err)
			batch.stats.CategoryErrors++
			continue
		}
		catLog.Infof("Processing up to %d of %d candidates", c.config.MaxProductsPerCategory, len(listings))

		before := *batch.stats
		taken := 0
		for _, candidate := range listings {
			if taken >= c.config.MaxProductsPerCategory {
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if !candidate.NeedsDetail {
				c.recordCandidate(ctx, catLog, adapter, batch, key, candidate)
				taken++
				continue
			}
			counted, err := c.fetchAndRecordOne(ctx, catLog, adapter, batch, candidate.URL, key, c.config.ForceHistory)
			if err != nil {
				return err
			}
			if counted {
				taken++
			}
		}
		if err := batch.flush(ctx); err != nil {
			catLog.Errorf("Failed to commit category batch: %v", err)
		}

		catLog.WithFields(logrus.Fields{
			"added":     batch.stats.Added - before.Added,
			"updated":   batch.stats.Updated - before.Updated,
			"unchanged": batch.stats.Unchanged - before.Unchanged,
			"failed":    batch.stats.Failed - before.Failed,
		}).Info("Category finished")
	}
	return nil
}

func (c *Collector) refreshPlatform(ctx context.Context, log logrus.FieldLogger, adapter types.PlatformAdapter, batch *batchWriter) error {
	products, err := batch.store.ProductsByPlatform(ctx, adapter.Platform())
	if err != nil {
		return err
	}
	log.Infof("Refreshing %d catalog products", len(products))

	urls := make([]string, len(products))
	for i, p := range products {
		urls[i] = p.URL
	}
	return c.fetchAndRecord(ctx, log, adapter, batch, urls, "", c.config.ForceHistory)
}

// fetchAndRecord fetches each detail page through the retrier and records it
func (c *Collector) fetchAndRecord(ctx context.Context, log logrus.FieldLogger, adapter types.PlatformAdapter, batch *batchWriter, urls []string, category string, force bool) error {
	for _, productURL := range urls {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.fetchAndRecordOne(ctx, log, adapter, batch, productURL, category, force); err != nil {
			return err
		}
	}
	return nil
}

// fetchAndRecordOne fetches one detail page through the retrier and records it.
// A fetch failure is counted as failed. It reports false when the product was
// skipped by the adapter's category filter, and returns only context errors.
func (c *Collector) fetchAndRecordOne(ctx context.Context, log logrus.FieldLogger, adapter types.PlatformAdapter, batch *batchWriter, productURL, category string, force bool) (bool, error) {
	urlLog := log.WithField("url", productURL)
	result, err := c.retrier.FetchProduct(ctx, adapter, productURL)
	if err != nil {
		if isContextErr(err) {
			return false, err
		}
		urlLog.WithField("reason", types.Reason(err)).Warnf("Skipping product: %v", err)
		batch.stats.Failed++
		return true, nil
	}

	if filter, ok := adapter.(types.CategoryFilter); ok && category != "" && !filter.MatchesCategory(category, result.Name) {
		urlLog.Debugf("Skipping %q: not a %s product", result.Name, category)
		return false, nil
	}

	obs := types.Observation{
		Platform:  adapter.Platform(),
		Category:  category,
		Name:      adapters.CleanName(result.Name),
		URL:       productURL,
		Price:     *result.Price,
		Timestamp: result.Timestamp,
	}
	c.recordObservation(ctx, urlLog, batch, obs, force)
	return true, nil
}

// recordCandidate validates one listing and records it. Failures are counted, never returned.
func (c *Collector) recordCandidate(ctx context.Context, log logrus.FieldLogger, adapter types.PlatformAdapter, batch *batchWriter, category string, candidate types.CandidateListing) {
	log = log.WithField("url", candidate.URL)

	price, err := adapter.ParsePrice(candidate.PriceText)
	if err != nil {
		log.WithField("reason", types.Reason(err)).Warnf("Skipping candidate: %v", err)
		batch.stats.Failed++
		return
	}
	name := adapters.CleanName(candidate.Name)
	if name == "" {
		err := &types.ExtractionError{URL: candidate.URL, Field: "name"}
		log.WithField("reason", types.Reason(err)).Warnf("Skipping candidate: %v", err)
		batch.stats.Failed++
		return
	}
	if candidate.ImageURL != "" {
		log.Debugf("Candidate image: %s", candidate.ImageURL)
	}

	obs := types.Observation{
		Platform:  adapter.Platform(),
		Category:  category,
		Name:      name,
		URL:       candidate.URL,
		Price:     price,
		Timestamp: c.now(),
	}
	c.recordObservation(ctx, log, batch, obs, c.config.ForceHistory)
}

func (c *Collector) recordObservation(ctx context.Context, log logrus.FieldLogger, batch *batchWriter, obs types.Observation, force bool) {
	store := batch.store
	if err := store.Savepoint(ctx, candidateSavepoint); err != nil {
		log.WithField("reason", types.Reason(err)).Errorf("Failed to record observation: %v", err)
		batch.stats.Failed++
		return
	}

	result, change, err := c.apply(ctx, store, obs, force)
	if err != nil {
		if rbErr := store.RollbackTo(ctx, candidateSavepoint); rbErr != nil {
			log.Errorf("Failed to roll back candidate: %v", rbErr)
		}
		log.WithField("reason", types.Reason(err)).Errorf("Failed to record observation: %v", err)
		batch.stats.Failed++
		return
	}

	switch result {
	case outcomeAdded:
		log.Debugf("Added %q at %.2f", obs.Name, obs.Price)
	case outcomeUpdated:
		log.Debugf("Updated %q", obs.Name)
	case outcomeUnchanged:
		log.Debugf("Price unchanged for %q", obs.Name)
	}
	batch.record(ctx, result, change)
}

type outcome int

const (
	outcomeAdded outcome = iota
	outcomeUpdated
	outcomeUnchanged
)

// apply performs the read-then-conditionally-write for one observation.
// History grows only on first sight, on a price change, or when forced.
func (c *Collector) apply(ctx context.Context, store Storage, obs types.Observation, force bool) (outcome, *notify.PriceChange, error) {
	existing, err := store.FindProductByURL(ctx, obs.URL)
	if err != nil {
		return 0, nil, err
	}

	if existing == nil {
		price, ts := obs.Price, obs.Timestamp
		product := &models.Product{
			Name:         obs.Name,
			URL:          obs.URL,
			Platform:     string(obs.Platform),
			Category:     obs.Category,
			CurrentPrice: &price,
			LastUpdated:  &ts,
		}
		id, err := store.InsertProduct(ctx, product)
		if err != nil {
			return 0, nil, err
		}
		if err := store.AppendPriceHistory(ctx, id, obs.Price, obs.Timestamp); err != nil {
			return 0, nil, err
		}
		return outcomeAdded, c.priceChange(id, obs, nil), nil
	}

	var update models.ProductUpdate
	if obs.Name != "" && existing.Name != obs.Name {
		update.Name = &obs.Name
	}

	changed := existing.CurrentPrice == nil || !utils.PricesEqual(*existing.CurrentPrice, obs.Price)
	var change *notify.PriceChange
	if changed || force {
		if err := store.AppendPriceHistory(ctx, existing.ID, obs.Price, obs.Timestamp); err != nil {
			return 0, nil, err
		}
		update.CurrentPrice = &obs.Price
		update.LastUpdated = &obs.Timestamp
		change = c.priceChange(existing.ID, obs, existing.CurrentPrice)
	}

	if update.Empty() {
		return outcomeUnchanged, nil, nil
	}
	if err := store.UpdateProduct(ctx, existing.ID, update); err != nil {
		return 0, nil, err
	}
	return outcomeUpdated, change, nil
}

func (c *Collector) priceChange(id uint, obs types.Observation, old *float64) *notify.PriceChange {
	var oldPrice *float64
	if old != nil {
		p := *old
		oldPrice = &p
	}
	return &notify.PriceChange{
		ProductID:  id,
		URL:        obs.URL,
		Name:       obs.Name,
		Platform:   string(obs.Platform),
		OldPrice:   oldPrice,
		NewPrice:   obs.Price,
		ObservedAt: obs.Timestamp,
	}
}

// batchWriter counts pending writes, commits every size writes and publishes
// the batch's price changes once it is committed
type batchWriter struct {
	store     Storage
	publisher notify.Publisher
	size      int
	stats     *PlatformStats
	runID     string
	logger    logrus.FieldLogger

	pendingAdded   int
	pendingUpdated int
	changes        []notify.PriceChange
}

func (w *batchWriter) pending() int {
	return w.pendingAdded + w.pendingUpdated
}

func (w *batchWriter) record(ctx context.Context, result outcome, change *notify.PriceChange) {
	switch result {
	case outcomeAdded:
		w.pendingAdded++
	case outcomeUpdated:
		w.pendingUpdated++
	case outcomeUnchanged:
		w.stats.Unchanged++
		return
	}
	if change != nil {
		change.RunID = w.runID
		w.changes = append(w.changes, *change)
	}
	if w.pending() >= w.size {
		if err := w.flush(ctx); err != nil {
			w.logger.Errorf("Failed to commit batch: %v", err)
		}
	}
}

// flush commits pending writes. On failure the batch is rolled back and its
// writes are counted as failed.
func (w *batchWriter) flush(ctx context.Context) error {
	if w.pending() == 0 {
		// savepoints alone leave an open transaction
		return w.store.CommitBatch(ctx)
	}

	if err := w.store.CommitBatch(ctx); err != nil {
		if rbErr := w.store.RollbackBatch(ctx); rbErr != nil {
			w.logger.Errorf("Failed to roll back batch: %v", rbErr)
		}
		w.logger.WithField("reason", types.Reason(err)).
			Errorf("Dropping %d uncommitted writes", w.pending())
		w.stats.Failed += w.pending()
		w.reset()
		return err
	}

	w.stats.Added += w.pendingAdded
	w.stats.Updated += w.pendingUpdated
	w.logger.Debugf("Committed %d writes", w.pending())

	changes := w.changes
	w.reset()
	w.publish(ctx, changes)
	return nil
}

func (w *batchWriter) reset() {
	w.pendingAdded = 0
	w.pendingUpdated = 0
	w.changes = nil
}

func (w *batchWriter) publish(ctx context.Context, changes []notify.PriceChange) {
	if len(changes) == 0 {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	for _, change := range changes {
		if err := w.publisher.Publish(pubCtx, change); err != nil {
			w.logger.WithField("url", change.URL).Warnf("Failed to publish price change: %v", err)
		}
	}
}
