package extractor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"price-tracker/internal/models"
	"price-tracker/internal/notify"
	"price-tracker/internal/types"
	"price-tracker/utils"
)

var errCommitFailed = errors.New("disk full")

// fakeDB is the committed side of an in-memory catalog shared by all batches
type fakeDB struct {
	mu       sync.Mutex
	nextID   uint
	products map[string]models.Product
	history  []models.PriceHistory

	insertCalls int
	updateCalls int
	appendCalls int
	commitSizes []int

	failInsertURL string
	failCommit    bool
	afterInsert   func(n int)
}

func newFakeDB() *fakeDB {
	return &fakeDB{products: make(map[string]models.Product)}
}

func (db *fakeDB) factory() BatchFactory {
	return func() Storage { return &fakeBatch{db: db} }
}

func (db *fakeDB) seed(platform types.Platform, url, name string, price float64) uint {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.nextID++
	p := price
	db.products[url] = models.Product{ID: db.nextID, Name: name, URL: url, Platform: string(platform), CurrentPrice: &p}
	return db.nextID
}

func (db *fakeDB) product(url string) (models.Product, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	p, ok := db.products[url]
	return p, ok
}

func (db *fakeDB) historyFor(id uint) []float64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	var prices []float64
	for _, h := range db.history {
		if h.ProductID == id {
			prices = append(prices, h.Price)
		}
	}
	return prices
}

type batchState struct {
	products map[string]models.Product
	history  []models.PriceHistory
	writes   int
}

func (s batchState) clone() batchState {
	products := make(map[string]models.Product, len(s.products))
	for k, v := range s.products {
		products[k] = v
	}
	return batchState{
		products: products,
		history:  append([]models.PriceHistory(nil), s.history...),
		writes:   s.writes,
	}
}

// fakeBatch overlays uncommitted writes on top of fakeDB
type fakeBatch struct {
	db         *fakeDB
	pending    batchState
	savepoints map[string]batchState
}

func (b *fakeBatch) lookup(url string) (models.Product, bool) {
	if p, ok := b.pending.products[url]; ok {
		return p, true
	}
	p, ok := b.db.products[url]
	return p, ok
}

func (b *fakeBatch) FindProductByURL(ctx context.Context, url string) (*models.Product, error) {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	p, ok := b.lookup(url)
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (b *fakeBatch) InsertProduct(ctx context.Context, product *models.Product) (uint, error) {
	b.db.mu.Lock()
	b.db.insertCalls++
	n := b.db.insertCalls
	if product.URL == b.db.failInsertURL {
		b.db.mu.Unlock()
		return 0, &types.PersistenceError{Op: "insert product", Err: errors.New("constraint violation")}
	}
	if _, exists := b.lookup(product.URL); exists {
		b.db.mu.Unlock()
		return 0, &types.PersistenceError{Op: "insert product", Err: fmt.Errorf("duplicate url %s", product.URL)}
	}
	b.db.nextID++
	product.ID = b.db.nextID
	if b.pending.products == nil {
		b.pending.products = make(map[string]models.Product)
	}
	b.pending.products[product.URL] = *product
	b.pending.writes++
	hook := b.db.afterInsert
	b.db.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return product.ID, nil
}

func (b *fakeBatch) UpdateProduct(ctx context.Context, id uint, update models.ProductUpdate) error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	b.db.updateCalls++

	var target *models.Product
	for _, p := range b.pending.products {
		if p.ID == id {
			p := p
			target = &p
		}
	}
	if target == nil {
		for _, p := range b.db.products {
			if p.ID == id {
				p := p
				target = &p
			}
		}
	}
	if target == nil {
		return &types.PersistenceError{Op: "update product", Err: errors.New("not found")}
	}
	update.Apply(target)
	if b.pending.products == nil {
		b.pending.products = make(map[string]models.Product)
	}
	b.pending.products[target.URL] = *target
	b.pending.writes++
	return nil
}

func (b *fakeBatch) AppendPriceHistory(ctx context.Context, productID uint, price float64, ts time.Time) error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	b.db.appendCalls++
	b.pending.history = append(b.pending.history, models.PriceHistory{ProductID: productID, Price: price, Timestamp: ts})
	return nil
}

func (b *fakeBatch) CommitBatch(ctx context.Context) error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	if b.pending.writes == 0 && len(b.pending.history) == 0 {
		b.pending = batchState{}
		return nil
	}
	if b.db.failCommit {
		return &types.PersistenceError{Op: "commit", Err: errCommitFailed}
	}
	for url, p := range b.pending.products {
		b.db.products[url] = p
	}
	b.db.history = append(b.db.history, b.pending.history...)
	b.db.commitSizes = append(b.db.commitSizes, b.pending.writes)
	b.pending = batchState{}
	b.savepoints = nil
	return nil
}

func (b *fakeBatch) RollbackBatch(ctx context.Context) error {
	b.pending = batchState{}
	b.savepoints = nil
	return nil
}

func (b *fakeBatch) Savepoint(ctx context.Context, name string) error {
	if b.savepoints == nil {
		b.savepoints = make(map[string]batchState)
	}
	b.savepoints[name] = b.pending.clone()
	return nil
}

func (b *fakeBatch) RollbackTo(ctx context.Context, name string) error {
	state, ok := b.savepoints[name]
	if !ok {
		return fmt.Errorf("no savepoint %s", name)
	}
	b.pending = state.clone()
	return nil
}

func (b *fakeBatch) ProductsByPlatform(ctx context.Context, platform types.Platform) ([]models.Product, error) {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	var products []models.Product
	for _, p := range b.db.products {
		if p.Platform == string(platform) {
			products = append(products, p)
		}
	}
	return products, nil
}

// fakeAdapter serves scripted listings and product pages
type fakeAdapter struct {
	mu         sync.Mutex
	platform   types.Platform
	listings   map[string][]types.CandidateListing
	listErrs   map[string]error
	pages      map[string][]fetchReply
	openErr    error
	normalizer *utils.PriceNormalizer

	fetchCalls map[string]int
	listCalls  int
	opened     int
	closed     int
}

type fetchReply struct {
	result *types.ExtractionResult
	err    error
}

func newFakeAdapter(platform types.Platform) *fakeAdapter {
	return &fakeAdapter{
		platform:   platform,
		listings:   make(map[string][]types.CandidateListing),
		listErrs:   make(map[string]error),
		pages:      make(map[string][]fetchReply),
		normalizer: utils.NewPriceNormalizer(1.0, 10000000.0),
		fetchCalls: make(map[string]int),
	}
}

func (a *fakeAdapter) setListing(category string, listings ...types.CandidateListing) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listings[category] = listings
}

func (a *fakeAdapter) Platform() types.Platform { return a.platform }

func (a *fakeAdapter) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.openErr != nil {
		return a.openErr
	}
	a.opened++
	return nil
}

func (a *fakeAdapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed++
}

func (a *fakeAdapter) Categories() []string { return []string{"phones", "televisions"} }

func (a *fakeAdapter) CategoryURL(key string) (string, error) {
	switch key {
	case "phones", "televisions":
		return "https://" + string(a.platform) + ".test/" + key, nil
	}
	return "", fmt.Errorf("%w: %q", types.ErrUnknownCategory, key)
}

func (a *fakeAdapter) ListCategory(ctx context.Context, category types.Category) ([]types.CandidateListing, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listCalls++
	if err := a.listErrs[category.Key]; err != nil {
		return nil, err
	}
	return append([]types.CandidateListing(nil), a.listings[category.Key]...), nil
}

// FetchProduct replays the scripted replies for url; the last one repeats
func (a *fakeAdapter) FetchProduct(ctx context.Context, url string) (*types.ExtractionResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := a.fetchCalls[url]
	a.fetchCalls[url]++

	replies := a.pages[url]
	if len(replies) == 0 {
		return nil, &types.TransportError{URL: url, StatusCode: 404}
	}
	if n >= len(replies) {
		n = len(replies) - 1
	}
	return replies[n].result, replies[n].err
}

func (a *fakeAdapter) ExtractPrice(doc *goquery.Document) (float64, bool) { return 0, false }
func (a *fakeAdapter) ExtractName(doc *goquery.Document) (string, bool)   { return "", false }
func (a *fakeAdapter) IsBlocked(doc *goquery.Document) bool               { return false }

func (a *fakeAdapter) ParsePrice(text string) (float64, error) {
	return a.normalizer.Parse(text)
}

func (a *fakeAdapter) fetches(url string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fetchCalls[url]
}

func page(url, name string, price float64) fetchReply {
	p := price
	return fetchReply{result: &types.ExtractionResult{
		Name:      name,
		Price:     &p,
		PriceText: fmt.Sprintf("KSh %.0f", price),
		URL:       url,
		Timestamp: time.Now().UTC(),
	}}
}

func blocked(url string) fetchReply {
	return fetchReply{err: &types.BlockedError{URL: url, Indicator: "captcha"}}
}

// recordingPublisher keeps every published change
type recordingPublisher struct {
	mu      sync.Mutex
	changes []notify.PriceChange
}

func (p *recordingPublisher) Publish(ctx context.Context, change notify.PriceChange) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, change)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) published() []notify.PriceChange {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]notify.PriceChange(nil), p.changes...)
}

func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}
