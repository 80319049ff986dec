package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"restaurant-pricing/internal/metrics"
	"restaurant-pricing/internal/models"
	"restaurant-pricing/internal/redis"

	"github.com/shopspring/decimal"
)

// stubOfferSource читает записи при входе в вызов, как запрос к БД,
// и затем может ждать release.
type stubOfferSource struct {
	mu      sync.Mutex
	records []models.OfferRecord
	err     error
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (s *stubOfferSource) setRecords(records []models.OfferRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = records
}

func (s *stubOfferSource) ListOfferRecords(ctx context.Context) ([]models.OfferRecord, error) {
	s.calls.Add(1)
	s.mu.Lock()
	records := s.records
	s.mu.Unlock()
	if s.started != nil {
		select {
		case s.started <- struct{}{}:
		default:
		}
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return records, nil
}

func offerRecords() []models.OfferRecord {
	pizza := "pizza"
	return []models.OfferRecord{
		{
			ID:           "pizza-15",
			Code:         "PIZZA15",
			Name:         "Pizza week",
			DiscountType: models.OfferDiscountPercent,
			Value:        dec("15"),
			Scope:        models.OfferScopeCategory,
			CategoryID:   &pizza,
			MinSubtotal:  decimal.NewNullDecimal(dec("30")),
			Active:       true,
		},
		{
			Code:         "BROKEN",
			DiscountType: models.OfferDiscountBuyXGetY,
			Scope:        models.OfferScopeCart,
			Active:       true,
		},
	}
}

func TestCatalogStore_CurrentBeforeLoad(t *testing.T) {
	store := NewCatalogStore(&stubOfferSource{}, nil, newTestLogger(), nil, nil)

	if store.Initialized() {
		t.Fatalf("store must not be initialized before the first load")
	}
	if store.Current() == nil || store.Current().Len() != 0 {
		t.Fatalf("expected empty catalog before load")
	}
	if store.Records() != nil {
		t.Fatalf("expected no records before load")
	}
	if !store.LoadedAt().IsZero() {
		t.Fatalf("expected zero load time before load")
	}
}

func TestCatalogStore_LoadFromSourceAndCache(t *testing.T) {
	rdb, mr := newTestRedis(t)
	source := &stubOfferSource{records: offerRecords()}
	store := NewCatalogStore(source, rdb, newTestLogger(), metrics.New("test"), nil)
	ctx := context.Background()

	catalog, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if catalog.Len() != 1 {
		t.Fatalf("expected malformed offer skipped, got %d offers", catalog.Len())
	}
	if _, ok := catalog.ByCode("PIZZA15"); !ok {
		t.Fatalf("expected PIZZA15 in catalog")
	}
	if !store.Initialized() || store.Current() != catalog {
		t.Fatalf("expected loaded catalog installed")
	}
	if len(store.Records()) != 2 {
		t.Fatalf("expected raw records kept, got %d", len(store.Records()))
	}
	if !mr.Exists(redis.CatalogOffersKey) {
		t.Fatalf("expected records cached under %s", redis.CatalogOffersKey)
	}

	if _, err := store.Load(ctx); err != nil {
		t.Fatalf("second load: %v", err)
	}
	if got := source.calls.Load(); got != 1 {
		t.Fatalf("expected second load served from cache, source called %d times", got)
	}

	if err := store.Invalidate(ctx); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if mr.Exists(redis.CatalogOffersKey) {
		t.Fatalf("expected cache dropped")
	}
	if _, err := store.Load(ctx); err != nil {
		t.Fatalf("load after invalidate: %v", err)
	}
	if got := source.calls.Load(); got != 2 {
		t.Fatalf("expected source hit after invalidate, called %d times", got)
	}
}

func TestCatalogStore_LoadFailureKeepsSnapshot(t *testing.T) {
	source := &stubOfferSource{records: offerRecords()}
	store := NewCatalogStore(source, nil, newTestLogger(), nil, nil)
	ctx := context.Background()

	installed, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	source.err = errors.New("db is down")
	catalog, err := store.Load(ctx)
	if err == nil {
		t.Fatalf("expected load error")
	}
	if catalog == nil || catalog.Len() != 0 {
		t.Fatalf("expected empty catalog on failure")
	}
	if store.Current() != installed {
		t.Fatalf("expected previous snapshot to stay installed")
	}
}

func TestCatalogStore_LoadWithoutSource(t *testing.T) {
	store := NewCatalogStore(nil, nil, newTestLogger(), nil, nil)

	if _, err := store.Load(context.Background()); err == nil {
		t.Fatalf("expected error without offer source")
	}
	if store.Initialized() {
		t.Fatalf("failed load must not mark store initialized")
	}
}

func TestCatalogStore_RefreshIsSingleFlight(t *testing.T) {
	source := &stubOfferSource{records: offerRecords(), release: make(chan struct{})}
	store := NewCatalogStore(source, nil, newTestLogger(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	if !store.Refresh(ctx) {
		t.Fatalf("expected first refresh to start")
	}
	if store.Refresh(context.Background()) {
		t.Fatalf("expected refresh to be skipped while another is in flight")
	}
	if !store.Loading() {
		t.Fatalf("expected store to report loading")
	}

	// отмена контекста вызывающего не прерывает начатую загрузку
	cancel()
	close(source.release)
	store.Wait()

	if store.Loading() {
		t.Fatalf("expected loading flag cleared")
	}
	if !store.Initialized() || store.Current().Len() != 1 {
		t.Fatalf("expected refreshed catalog installed, got %d offers", store.Current().Len())
	}
	if got := source.calls.Load(); got != 1 {
		t.Fatalf("expected exactly one load, got %d", got)
	}
	if store.LoadedAt().IsZero() {
		t.Fatalf("expected load time recorded")
	}
}

func TestCatalogStore_RefreshTimesOut(t *testing.T) {
	source := &stubOfferSource{records: offerRecords(), release: make(chan struct{})}
	store := NewCatalogStore(source, nil, newTestLogger(), nil, nil)
	store.loadTimeout = 20 * time.Millisecond

	if !store.Refresh(context.Background()) {
		t.Fatalf("expected refresh to start")
	}
	store.Wait()

	if store.Initialized() {
		t.Fatalf("timed out load must not install a catalog")
	}
	if !store.Refresh(context.Background()) {
		t.Fatalf("expected a new refresh to be allowed after timeout")
	}
	close(source.release)
	store.Wait()
	if !store.Initialized() {
		t.Fatalf("expected second refresh to install catalog")
	}
}

func TestCatalogStore_InvalidateDuringRefreshReloads(t *testing.T) {
	rdb, _ := newTestRedis(t)
	source := &stubOfferSource{
		records: offerRecords(),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	store := NewCatalogStore(source, rdb, newTestLogger(), nil, nil)
	ctx := context.Background()

	if !store.Refresh(ctx) {
		t.Fatalf("expected refresh to start")
	}
	<-source.started

	// запрос уже прочитал старые строки, акция добавлена после этого
	updated := append(offerRecords(), models.OfferRecord{
		ID:           "cart-5",
		Code:         "CART5",
		Name:         "Five off",
		DiscountType: models.OfferDiscountFixed,
		Value:        dec("5"),
		Scope:        models.OfferScopeCart,
		Active:       true,
	})
	source.setRecords(updated)
	if err := store.Invalidate(ctx); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if store.Refresh(ctx) {
		t.Fatalf("expected refresh to be skipped while another is in flight")
	}

	close(source.release)
	store.Wait()

	if _, ok := store.Current().ByCode("CART5"); !ok {
		t.Fatalf("expected offer added during refresh to be installed")
	}
	if got := source.calls.Load(); got != 2 {
		t.Fatalf("expected a reload after invalidation, source called %d times", got)
	}
	var cached []models.OfferRecord
	if err := rdb.Get(ctx, redis.CatalogOffersKey, &cached); err != nil {
		t.Fatalf("read cache: %v", err)
	}
	if len(cached) != len(updated) {
		t.Fatalf("expected cache to hold fresh records, got %d", len(cached))
	}
}

func TestCatalogStore_LoadSkipsCacheWriteAfterInvalidate(t *testing.T) {
	rdb, mr := newTestRedis(t)
	store := NewCatalogStore(&stubOfferSource{records: offerRecords()}, rdb, newTestLogger(), nil, nil)
	ctx := context.Background()

	gen := store.generation.Load()
	if err := store.Invalidate(ctx); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	records, _, err := store.fetch(ctx, gen)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected records returned, got %d", len(records))
	}
	if mr.Exists(redis.CatalogOffersKey) {
		t.Fatalf("stale load must not repopulate the cache")
	}
}
