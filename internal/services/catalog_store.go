package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"restaurant-pricing/internal/config"
	"restaurant-pricing/internal/logger"
	"restaurant-pricing/internal/metrics"
	"restaurant-pricing/internal/models"
	"restaurant-pricing/internal/pricing"
	"restaurant-pricing/internal/redis"
)

const (
	defaultCatalogCacheTTL    = 5 * time.Minute
	defaultCatalogLoadTimeout = 5 * time.Second
	// maxCatalogReloads ограничивает повторы фоновой загрузки, если каталог сбрасывали во время чтения.
	maxCatalogReloads = 3
)

// OfferSource отдаёт сырые записи акций в порядке каталога.
type OfferSource interface {
	ListOfferRecords(ctx context.Context) ([]models.OfferRecord, error)
}

type catalogCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type catalogSnapshot struct {
	catalog  *pricing.Catalog
	records  []models.OfferRecord
	loadedAt time.Time
}

// CatalogStore держит текущий снимок каталога акций. Снимок неизменяем и
// подменяется атомарно, поэтому читатели не блокируются во время перезагрузки.
type CatalogStore struct {
	source  OfferSource
	cache   catalogCache
	log     *logger.Logger
	metrics *metrics.Metrics

	cacheTTL    time.Duration
	loadTimeout time.Duration

	current     atomic.Pointer[catalogSnapshot]
	loading     atomic.Bool
	initialized atomic.Bool
	inflight    sync.WaitGroup
	// generation растёт при каждом Invalidate; загрузка, начатая до сброса, не пишет в кеш.
	generation atomic.Uint64
}

// NewCatalogStore создаёт хранилище каталога. redisClient и m могут быть nil.
func NewCatalogStore(source OfferSource, redisClient *redis.Client, log *logger.Logger, m *metrics.Metrics, cfg *config.CatalogConfig) *CatalogStore {
	s := &CatalogStore{
		source:      source,
		log:         log,
		metrics:     m,
		cacheTTL:    defaultCatalogCacheTTL,
		loadTimeout: defaultCatalogLoadTimeout,
	}
	if redisClient != nil {
		s.cache = redisClient
	}
	if cfg != nil {
		if cfg.CacheTTLSeconds > 0 {
			s.cacheTTL = time.Duration(cfg.CacheTTLSeconds) * time.Second
		}
		if cfg.LoadTimeoutSeconds > 0 {
			s.loadTimeout = time.Duration(cfg.LoadTimeoutSeconds) * time.Second
		}
	}
	return s
}

// Current возвращает установленный каталог или пустой, если загрузки ещё не было.
func (s *CatalogStore) Current() *pricing.Catalog {
	if snap := s.current.Load(); snap != nil {
		return snap.catalog
	}
	return pricing.EmptyCatalog()
}

// Records возвращает записи, из которых собран текущий каталог.
func (s *CatalogStore) Records() []models.OfferRecord {
	snap := s.current.Load()
	if snap == nil {
		return nil
	}
	out := make([]models.OfferRecord, len(snap.records))
	copy(out, snap.records)
	return out
}

// LoadedAt возвращает время установки текущего снимка.
func (s *CatalogStore) LoadedAt() time.Time {
	if snap := s.current.Load(); snap != nil {
		return snap.loadedAt
	}
	return time.Time{}
}

// Initialized сообщает, была ли хотя бы одна успешная загрузка.
func (s *CatalogStore) Initialized() bool {
	return s.initialized.Load()
}

// Loading сообщает, идёт ли сейчас фоновая перезагрузка.
func (s *CatalogStore) Loading() bool {
	return s.loading.Load()
}

// Load читает записи (сначала из кеша, затем из источника), нормализует их и
// устанавливает новый снимок. При ошибке вызывающий получает пустой каталог,
// а ранее установленный снимок остаётся в силе.
func (s *CatalogStore) Load(ctx context.Context) (*pricing.Catalog, error) {
	records, outcome, err := s.fetch(ctx, s.generation.Load())
	if err != nil {
		s.metrics.CatalogLoaded(metrics.CatalogLoadFailed, 0, 0)
		s.log.WithError(err).Error("Failed to load offer catalog")
		return pricing.EmptyCatalog(), err
	}

	catalog, skipped := pricing.NewCatalogFromRecords(records, s.log)
	s.current.Store(&catalogSnapshot{
		catalog:  catalog,
		records:  records,
		loadedAt: time.Now(),
	})
	s.initialized.Store(true)
	s.metrics.CatalogLoaded(outcome, catalog.Len(), skipped)

	s.log.WithFields(map[string]interface{}{
		"source":  outcome,
		"offers":  catalog.Len(),
		"skipped": skipped,
	}).Info("Offer catalog loaded")

	return catalog, nil
}

// Refresh запускает перезагрузку в фоне и возвращает true, если она стартовала.
// Пока предыдущая перезагрузка не завершилась, повторные вызовы ничего не делают;
// начатая загрузка не отменяется ни ими, ни отменой ctx вызывающего.
// Если во время загрузки каталог сбросили через Invalidate, загрузка повторяется.
func (s *CatalogStore) Refresh(ctx context.Context) bool {
	if !s.loading.CompareAndSwap(false, true) {
		return false
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer s.loading.Store(false)

		for i := 0; i < maxCatalogReloads; i++ {
			gen := s.generation.Load()
			loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadTimeout)
			_, err := s.Load(loadCtx)
			cancel()
			if err != nil || s.generation.Load() == gen {
				return
			}
			s.log.Info("Offer catalog invalidated during refresh, reloading")
		}
	}()
	return true
}

// Wait дожидается завершения фоновой перезагрузки.
func (s *CatalogStore) Wait() {
	s.inflight.Wait()
}

// Invalidate сбрасывает кеш записей, следующая загрузка пойдёт в источник.
func (s *CatalogStore) Invalidate(ctx context.Context) error {
	s.generation.Add(1)
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Delete(ctx, redis.CatalogOffersKey); err != nil {
		return fmt.Errorf("failed to invalidate offer catalog cache: %w", err)
	}
	return nil
}

// fetch читает записи; gen фиксирует поколение кеша на момент начала загрузки.
func (s *CatalogStore) fetch(ctx context.Context, gen uint64) ([]models.OfferRecord, string, error) {
	if s.cache != nil {
		var cached []models.OfferRecord
		err := s.cache.Get(ctx, redis.CatalogOffersKey, &cached)
		if err == nil {
			return cached, metrics.CatalogLoadedFromCache, nil
		}
		if !errors.Is(err, redis.ErrNotFound) {
			s.log.WithError(err).Warn("Failed to read offer catalog cache")
		}
	}

	if s.source == nil {
		return nil, "", fmt.Errorf("offer source is not configured")
	}

	records, err := s.source.ListOfferRecords(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list offers: %w", err)
	}

	if s.cache != nil {
		if s.generation.Load() != gen {
			s.log.Debug("Offer catalog invalidated during load, cache write skipped")
			return records, metrics.CatalogLoadedFromDB, nil
		}
		if err := s.cache.Set(ctx, redis.CatalogOffersKey, records, s.cacheTTL); err != nil {
			s.log.WithError(err).Warn("Failed to cache offer catalog")
		}
	}
	return records, metrics.CatalogLoadedFromDB, nil
}
