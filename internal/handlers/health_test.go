package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"restaurant-pricing/internal/pricing"

	"github.com/IBM/sarama"
)

type stubDB struct{ err error }

func (s *stubDB) Health() error { return s.err }

type stubRedisHealth struct{ err error }

func (s *stubRedisHealth) Health(ctx context.Context) error { return s.err }

func TestHealthHandler_ReadinessOK(t *testing.T) {
	h := NewHealthHandler(&stubDB{}, &stubRedisHealth{}, []string{}, func([]string) error { return nil })
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health/readiness", nil)

	h.Readiness(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestHealthHandler_Readiness_DBError(t *testing.T) {
	h := NewHealthHandler(&stubDB{err: errors.New("db down")}, &stubRedisHealth{}, []string{}, func([]string) error { return nil })
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health/readiness", nil)

	h.Readiness(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestHealthHandler_Liveness(t *testing.T) {
	h := NewHealthHandler(&stubDB{}, &stubRedisHealth{}, []string{}, func([]string) error { return nil })
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health/liveness", nil)

	h.Liveness(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestHealthHandler_Liveness_MethodNotAllowed(t *testing.T) {
	h := NewHealthHandler(&stubDB{}, &stubRedisHealth{}, []string{}, func([]string) error { return nil })
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/health/liveness", nil)
	h.Liveness(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestHealthHandler_Health_Unhealthy(t *testing.T) {
	h := NewHealthHandler(&stubDB{}, &stubRedisHealth{err: errors.New("redis down")}, []string{}, func([]string) error { return nil })
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)

	h.Health(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestHealthHandler_KafkaError(t *testing.T) {
	h := NewHealthHandler(&stubDB{}, &stubRedisHealth{}, []string{"kafka:9092"}, func([]string) error { return errors.New("kafka down") })

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health/readiness", nil)
	h.Readiness(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestHealthHandler_MethodNotAllowed(t *testing.T) {
	h := NewHealthHandler(&stubDB{}, &stubRedisHealth{}, []string{}, func([]string) error { return nil })
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	h.Health(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestCheckKafkaHealth_NoBrokers(t *testing.T) {
	if err := checkKafkaHealth([]string{}); err == nil {
		t.Fatalf("expected error for empty brokers")
	}
}

func TestCheckKafkaHealth_Wrapper(t *testing.T) {
	if err := CheckKafkaHealth([]string{}); err == nil {
		t.Fatalf("expected error for wrapper with empty brokers")
	}
}

func TestCheckKafkaHealth_WithMockBroker(t *testing.T) {
	broker := sarama.NewMockBroker(t, 1)
	defer broker.Close()

	broker.SetHandlerByMap(map[string]sarama.MockResponse{
		"MetadataRequest": sarama.NewMockMetadataResponse(t).
			SetBroker(broker.Addr(), broker.BrokerID()).
			SetController(broker.BrokerID()).
			SetLeader("health", 0, broker.BrokerID()),
	})

	if err := checkKafkaHealth([]string{broker.Addr()}); err != nil {
		t.Fatalf("expected kafka health ok, got %v", err)
	}
}

type stubCatalogState struct {
	initialized bool
	loadedAt    time.Time
	catalog     *pricing.Catalog
}

func (s *stubCatalogState) Initialized() bool         { return s.initialized }
func (s *stubCatalogState) Loading() bool             { return false }
func (s *stubCatalogState) LoadedAt() time.Time       { return s.loadedAt }
func (s *stubCatalogState) Current() *pricing.Catalog { return s.catalog }

func TestHealthHandler_Readiness_CatalogNotLoaded(t *testing.T) {
	h := NewHealthHandler(&stubDB{}, &stubRedisHealth{}, nil, func([]string) error { return nil }).
		WithCatalog(&stubCatalogState{catalog: pricing.EmptyCatalog()}, 0)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health/readiness", nil)

	h.Readiness(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestHealthHandler_Health_ReportsCatalog(t *testing.T) {
	loadedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	state := &stubCatalogState{
		initialized: true,
		loadedAt:    loadedAt,
		catalog:     pricing.NewCatalog(pricing.Offer{ID: "o1", Code: "PIZZA15", Active: true}),
	}
	h := NewHealthHandler(&stubDB{}, &stubRedisHealth{}, nil, func([]string) error { return nil }).WithCatalog(state, time.Hour)
	h.now = func() time.Time { return loadedAt.Add(90 * time.Second) }
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)

	h.Health(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Services["catalog"] != "healthy" {
		t.Fatalf("expected catalog healthy, got %q", resp.Services["catalog"])
	}
	if resp.Catalog == nil || resp.Catalog.Offers != 1 || resp.Catalog.LoadedAt == nil || !resp.Catalog.LoadedAt.Equal(loadedAt) {
		t.Fatalf("unexpected catalog status: %+v", resp.Catalog)
	}
	if resp.Catalog.AgeSeconds != 90 || resp.Catalog.Stale {
		t.Fatalf("expected fresh catalog aged 90s, got %+v", resp.Catalog)
	}
}

func TestHealthHandler_Health_StaleCatalogStaysHealthy(t *testing.T) {
	loadedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	state := &stubCatalogState{initialized: true, loadedAt: loadedAt, catalog: pricing.EmptyCatalog()}
	h := NewHealthHandler(&stubDB{}, &stubRedisHealth{}, nil, func([]string) error { return nil }).WithCatalog(state, 3*time.Minute)
	h.now = func() time.Time { return loadedAt.Add(10 * time.Minute) }

	rr := httptest.NewRecorder()
	h.Health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("stale catalog must not fail health, got %d", rr.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "healthy" || resp.Services["catalog"] != "stale" || !resp.Catalog.Stale {
		t.Fatalf("expected stale catalog in healthy response, got %+v / %+v", resp.Services, resp.Catalog)
	}
}

func TestHealthHandler_Health_ReportsEveryFailure(t *testing.T) {
	h := NewHealthHandler(&stubDB{err: errors.New("db down")}, &stubRedisHealth{}, nil, func([]string) error { return errors.New("no brokers") })

	rr := httptest.NewRecorder()
	h.Health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp HealthResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rr.Code != http.StatusServiceUnavailable || resp.Status != "unhealthy" {
		t.Fatalf("expected unhealthy 503, got %d %q", rr.Code, resp.Status)
	}
	if resp.Services["database"] != "unhealthy: db down" || resp.Services["redis"] != "healthy" || resp.Services["kafka"] != "unhealthy: no brokers" {
		t.Fatalf("unexpected services: %v", resp.Services)
	}
}
