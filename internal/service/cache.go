// cache.go — LRU-кэш метаданных опубликованных фотографий с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/farm-photos/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "farmphotos_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш метаданных.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "farmphotos_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша метаданных.",
	})
)

// PhotoCache — кэш опубликованных записей. Инвалидируется при каждом переходе.
// Хранит и отдаёт копии.
type PhotoCache struct {
	cache *expirable.LRU[string, *model.PhotoSubmission]
}

// NewPhotoCache создаёт кэш. maxSize <= 0 — кэш отключён (nil).
func NewPhotoCache(maxSize int, ttl time.Duration) *PhotoCache {
	if maxSize <= 0 {
		return nil
	}
	return &PhotoCache{cache: expirable.NewLRU[string, *model.PhotoSubmission](maxSize, nil, ttl)}
}

// Get возвращает запись по ID. Безопасен для nil.
func (c *PhotoCache) Get(id string) (*model.PhotoSubmission, bool) {
	if c == nil {
		return nil, false
	}
	val, ok := c.cache.Get(id)
	if ok {
		cacheHitsTotal.Inc()
		return val.Clone(), true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set кэширует запись, только если она опубликована.
func (c *PhotoCache) Set(p *model.PhotoSubmission) {
	if c == nil || !p.IsPublished() {
		return
	}
	c.cache.Add(p.ID, p.Clone())
}

// Delete удаляет запись из кэша.
func (c *PhotoCache) Delete(id string) {
	if c == nil {
		return
	}
	c.cache.Remove(id)
}

// Len возвращает число записей в кэше.
func (c *PhotoCache) Len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}
