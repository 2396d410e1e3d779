// cache.go — LRU-кэш подписанных URL с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dr_signed_url_cache_hits_total",
		Help: "Общее количество попаданий в кэш подписанных URL.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dr_signed_url_cache_misses_total",
		Help: "Общее количество промахов кэша подписанных URL.",
	})
)

// maxCacheMargin — верхняя граница запаса до истечения URL.
const maxCacheMargin = 5 * time.Minute

// SignedURLCache — кэш подписанных URL. Запись живёт меньше, чем сам URL:
// из кэша никогда не выдаётся ссылка, истекающая в ближайшие минуты.
type SignedURLCache struct {
	cache *expirable.LRU[string, string]
}

// NewSignedURLCache создаёт кэш для URL с временем жизни urlTTL.
func NewSignedURLCache(maxSize int, urlTTL time.Duration) *SignedURLCache {
	return &SignedURLCache{
		cache: expirable.NewLRU[string, string](maxSize, nil, cacheTTL(urlTTL)),
	}
}

// cacheTTL — время жизни записи: urlTTL минус запас (10%, не более 5 минут).
func cacheTTL(urlTTL time.Duration) time.Duration {
	margin := urlTTL / 10
	if margin > maxCacheMargin {
		margin = maxCacheMargin
	}
	return urlTTL - margin
}

func cacheKey(bucket, path string) string {
	return bucket + "/" + path
}

// Get возвращает URL из кэша. Обновляет метрики hit/miss.
func (c *SignedURLCache) Get(bucket, path string) (string, bool) {
	val, ok := c.cache.Get(cacheKey(bucket, path))
	if ok {
		cacheHitsTotal.Inc()
		return val, true
	}
	cacheMissesTotal.Inc()
	return "", false
}

// Set сохраняет URL в кэше.
func (c *SignedURLCache) Set(bucket, path, url string) {
	c.cache.Add(cacheKey(bucket, path), url)
}

// Delete инвалидирует URL (после удаления объекта).
func (c *SignedURLCache) Delete(bucket, path string) {
	c.cache.Remove(cacheKey(bucket, path))
}

// Len возвращает текущее количество записей в кэше.
func (c *SignedURLCache) Len() int {
	return c.cache.Len()
}
