package metrics

import (
	"github.com/maypok86/otter"
	"github.com/prometheus/client_golang/prometheus"
)

// StatsProvider is anything exposing otter cache statistics
type StatsProvider interface {
	Stats() otter.Stats
}

// CacheCollector reports the template cache's counters at scrape time
type CacheCollector struct {
	provider     StatsProvider
	hitsDesc     *prometheus.Desc
	missesDesc   *prometheus.Desc
	rejectedDesc *prometheus.Desc
	evictedDesc  *prometheus.Desc
}

var _ prometheus.Collector = (*CacheCollector)(nil)

func NewCacheCollector(namespace string, provider StatsProvider) *CacheCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "template_cache", name), help, nil, nil,
		)
	}

	return &CacheCollector{
		provider:     provider,
		hitsDesc:     desc("hits_total", "Connections that reused a cached universe."),
		missesDesc:   desc("misses_total", "Connections that built their universe from scratch."),
		rejectedDesc: desc("rejected_sets_total", "Universes too large to cache."),
		evictedDesc:  desc("evicted_total", "Universes evicted from the cache."),
	}
}

func (c *CacheCollector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.hitsDesc
	descs <- c.missesDesc
	descs <- c.rejectedDesc
	descs <- c.evictedDesc
}

func (c *CacheCollector) Collect(metrics chan<- prometheus.Metric) {
	stats := c.provider.Stats()
	metrics <- prometheus.MustNewConstMetric(c.hitsDesc, prometheus.CounterValue, float64(stats.Hits()))
	metrics <- prometheus.MustNewConstMetric(c.missesDesc, prometheus.CounterValue, float64(stats.Misses()))
	metrics <- prometheus.MustNewConstMetric(c.rejectedDesc, prometheus.CounterValue, float64(stats.RejectedSets()))
	metrics <- prometheus.MustNewConstMetric(c.evictedDesc, prometheus.CounterValue, float64(stats.EvictedCount()))
}
