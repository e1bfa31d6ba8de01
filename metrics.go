package ngstore

import "github.com/rcrowley/go-metrics"

const (
	metricOverviewsCreate  = "overviews.create"
	metricTilesSaved       = "overviews.tiles.saved"
	metricTilesFailed      = "overviews.tiles.failed"
	metricTileCached       = "tile.get.cached"
	metricTileFly          = "tile.get.fly"
	metricEditLogFailed    = "editlog.write.failed"
	metricHashChanges      = "hash.changes"
	metricFeaturesInserted = "features.inserted"
)

func (c *Context) counter(name string) metrics.Counter {
	return metrics.GetOrRegisterCounter(name, c.registry())
}

func (c *Context) timer(name string) metrics.Timer {
	return metrics.GetOrRegisterTimer(name, c.registry())
}

// Snapshot returns the current counter values keyed by metric name.
func (c *Context) Snapshot() map[string]int64 {
	out := map[string]int64{}
	c.registry().Each(func(name string, i interface{}) {
		switch m := i.(type) {
		case metrics.Counter:
			out[name] = m.Count()
		case metrics.Timer:
			out[name] = m.Count()
		}
	})
	return out
}
