package db

import "github.com/prometheus/client_golang/prometheus"

// StatsCollector exports Pool.Stats as prometheus metrics.
type StatsCollector struct {
	pool *Pool

	maxConns      *prometheus.Desc
	inUse         *prometheus.Desc
	totalConns    *prometheus.Desc
	idleConns     *prometheus.Desc
	acquires      *prometheus.Desc
	releases      *prometheus.Desc
	acquireErrors *prometheus.Desc
}

func NewStatsCollector(p *Pool) *StatsCollector {
	d := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("db_pool_"+name, help, nil, nil)
	}
	return &StatsCollector{
		pool:          p,
		maxConns:      d("max_conns", "Configured upper bound of checked-out connections."),
		inUse:         d("in_use_conns", "Connections currently checked out."),
		totalConns:    d("total_conns", "Connections currently open in the driver pool."),
		idleConns:     d("idle_conns", "Idle connections in the driver pool."),
		acquires:      d("acquires_total", "Successful connection acquisitions."),
		releases:      d("releases_total", "Connections returned to the pool."),
		acquireErrors: d("acquire_errors_total", "Failed connection acquisitions."),
	}
}

func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.maxConns
	ch <- c.inUse
	ch <- c.totalConns
	ch <- c.idleConns
	ch <- c.acquires
	ch <- c.releases
	ch <- c.acquireErrors
}

func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.pool.Stats()
	ch <- prometheus.MustNewConstMetric(c.maxConns, prometheus.GaugeValue, float64(s.MaxConns))
	ch <- prometheus.MustNewConstMetric(c.inUse, prometheus.GaugeValue, float64(s.InUse))
	ch <- prometheus.MustNewConstMetric(c.totalConns, prometheus.GaugeValue, float64(s.TotalConns))
	ch <- prometheus.MustNewConstMetric(c.idleConns, prometheus.GaugeValue, float64(s.IdleConns))
	ch <- prometheus.MustNewConstMetric(c.acquires, prometheus.CounterValue, float64(s.Acquires))
	ch <- prometheus.MustNewConstMetric(c.releases, prometheus.CounterValue, float64(s.Releases))
	ch <- prometheus.MustNewConstMetric(c.acquireErrors, prometheus.CounterValue, float64(s.AcquireErrors))
}
