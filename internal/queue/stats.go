package queue

import (
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Stat — состояние группы воркеров.
type Stat struct {
	Prefix      string     `json:"prefix"`
	Delivered   int64      `json:"delivered"`
	QueueSize   int        `json:"queue_size"`
	OldestEvent *time.Time `json:"oldest_event,omitempty"`
	LastWorker  time.Time  `json:"last_worker"`
	Workers     int        `json:"workers"`
	WorkerIDs   []string   `json:"worker_ids"`
}

// Stats возвращает состояние всех групп, отсортированное по префиксу.
// Пинги старше PingTTL удаляются.
func (b *Broker) Stats() []Stat {
	expired := time.Now().Add(-b.pingTTL)

	b.mu.Lock()
	defer b.mu.Unlock()

	groups := b.routes.list()
	stats := make([]Stat, 0, len(groups))
	for _, g := range groups {
		for id, t := range g.pings {
			if t.Before(expired) {
				delete(g.pings, id)
			}
		}
		ids := make([]string, 0, len(g.pings))
		for id := range g.pings {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		st := Stat{
			Prefix:     g.prefix,
			Delivered:  g.delivered,
			LastWorker: g.lastPoll,
			Workers:    len(ids),
			WorkerIDs:  ids,
		}
		for _, e := range g.queue {
			if !b.live(e) {
				continue
			}
			if st.QueueSize == 0 {
				t := e.arrived
				st.OldestEvent = &t
			}
			st.QueueSize++
		}
		stats = append(stats, st)
	}
	return stats
}

// Collector экспортирует Stats брокера в prometheus.
type Collector struct {
	broker *Broker

	queueSize *prometheus.Desc
	delivered *prometheus.Desc
	workers   *prometheus.Desc
	oldestAge *prometheus.Desc
}

// NewCollector создаёт Collector для broker.
func NewCollector(broker *Broker) *Collector {
	labels := []string{"prefix"}
	return &Collector{
		broker:    broker,
		queueSize: prometheus.NewDesc("flowcase_queue_size", "Events waiting for a worker.", labels, nil),
		delivered: prometheus.NewDesc("flowcase_queue_delivered_total", "Events delivered to workers.", labels, nil),
		workers:   prometheus.NewDesc("flowcase_queue_workers", "Workers seen recently.", labels, nil),
		oldestAge: prometheus.NewDesc("flowcase_queue_oldest_event_age_seconds", "Age of the oldest waiting event.", labels, nil),
	}
}

// Describe реализует prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queueSize
	ch <- c.delivered
	ch <- c.workers
	ch <- c.oldestAge
}

// Collect реализует prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	now := time.Now()
	for _, st := range c.broker.Stats() {
		ch <- prometheus.MustNewConstMetric(c.queueSize, prometheus.GaugeValue, float64(st.QueueSize), st.Prefix)
		ch <- prometheus.MustNewConstMetric(c.delivered, prometheus.CounterValue, float64(st.Delivered), st.Prefix)
		ch <- prometheus.MustNewConstMetric(c.workers, prometheus.GaugeValue, float64(st.Workers), st.Prefix)
		age := 0.0
		if st.OldestEvent != nil {
			age = now.Sub(*st.OldestEvent).Seconds()
		}
		ch <- prometheus.MustNewConstMetric(c.oldestAge, prometheus.GaugeValue, age, st.Prefix)
	}
}
