package http

import "github.com/prometheus/client_golang/prometheus"

// RegisterGauges exposes engine sizes as prometheus gauges evaluated at
// scrape time.
func RegisterGauges(reg prometheus.Registerer, engine Engine) error {
	gauges := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "kazuba",
			Subsystem: "rlm",
			Name:      "q_table_size",
			Help:      "Number of (state, action) entries in the Q-table.",
		}, func() float64 { return float64(engine.Stats().QTableSize) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "kazuba",
			Subsystem: "rlm",
			Name:      "memory_size",
			Help:      "Number of entries in working memory.",
		}, func() float64 { return float64(engine.Stats().MemorySize) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "kazuba",
			Subsystem: "rlm",
			Name:      "session_active",
			Help:      "1 while a learning session is open.",
		}, func() float64 {
			if engine.IsSessionActive() {
				return 1
			}
			return 0
		}),
	}
	for _, g := range gauges {
		if err := reg.Register(g); err != nil {
			return err
		}
	}
	return nil
}
