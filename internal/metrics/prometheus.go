package metrics

import (
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/samber/lo"
)

const metricPrefix = "aero_webrtc_signaling_relay"

// Gauge is a point-in-time value sampled on every scrape.
type Gauge struct {
	Name  string
	Help  string
	Value func() int
}

// PrometheusHandler exposes Metrics in Prometheus' text exposition format.
//
// Counters are exported as a single metric with an `event` label. Gauges are
// exported as <prefix>_<name>.
func PrometheusHandler(m *Metrics, gauges ...Gauge) http.Handler {
	labelEscaper := strings.NewReplacer("\\", "\\\\", "\"", "\\\"", "\n", "\\n")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		snap := m.Snapshot()
		keys := lo.Keys(snap)
		slices.Sort(keys)

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = fmt.Fprintf(w, "# HELP %s_events_total Internal event counters.\n", metricPrefix)
		_, _ = fmt.Fprintf(w, "# TYPE %s_events_total counter\n", metricPrefix)
		for _, k := range keys {
			_, _ = fmt.Fprintf(w, "%s_events_total{event=\"%s\"} %d\n", metricPrefix, labelEscaper.Replace(k), snap[k])
		}

		for _, g := range gauges {
			if g.Value == nil {
				continue
			}
			name := metricPrefix + "_" + g.Name
			if g.Help != "" {
				_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, g.Help)
			}
			_, _ = fmt.Fprintf(w, "# TYPE %s gauge\n", name)
			_, _ = fmt.Fprintf(w, "%s %d\n", name, g.Value())
		}
	})
}
