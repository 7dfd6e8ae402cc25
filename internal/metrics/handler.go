package metrics

import (
	"net/http"
	"os"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/shirou/gopsutil/v3/process"
)

// Handler serves the exposition endpoint. queueDepth is sampled at scrape
// time so the gauge reflects live queue occupancy rather than a stale
// counter.
func (m *Metrics) Handler(queueDepth func() int) http.Handler {
	proc, _ := process.NewProcess(int32(os.Getpid()))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		format := expfmt.NewFormat(expfmt.TypeTextPlain)

		families := []*dto.MetricFamily{
			gaugeFamily("sse_fanout_queue_depth",
				"Sum of outbound events currently queued across all connected clients.",
				float64(queueDepth())),
			counterFamily("events_batched_total",
				"Events delivered to clients inside batch envelopes.",
				float64(m.batched.Load())),
			droppedFamily(m),
		}
		families = append(families, processFamilies(proc)...)

		w.Header().Set("Content-Type", string(format))
		enc := expfmt.NewEncoder(w, format)
		for _, mf := range families {
			if err := enc.Encode(mf); err != nil {
				return
			}
		}
	})
}

// processFamilies reports resident memory and CPU for the hub process. A nil
// or unreadable process yields no families rather than an error response.
func processFamilies(proc *process.Process) []*dto.MetricFamily {
	if proc == nil {
		return nil
	}
	var out []*dto.MetricFamily
	if mi, err := proc.MemoryInfo(); err == nil {
		out = append(out, gaugeFamily("hub_process_resident_memory_bytes",
			"Resident set size of the hub process.",
			float64(mi.RSS)))
	}
	if pct, err := proc.CPUPercent(); err == nil {
		out = append(out, gaugeFamily("hub_process_cpu_percent",
			"CPU utilisation of the hub process since the previous sample.",
			pct))
	}
	return out
}

func droppedFamily(m *Metrics) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: strPtr("events_dropped_total"),
		Help: strPtr("Non-critical events dropped because a client queue was full."),
		Type: metricTypePtr(dto.MetricType_COUNTER),
		Metric: []*dto.Metric{
			{
				Label:   []*dto.LabelPair{{Name: strPtr("priority"), Value: strPtr(PriorityNormal)}},
				Counter: &dto.Counter{Value: float64Ptr(float64(m.droppedNormal.Load()))},
			},
			{
				Label:   []*dto.LabelPair{{Name: strPtr("priority"), Value: strPtr(PriorityPassive)}},
				Counter: &dto.Counter{Value: float64Ptr(float64(m.droppedPassive.Load()))},
			},
		},
	}
}

func gaugeFamily(name, help string, value float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   strPtr(name),
		Help:   strPtr(help),
		Type:   metricTypePtr(dto.MetricType_GAUGE),
		Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: float64Ptr(value)}}},
	}
}

func counterFamily(name, help string, value float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   strPtr(name),
		Help:   strPtr(help),
		Type:   metricTypePtr(dto.MetricType_COUNTER),
		Metric: []*dto.Metric{{Counter: &dto.Counter{Value: float64Ptr(value)}}},
	}
}

func strPtr(s string) *string { return &s }

func float64Ptr(f float64) *float64 { return &f }

func metricTypePtr(t dto.MetricType) *dto.MetricType { return &t }
