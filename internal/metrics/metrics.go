// Package metrics exposes session counters and the latest attitude to
// Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dmpimu/internal/ahrs"
	"dmpimu/internal/sensors/mpu9250"
)

// Source is what the collector reads on every scrape.
type Source interface {
	Stats() mpu9250.Stats
	Snapshot() ahrs.Snapshot
}

var (
	cyclesDesc = prometheus.NewDesc("dmpimu_cycles_total",
		"Interrupt cycles serviced by the worker.", []string{"result"}, nil)
	fifoResetsDesc = prometheus.NewDesc("dmpimu_fifo_resets_total",
		"FIFO resets forced by overflow or a persistently bad count.", nil, nil)
	badQuatDesc = prometheus.NewDesc("dmpimu_bad_quaternions_total",
		"Packets rejected by the quaternion magnitude check.", nil, nil)
	magSaturatedDesc = prometheus.NewDesc("dmpimu_mag_saturated_total",
		"Magnetometer samples discarded for overflow.", nil, nil)
	fusionUpdatesDesc = prometheus.NewDesc("dmpimu_fusion_updates_total",
		"Magnetometer samples fused into yaw.", nil, nil)
	fusionErrorsDesc = prometheus.NewDesc("dmpimu_fusion_errors_total",
		"Magnetometer samples the yaw filter could not use.", nil, nil)
	headingDesc = prometheus.NewDesc("dmpimu_heading_degrees",
		"Latest magnetic heading.", nil, nil)
	lastReadDesc = prometheus.NewDesc("dmpimu_last_read_ok",
		"1 if the most recent cycle decoded a sample.", nil, nil)
	tempDesc = prometheus.NewDesc("dmpimu_temperature_celsius",
		"Sensor die temperature.", nil, nil)
)

type Collector struct {
	src Source
}

func NewCollector(src Source) *Collector {
	return &Collector{src: src}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		cyclesDesc, fifoResetsDesc, badQuatDesc, magSaturatedDesc,
		fusionUpdatesDesc, fusionErrorsDesc, headingDesc, lastReadDesc, tempDesc,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.src.Stats()
	snap := c.src.Snapshot()

	ok := st.Cycles - st.Failures
	if st.Failures > st.Cycles {
		ok = 0
	}
	ch <- prometheus.MustNewConstMetric(cyclesDesc, prometheus.CounterValue, float64(ok), "ok")
	ch <- prometheus.MustNewConstMetric(cyclesDesc, prometheus.CounterValue, float64(st.Failures), "failed")
	ch <- prometheus.MustNewConstMetric(fifoResetsDesc, prometheus.CounterValue, float64(st.FIFOResets))
	ch <- prometheus.MustNewConstMetric(badQuatDesc, prometheus.CounterValue, float64(st.BadQuaternions))
	ch <- prometheus.MustNewConstMetric(magSaturatedDesc, prometheus.CounterValue, float64(st.MagSaturated))
	ch <- prometheus.MustNewConstMetric(fusionUpdatesDesc, prometheus.CounterValue, float64(st.FusionUpdates))
	ch <- prometheus.MustNewConstMetric(fusionErrorsDesc, prometheus.CounterValue, float64(st.FusionErrors))

	lastOK := 0.0
	if snap.LastReadOK {
		lastOK = 1
	}
	ch <- prometheus.MustNewConstMetric(lastReadDesc, prometheus.GaugeValue, lastOK)
	if snap.Valid {
		ch <- prometheus.MustNewConstMetric(headingDesc, prometheus.GaugeValue, snap.HeadingDeg)
		ch <- prometheus.MustNewConstMetric(tempDesc, prometheus.GaugeValue, snap.TempC)
	}
}

// NewRegistry returns a registry with the collector and the standard Go
// runtime collectors.
func NewRegistry(src Source) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	for _, c := range []prometheus.Collector{
		NewCollector(src),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
