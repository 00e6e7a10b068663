package dolphin

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes session and device gauges. All methods are nil-safe so the
// supervisor can run without metrics in tests.
type Metrics struct {
	connected       prometheus.Gauge
	connectAttempts prometheus.Counter
	sessionErrors   prometheus.Counter
	status          *prometheus.GaugeVec
	filterBag       prometheus.Gauge
	cycleTime       prometheus.Gauge
	cycleTimeLeft   prometheus.Gauge
	temperature     prometheus.Gauge
	powerOnCount    prometheus.Gauge
	shadowVersion   prometheus.Gauge
}

func NewMetrics(serial string) *Metrics {
	labels := prometheus.Labels{"serial": serial}
	return &Metrics{
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "poolhome_dolphin_connected", Help: "Shadow session connectivity (1=connected)", ConstLabels: labels,
		}),
		connectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "poolhome_dolphin_connect_attempts_total", Help: "Connect attempts, including reconnects", ConstLabels: labels,
		}),
		sessionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "poolhome_dolphin_session_errors_total", Help: "Session error notifications", ConstLabels: labels,
		}),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "poolhome_dolphin_status", Help: "Derived robot status (1 on the active label)", ConstLabels: labels,
		}, []string{"status"}),
		filterBag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "poolhome_dolphin_filter_bag_fill", Help: "Filter bag fill/fault code (0-102)", ConstLabels: labels,
		}),
		cycleTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "poolhome_dolphin_cycle_time_seconds", Help: "Elapsed cleaning cycle time", ConstLabels: labels,
		}),
		cycleTimeLeft: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "poolhome_dolphin_cycle_time_left_seconds", Help: "Remaining cleaning cycle time", ConstLabels: labels,
		}),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "poolhome_dolphin_water_temperature_celsius", Help: "Last reported water temperature", ConstLabels: labels,
		}),
		powerOnCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "poolhome_dolphin_power_on_count", Help: "Power supply turn-on counter", ConstLabels: labels,
		}),
		shadowVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "poolhome_dolphin_shadow_version", Help: "Last observed shadow document version", ConstLabels: labels,
		}),
	}
}

// Collectors returns everything for plugin registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	if m == nil {
		return nil
	}
	return []prometheus.Collector{
		m.connected, m.connectAttempts, m.sessionErrors, m.status,
		m.filterBag, m.cycleTime, m.cycleTimeLeft, m.temperature,
		m.powerOnCount, m.shadowVersion,
	}
}

func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

func (m *Metrics) ConnectAttempt() {
	if m == nil {
		return
	}
	m.connectAttempts.Inc()
}

func (m *Metrics) SessionError() {
	if m == nil {
		return
	}
	m.sessionErrors.Inc()
}

func (m *Metrics) SetStatus(status Status) {
	if m == nil {
		return
	}
	m.status.Reset()
	m.status.WithLabelValues(string(status)).Set(1)
}

func (m *Metrics) SetFilterBag(value int) {
	if m == nil {
		return
	}
	m.filterBag.Set(float64(value))
}

func (m *Metrics) SetCycle(elapsed, left int) {
	if m == nil {
		return
	}
	m.cycleTime.Set(float64(elapsed))
	m.cycleTimeLeft.Set(float64(left))
}

func (m *Metrics) SetTemperature(celsius float64) {
	if m == nil {
		return
	}
	m.temperature.Set(celsius)
}

func (m *Metrics) SetPowerOnCount(count int) {
	if m == nil {
		return
	}
	m.powerOnCount.Set(float64(count))
}

func (m *Metrics) SetShadowVersion(version int64) {
	if m == nil {
		return
	}
	m.shadowVersion.Set(float64(version))
}
