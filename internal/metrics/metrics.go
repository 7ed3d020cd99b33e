// Package metrics exposes FTP server activity as Prometheus collectors.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ftpgo"

// Collector implements ftp.Observer on top of Prometheus metrics.
type Collector struct {
	activeSessions prometheus.Gauge
	sessions       prometheus.Counter
	commands       *prometheus.CounterVec
	logins         *prometheus.CounterVec
	bytes          *prometheus.CounterVec
}

// New creates a Collector and registers its metrics with reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of currently connected FTP sessions.",
		}),
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of accepted FTP sessions.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Received commands by name.",
		}, []string{"command", "known"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		}, []string{"success"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transferred_bytes_total",
			Help:      "Bytes moved over data connections by direction.",
		}, []string{"direction"}),
	}
	for _, col := range []prometheus.Collector{c.activeSessions, c.sessions, c.commands, c.logins, c.bytes} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// SessionOpened counts a new session and marks it active.
func (c *Collector) SessionOpened() {
	c.activeSessions.Inc()
	c.sessions.Inc()
}

// SessionClosed marks a session as no longer active.
func (c *Collector) SessionClosed() {
	c.activeSessions.Dec()
}

// Command counts a received command. Unknown names are folded into a single
// label value so clients cannot grow the label set.
func (c *Collector) Command(name string, known bool) {
	if !known {
		name = "unknown"
	}
	c.commands.WithLabelValues(name, strconv.FormatBool(known)).Inc()
}

// Login counts a login attempt by outcome.
func (c *Collector) Login(success bool) {
	c.logins.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// BytesTransferred adds n bytes to the counter for direction.
func (c *Collector) BytesTransferred(direction string, n int64) {
	if n <= 0 {
		return
	}
	c.bytes.WithLabelValues(direction).Add(float64(n))
}
