package metrics

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Result label values for ledger operations.
const (
	ResultOK           = "ok"
	ResultReplayed     = "replayed"
	ResultInsufficient = "insufficient"
	ResultError        = "error"
)

// Collector owns the engine's counters on a private registry so that several
// engines (tests, CLI invocations) never collide on the global default registry.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry           *prometheus.Registry
	ledgerOps          *prometheus.CounterVec
	derivationFailures *prometheus.CounterVec
	walletsCreated     *prometheus.CounterVec
}

func New(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		ledgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger operations by kind and result.",
		}, []string{"op", "result"}),
		derivationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "derivation",
			Name:      "failures_total",
			Help:      "Key derivation failures by chain.",
		}, []string{"chain"}),
		walletsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "accounts_created_total",
			Help:      "Wallet accounts created by currency.",
		}, []string{"currency"}),
	}

	c.registry.MustRegister(c.ledgerOps, c.derivationFailures, c.walletsCreated)

	return c
}

// Registry exposes the private registry, e.g. for promhttp.HandlerFor.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}

	return c.registry
}

// WriteTextfile writes the gathered counters in the text exposition format for
// node_exporter's textfile collector. The file is replaced atomically.
func (c *Collector) WriteTextfile(path string) error {
	if c == nil || path == "" {
		return nil
	}

	return errors.Wrapf(prometheus.WriteToTextfile(path, c.registry), "failed to write metrics to %s", path)
}

func (c *Collector) LedgerOp(op string, result string) {
	if c == nil {
		return
	}

	c.ledgerOps.WithLabelValues(op, result).Inc()
}

func (c *Collector) DerivationFailed(chain string) {
	if c == nil {
		return
	}

	c.derivationFailures.WithLabelValues(chain).Inc()
}

func (c *Collector) AccountCreated(currency string) {
	if c == nil {
		return
	}

	c.walletsCreated.WithLabelValues(currency).Inc()
}
