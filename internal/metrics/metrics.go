package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MintsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faucet_mints_total",
			Help: "Mint request lifecycle counter by terminal status and channel",
		},
		[]string{"status", "channel"}, // completed|failed , web|telegram|discord
	)

	MintedAmount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faucet_minted_amount_total",
			Help: "Total amount minted per channel",
		},
		[]string{"channel"},
	)
)

var registerOnce sync.Once

// MustRegister registers the collectors once; later calls are no-ops so the
// server and worker wiring can both call it safely.
func MustRegister(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(
			MintsTotal,
			MintedAmount,
		)
	})
}
