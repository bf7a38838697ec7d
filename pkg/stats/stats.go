package stats

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const namespace = "walletd"

// WalletSnapshot is the state of the wallet at a given time.
type WalletSnapshot struct {
	// PendingOperations counts the pending operations by type.
	PendingOperations map[string]int
	// DueOperations is the number of pending operations that can be
	// processed right away.
	DueOperations  int
	SpendableCoins int
	// Balances is the spendable value of the wallet by currency.
	Balances map[string]decimal.Decimal
}

// SnapshotFunc takes a snapshot of the wallet.
type SnapshotFunc func(ctx context.Context) (*WalletSnapshot, error)

// Reporter periodically exports a wallet snapshot as prometheus gauges and
// logs it along with the memory usage of the process.
type Reporter struct {
	snapshot SnapshotFunc
	gatherer prometheus.Gatherer

	pendingOps     *prometheus.GaugeVec
	dueOps         prometheus.Gauge
	spendableCoins prometheus.Gauge
	balance        *prometheus.GaugeVec
}

// NewReporter registers the wallet gauges on reg. The metrics dumped on
// shutdown are collected from gatherer.
func NewReporter(
	reg prometheus.Registerer, gatherer prometheus.Gatherer,
	snapshot SnapshotFunc,
) *Reporter {
	factory := promauto.With(reg)
	return &Reporter{
		snapshot: snapshot,
		gatherer: gatherer,
		pendingOps: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_operations",
			Help:      "Number of pending operations, by type.",
		}, []string{"type"}),
		dueOps: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "due_operations",
			Help:      "Number of pending operations that are due.",
		}),
		spendableCoins: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "spendable_coins",
			Help:      "Number of coins that can be spent.",
		}),
		balance: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "balance",
			Help:      "Spendable value of the wallet, by currency.",
		}, []string{"currency"}),
	}
}

// Report takes a snapshot of the wallet and updates the gauges.
func (r *Reporter) Report(ctx context.Context) error {
	snapshot, err := r.snapshot(ctx)
	if err != nil {
		return err
	}

	r.pendingOps.Reset()
	for opType, count := range snapshot.PendingOperations {
		r.pendingOps.WithLabelValues(opType).Set(float64(count))
	}
	r.dueOps.Set(float64(snapshot.DueOperations))
	r.spendableCoins.Set(float64(snapshot.SpendableCoins))
	r.balance.Reset()
	for currency, value := range snapshot.Balances {
		r.balance.WithLabelValues(currency).Set(value.InexactFloat64())
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	log.WithFields(log.Fields{
		"pending_ops":     snapshot.PendingOperations,
		"due_ops":         snapshot.DueOperations,
		"spendable_coins": snapshot.SpendableCoins,
		"balances":        formatBalances(snapshot.Balances),
		"heap_alloc_mb":   memStats.HeapAlloc / (1 << 20),
		"goroutines":      runtime.NumGoroutine(),
	}).Info("wallet stats")
	return nil
}

// Run reports the wallet stats at every interval until ctx is done. Then
// the gathered metrics are appended to the file at dumpPath, if any.
func (r *Reporter) Run(ctx context.Context, interval time.Duration, dumpPath string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.Report(ctx); err != nil {
				log.WithError(err).Warn("failed to report wallet stats")
			}
		case <-ctx.Done():
			if len(dumpPath) <= 0 {
				return
			}
			if err := r.Dump(dumpPath); err != nil {
				log.WithError(err).Warn("failed to dump wallet stats")
			}
			return
		}
	}
}

// Dump appends the gathered metrics to the file at path, one sample per
// line, preceded by a timestamp.
func (r *Reporter) Dump(path string) error {
	families, err := r.gatherer.Gather()
	if err != nil {
		return err
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if _, err := fmt.Fprintf(
		writer, "# %s\n", time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return err
	}
	for _, family := range families {
		for _, m := range family.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, l := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
			}
			name := family.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}

			var value float64
			switch {
			case m.GetGauge() != nil:
				value = m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				value = m.GetCounter().GetValue()
			default:
				continue
			}
			if _, err := fmt.Fprintf(writer, "%s %v\n", name, value); err != nil {
				return err
			}
		}
	}
	return writer.Flush()
}

func formatBalances(balances map[string]decimal.Decimal) string {
	currencies := make([]string, 0, len(balances))
	for currency := range balances {
		currencies = append(currencies, currency)
	}
	sort.Strings(currencies)

	chunks := make([]string, 0, len(currencies))
	for _, currency := range currencies {
		chunks = append(chunks, currency+":"+balances[currency].String())
	}
	return strings.Join(chunks, " ")
}
