package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reservesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "walletd",
		Name:      "reserves_created_total",
		Help:      "Number of reserves created.",
	})
	coinsWithdrawn = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "walletd",
		Name:      "coins_withdrawn_total",
		Help:      "Number of coins obtained by withdrawal.",
	})
	coinsRefreshed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "walletd",
		Name:      "coins_refreshed_total",
		Help:      "Number of new coins obtained by refresh.",
	})
	operationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "walletd",
		Name:      "operation_errors_total",
		Help:      "Number of failed operations, by type.",
	}, []string{"type"})
	backupUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "walletd",
		Name:      "backup_uploads_total",
		Help:      "Number of backup uploads, by response status.",
	}, []string{"status"})
)
