package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/taler-go/walletd/internal/config"
	"github.com/taler-go/walletd/internal/core/application"
	"github.com/taler-go/walletd/internal/core/ports"
	"github.com/taler-go/walletd/internal/infrastructure/bank"
	"github.com/taler-go/walletd/internal/infrastructure/crypto"
	"github.com/taler-go/walletd/internal/infrastructure/exchange"
	"github.com/taler-go/walletd/internal/infrastructure/payflow"
	dbbadger "github.com/taler-go/walletd/internal/infrastructure/storage/db/badger"
	"github.com/taler-go/walletd/internal/infrastructure/syncprovider"
	"github.com/taler-go/walletd/internal/infrastructure/transport"
	"github.com/taler-go/walletd/pkg/stats"
	"github.com/taler-go/walletd/pkg/util"
)

func main() {
	if err := config.InitConfig(); err != nil {
		log.WithError(err).Fatal("failed to init config")
	}
	log.SetLevel(log.Level(config.GetInt(config.LogLevelKey)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repoManager, err := dbbadger.NewRepoManager(
		config.GetDbDir(), dbbadger.NewLogger(),
	)
	if err != nil {
		log.WithError(err).Fatal("failed to open wallet db")
	}
	defer repoManager.Close()

	httpClient := util.NewClient(
		config.GetDuration(config.HTTPTimeoutKey),
		config.GetInt(config.ExchangeRateLimitKey),
	)
	t := transport.NewClient(httpClient)

	wallet := &application.Config{
		RepoManager:    repoManager,
		Crypto:         crypto.NewService(),
		ExchangeClient: exchange.NewClient(t),
		BankClient:     bank.NewClient(t),
		SyncClient:     syncprovider.NewClient(t),
		PayFlow:        payflow.NewLogOnly(),
		Clock:          ports.SystemClock{},

		DeviceID:               config.GetString(config.DeviceIDKey),
		MaxParallelOps:         config.GetInt(config.MaxParallelOpsKey),
		ExchangeUpdateInterval: config.GetDuration(config.ExchangeUpdateIntervalKey),
		SchedulerInterval:      config.GetDuration(config.SchedulerIntervalKey),
	}
	if err := wallet.Validate(); err != nil {
		log.WithError(err).Fatal("invalid wallet config")
	}
	defer wallet.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		wallet.Scheduler().Run(ctx)
	}()

	statsDone := make(chan struct{})
	if config.GetBool(config.EnableProfilerKey) {
		interval := time.Duration(config.GetInt(config.StatsIntervalKey)) * time.Second
		dumpPath := filepath.Join(
			config.GetDatadir(), config.ProfilerLocation, "prometheus.dump",
		)
		reporter := stats.NewReporter(
			prometheus.DefaultRegisterer, prometheus.DefaultGatherer,
			wallet.PendingService().GetWalletSnapshot,
		)
		go func() {
			defer close(statsDone)
			reporter.Run(ctx, interval, dumpPath)
		}()
	} else {
		close(statsDone)
	}

	log.Infof("wallet started, data dir: %s", config.GetDatadir())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan

	log.Info("shutting down wallet")
	cancel()
	<-done
	<-statsDone

	log.Debug("exiting")
}
