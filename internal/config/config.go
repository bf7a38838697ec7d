package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/spf13/viper"
)

const (
	// DatadirKey is the local data directory to store the internal state of the wallet
	DatadirKey = "DATADIR"
	// LogLevelKey are the different logging levels. For reference on the values https://godoc.org/github.com/sirupsen/logrus#Level
	LogLevelKey = "LOG_LEVEL"
	// DBInMemoryKey keeps the wallet db in memory, nothing survives a restart
	DBInMemoryKey = "DB_IN_MEMORY"
	// SchedulerIntervalKey is the interval between 2 rounds of pending operations
	SchedulerIntervalKey = "SCHEDULER_INTERVAL"
	// MaxParallelOpsKey is the max number of pending operations processed at once
	MaxParallelOpsKey = "MAX_PARALLEL_OPS"
	// HTTPTimeoutKey is the default timeout for requests to exchanges, banks
	// and sync providers
	HTTPTimeoutKey = "HTTP_TIMEOUT"
	// ExchangeRateLimitKey is the max number of requests per second sent to
	// the same host, 0 disables the limit
	ExchangeRateLimitKey = "EXCHANGE_RATE_LIMIT"
	// ExchangeUpdateIntervalKey is how long the keys of an exchange are
	// considered fresh
	ExchangeUpdateIntervalKey = "EXCHANGE_UPDATE_INTERVAL"
	// EnableProfilerKey enables profiler that can be used to investigate performance issues
	EnableProfilerKey = "ENABLE_PROFILER"
	// StatsIntervalKey defines interval for printing basic wallet statistics
	StatsIntervalKey = "STATS_INTERVAL"
	// DeviceIDKey identifies this device in backups. A random one is
	// generated when the wallet is created if not set.
	DeviceIDKey = "DEVICE_ID"

	DbLocation       = "db"
	ProfilerLocation = "stats"
)

var vip *viper.Viper
var defaultDatadir = btcutil.AppDataDir("taler-walletd", false)

func InitConfig() error {
	vip = viper.New()
	vip.SetEnvPrefix("WALLET")
	vip.AutomaticEnv()

	vip.SetDefault(DatadirKey, defaultDatadir)
	vip.SetDefault(LogLevelKey, 4)
	vip.SetDefault(DBInMemoryKey, false)
	vip.SetDefault(SchedulerIntervalKey, 5*time.Second)
	vip.SetDefault(MaxParallelOpsKey, 8)
	vip.SetDefault(HTTPTimeoutKey, 30*time.Second)
	vip.SetDefault(ExchangeRateLimitKey, 10)
	vip.SetDefault(ExchangeUpdateIntervalKey, time.Hour)
	vip.SetDefault(EnableProfilerKey, false)
	vip.SetDefault(StatsIntervalKey, 600)

	if err := validate(); err != nil {
		return fmt.Errorf("error while validating config: %s", err)
	}

	if err := initDatadir(); err != nil {
		return fmt.Errorf("error while creating datadir: %s", err)
	}

	return nil
}

func GetString(key string) string {
	return vip.GetString(key)
}

func GetInt(key string) int {
	return vip.GetInt(key)
}

func GetDuration(key string) time.Duration {
	return vip.GetDuration(key)
}

func GetBool(key string) bool {
	return vip.GetBool(key)
}

func GetDatadir() string {
	return GetString(DatadirKey)
}

// GetDbDir returns the directory of the wallet db, or an empty string if
// the db is kept in memory.
func GetDbDir() string {
	if GetBool(DBInMemoryKey) {
		return ""
	}
	return filepath.Join(GetDatadir(), DbLocation)
}

func validate() error {
	datadir := GetString(DatadirKey)
	if len(datadir) <= 0 {
		return fmt.Errorf("missing datadir")
	}

	level := GetInt(LogLevelKey)
	if level < 0 || level > 6 {
		return fmt.Errorf("%s must be in range [0, 6]", LogLevelKey)
	}

	for _, key := range []string{
		SchedulerIntervalKey, HTTPTimeoutKey, ExchangeUpdateIntervalKey,
	} {
		if GetDuration(key) <= 0 {
			return fmt.Errorf("%s must be a positive duration", key)
		}
	}

	if GetInt(MaxParallelOpsKey) <= 0 {
		return fmt.Errorf("%s must be greater than zero", MaxParallelOpsKey)
	}
	if GetInt(ExchangeRateLimitKey) < 0 {
		return fmt.Errorf("%s must not be negative", ExchangeRateLimitKey)
	}
	if GetBool(EnableProfilerKey) && GetInt(StatsIntervalKey) <= 0 {
		return fmt.Errorf("%s must be greater than zero", StatsIntervalKey)
	}

	return nil
}

func initDatadir() error {
	datadir := GetDatadir()
	if err := makeDirectoryIfNotExists(datadir); err != nil {
		return err
	}

	if dbDir := GetDbDir(); dbDir != "" {
		if err := makeDirectoryIfNotExists(dbDir); err != nil {
			return err
		}
	}

	profilerEnabled := GetBool(EnableProfilerKey)
	if profilerEnabled {
		if err := makeDirectoryIfNotExists(filepath.Join(datadir, ProfilerLocation)); err != nil {
			return err
		}
	}
	return nil
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}
