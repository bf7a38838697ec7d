package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/taler-go/walletd/internal/core/ports"
	"golang.org/x/sync/singleflight"
)

const (
	defaultMaxParallelOps         = 8
	defaultExchangeUpdateInterval = time.Hour
	defaultSchedulerInterval      = 5 * time.Second
)

// Config holds the dependencies of the wallet and gives access to its
// services, which are created on first use.
type Config struct {
	RepoManager    ports.RepoManager
	Crypto         ports.Crypto
	ExchangeClient ports.ExchangeClient
	BankClient     ports.BankClient
	SyncClient     ports.SyncClient
	PayFlow        ports.PayFlow
	Clock          ports.Clock

	// DeviceID is used for the backup config when created. A random id is
	// generated if empty.
	DeviceID               string
	MaxParallelOps         int
	ExchangeUpdateInterval time.Duration
	SchedulerInterval      time.Duration

	lock  sync.Mutex
	state *walletState
}

func (c *Config) Validate() error {
	if c.RepoManager == nil {
		return fmt.Errorf("missing repo manager")
	}
	if c.Crypto == nil {
		return fmt.Errorf("missing crypto service")
	}
	if c.ExchangeClient == nil {
		return fmt.Errorf("missing exchange client")
	}
	if c.BankClient == nil {
		return fmt.Errorf("missing bank client")
	}
	if c.SyncClient == nil {
		return fmt.Errorf("missing sync client")
	}
	if c.PayFlow == nil {
		return fmt.Errorf("missing pay flow")
	}
	if c.MaxParallelOps < 0 {
		return fmt.Errorf("max parallel operations must not be negative")
	}
	return nil
}

func (c *Config) ExchangeService() ExchangeService {
	return c.walletState().exchanges
}

func (c *Config) ReserveService() ReserveService {
	return c.walletState().reserves
}

func (c *Config) WithdrawalService() WithdrawalService {
	return c.walletState().withdrawals
}

func (c *Config) RefreshService() RefreshService {
	return c.walletState().refreshes
}

func (c *Config) BackupService() BackupService {
	return c.walletState().backups
}

func (c *Config) PendingService() PendingService {
	return c.walletState().pending
}

func (c *Config) Scheduler() Scheduler {
	return c.walletState().scheduler
}

// Wait blocks until all the operations started in background by the
// services are done.
func (c *Config) Wait() {
	c.walletState().background.Wait()
}

// Close stops the background operations and waits for them to return.
func (c *Config) Close() {
	s := c.walletState()
	s.cancel()
	s.background.Wait()
}

func (c *Config) walletState() *walletState {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.state == nil {
		c.state = newWalletState(c)
	}
	return c.state
}

// walletState is shared by all the services of the wallet. Services call
// each other through it.
type walletState struct {
	repo     ports.RepoManager
	crypto   ports.Crypto
	exchange ports.ExchangeClient
	bank     ports.BankClient
	sync     ports.SyncClient
	payFlow  ports.PayFlow
	clock    ports.Clock

	deviceID               string
	maxParallelOps         int
	exchangeUpdateInterval time.Duration
	schedulerInterval      time.Duration

	inflight      singleflight.Group
	exchangeLocks *exchangeLocks

	ctx        context.Context
	cancel     context.CancelFunc
	background sync.WaitGroup

	exchanges   *exchangeService
	reserves    *reserveService
	withdrawals *withdrawalService
	refreshes   *refreshService
	backups     *backupService
	pending     *pendingService
	scheduler   *scheduler
}

func newWalletState(c *Config) *walletState {
	clock := c.Clock
	if clock == nil {
		clock = ports.SystemClock{}
	}
	maxParallelOps := c.MaxParallelOps
	if maxParallelOps <= 0 {
		maxParallelOps = defaultMaxParallelOps
	}
	exchangeUpdateInterval := c.ExchangeUpdateInterval
	if exchangeUpdateInterval <= 0 {
		exchangeUpdateInterval = defaultExchangeUpdateInterval
	}
	schedulerInterval := c.SchedulerInterval
	if schedulerInterval <= 0 {
		schedulerInterval = defaultSchedulerInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &walletState{
		repo:                   c.RepoManager,
		crypto:                 c.Crypto,
		exchange:               c.ExchangeClient,
		bank:                   c.BankClient,
		sync:                   c.SyncClient,
		payFlow:                c.PayFlow,
		clock:                  clock,
		deviceID:               c.DeviceID,
		maxParallelOps:         maxParallelOps,
		exchangeUpdateInterval: exchangeUpdateInterval,
		schedulerInterval:      schedulerInterval,
		exchangeLocks:          newExchangeLocks(),
		ctx:                    ctx,
		cancel:                 cancel,
	}
	s.exchanges = &exchangeService{s}
	s.reserves = &reserveService{s}
	s.withdrawals = &withdrawalService{s}
	s.refreshes = &refreshService{s}
	s.backups = &backupService{s}
	s.pending = &pendingService{s}
	s.scheduler = &scheduler{s}
	return s
}

func (s *walletState) now() time.Time {
	return s.clock.Now()
}

// coalesce runs fn unless a run for the same key is in flight, in which
// case it waits for that one and returns its outcome.
func (s *walletState) coalesce(key string, fn func() error) error {
	_, err, _ := s.inflight.Do(key, func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// runInBackground runs fn in a goroutine with a context that is not bound
// to the request, nor to any transaction. Errors are only logged since
// every entity records its own failures.
func (s *walletState) runInBackground(name string, fn func(ctx context.Context) error) {
	if s.ctx.Err() != nil {
		return
	}
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		if err := fn(s.ctx); err != nil {
			logOperationError(name, err)
		}
	}()
}

// exchangeLocks serializes the requests that spend money at an exchange,
// one exchange at a time.
type exchangeLocks struct {
	lock  sync.Mutex
	locks map[string]*sync.Mutex
}

func newExchangeLocks() *exchangeLocks {
	return &exchangeLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *exchangeLocks) forExchange(baseURL string) *sync.Mutex {
	l.lock.Lock()
	defer l.lock.Unlock()

	m, ok := l.locks[baseURL]
	if !ok {
		m = &sync.Mutex{}
		l.locks[baseURL] = m
	}
	return m
}

// withExchangeLock runs fn while holding the lock of the given exchange.
func (s *walletState) withExchangeLock(baseURL string, fn func() error) error {
	m := s.exchangeLocks.forExchange(baseURL)
	m.Lock()
	defer m.Unlock()
	return fn()
}

func logOperationError(name string, err error) {
	if isInvariantViolation(err) {
		log.WithError(err).Errorf("%s: invariant violated", name)
		return
	}
	log.WithError(err).Warnf("%s failed", name)
}
