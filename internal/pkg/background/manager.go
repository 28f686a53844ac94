package background

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	metrics "github.com/paintgate/paintgate/internal/pkg/metrics/counter"
	"github.com/paintgate/paintgate/internal/pkg/renewal"
)

const counterFlushInterval = 5 * time.Second

// Manager runs the background tasks: the free-tier renewal sweep and the
// usage counter flush. It is independent of the request path; stopping it
// never blocks an in-flight request.
type Manager struct {
	renewalSvc *renewal.Service

	renewalTicker      *time.Ticker
	counterFlushTicker *time.Ticker
	sweepInterval      time.Duration
	stopCh             chan struct{}
	wg                 sync.WaitGroup
	mu                 sync.Mutex
	running            bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// Initialize sets up the global background manager (singleton).
func Initialize(renewalSvc *renewal.Service, sweepInterval time.Duration) *Manager {
	managerOnce.Do(func() {
		globalManager = &Manager{
			renewalSvc:    renewalSvc,
			sweepInterval: sweepInterval,
			stopCh:        make(chan struct{}),
		}
	})
	return globalManager
}

// GetManager returns the global background manager.
func GetManager() *Manager {
	return globalManager
}

// Start launches the background workers. The renewal sweep also runs once
// immediately so a restarted process does not wait a full interval.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted
	// safely. Workers get the channel and ticker of their cycle handed in, so
	// a later restart never swaps them out from under a running select.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[Background Manager] Starting background tasks")

	m.renewalTicker = time.NewTicker(m.sweepInterval)
	m.wg.Add(1)
	go m.renewalWorker(m.stopCh, m.renewalTicker)

	m.counterFlushTicker = time.NewTicker(counterFlushInterval)
	m.wg.Add(1)
	go m.counterFlushWorker(m.stopCh, m.counterFlushTicker)

	log.Info("[Background Manager] Started successfully")
}

// Stop stops the background workers and waits for them to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[Background Manager] Stopping background tasks...")

	if m.renewalTicker != nil {
		m.renewalTicker.Stop()
	}
	if m.counterFlushTicker != nil {
		m.counterFlushTicker.Stop()
	}

	close(m.stopCh)
	m.running = false

	m.wg.Wait()

	log.Info("[Background Manager] Stopped successfully")
}

// renewalWorker runs the free-tier renewal sweep once at start and then on
// every tick.
func (m *Manager) renewalWorker(stopCh <-chan struct{}, ticker *time.Ticker) {
	defer m.wg.Done()
	log.Infof("[Background Manager] Started renewal worker (interval: %s)", m.sweepInterval)

	m.runSweepOnce()

	for {
		select {
		case <-stopCh:
			log.Info("[Background Manager] Renewal worker stopping")
			return
		case <-ticker.C:
			m.runSweepOnce()
		}
	}
}

// counterFlushWorker periodically flushes pending usage counters from Redis to DB.
func (m *Manager) counterFlushWorker(stopCh <-chan struct{}, ticker *time.Ticker) {
	defer m.wg.Done()
	for {
		select {
		case <-stopCh:
			log.Info("[Background Manager] Counter flush worker stopping")
			return
		case <-ticker.C:
			if err := metrics.FlushAll(); err != nil {
				log.Errorf("[Background Manager] Counter flush error: %v", err)
			}
		}
	}
}

func (m *Manager) runSweepOnce() {
	count, err := m.renewalSvc.Sweep(context.Background())
	if err != nil {
		log.Errorf("[Background Manager] Renewal sweep error: %v", err)
		return
	}
	if count > 0 {
		log.Infof("[Background Manager] Renewal sweep reset %d account(s)", count)
	}
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// RunSweepOnce exposes a manual trigger for a single renewal sweep (admin use).
func (m *Manager) RunSweepOnce() {
	m.runSweepOnce()
}
