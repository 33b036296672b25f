package fieldsync

import (
	"context"
	"sync"
	"time"
)

// Connectivity reports whether the backend is believed reachable.
type Connectivity interface {
	Online() bool
}

// ConnectivityState is the Monitor's view of the network.
type ConnectivityState struct {
	Online       bool
	LastOnlineAt time.Time // zero until the first online observation
}

// Prober actively checks reachability. See package probe.
type Prober interface {
	Probe(ctx context.Context) bool
}

type MonitorOptions struct {
	// Events delivers platform connectivity changes. Optional.
	Events <-chan bool

	// Prober is polled every ProbeInterval. Optional.
	Prober        Prober
	ProbeInterval time.Duration // 0 => 30s

	InitialOnline bool

	Logger Logger
	Hooks  Hooks
	Clock  Clock
}

// Monitor is the single owner of ConnectivityState. It merges platform events,
// periodic probes and manual Set calls, and notifies subscribers only when the
// online flag flips.
type Monitor struct {
	log   Logger
	hooks Hooks
	clock Clock

	mu    sync.Mutex
	state ConnectivityState

	subs subscribers[ConnectivityState]

	stopCh    chan struct{}
	closeWg   sync.WaitGroup
	closeOnce sync.Once
}

var _ Connectivity = (*Monitor)(nil)

// NewMonitor starts the event and probe loops named in opts. Close stops them.
func NewMonitor(opts MonitorOptions) *Monitor {
	m := &Monitor{
		log:    coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:  coalesce[Hooks](opts.Hooks, NopHooks{}),
		clock:  coalesce[Clock](opts.Clock, SystemClock),
		stopCh: make(chan struct{}),
	}
	m.state.Online = opts.InitialOnline
	if opts.InitialOnline {
		m.state.LastOnlineAt = m.clock.Now()
	}

	if opts.Events != nil {
		m.closeWg.Add(1)
		go m.eventLoop(opts.Events)
	}
	if opts.Prober != nil {
		m.closeWg.Add(1)
		go m.probeLoop(opts.Prober, coalesce(opts.ProbeInterval, DefaultProbeInterval))
	}
	return m
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Online
}

func (m *Monitor) State() ConnectivityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Set records an observation. Subscribers run only on a transition.
func (m *Monitor) Set(online bool) {
	now := m.clock.Now()

	m.mu.Lock()
	changed := m.state.Online != online
	m.state.Online = online
	if online {
		m.state.LastOnlineAt = now
	}
	st := m.state
	m.mu.Unlock()

	if !changed {
		return
	}
	m.log.Info("connectivity changed", Fields{"module": "monitor", "operation": "set", "online": online})
	m.hooks.ConnectivityChanged(online)
	m.subs.emit(st)
}

// Subscribe registers fn for online/offline transitions.
func (m *Monitor) Subscribe(fn func(ConnectivityState)) (unsubscribe func()) {
	return m.subs.add(fn)
}

// Close stops background loops. Safe to call more than once.
func (m *Monitor) Close() {
	m.closeOnce.Do(func() {
		close(m.stopCh)
		m.closeWg.Wait()
	})
}

func (m *Monitor) eventLoop(events <-chan bool) {
	defer m.closeWg.Done()
	for {
		select {
		case online, ok := <-events:
			if !ok {
				return
			}
			m.Set(online)
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) probeLoop(p Prober, every time.Duration) {
	defer m.closeWg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	m.probeOnce(p, every)
	for {
		select {
		case <-ticker.C:
			m.probeOnce(p, every)
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) probeOnce(p Prober, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan bool, 1)
	go func() { done <- p.Probe(ctx) }()
	select {
	case online := <-done:
		m.Set(online)
	case <-m.stopCh:
	}
}
