package tangguh

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Connectivity reports whether the remote side is reachable and notifies
// subscribers on change. Implementations must deliver notifications only on
// actual transitions.
type Connectivity interface {
	Online() bool
	// Subscribe registers fn and returns a cancel function removing it.
	Subscribe(fn func(online bool)) (cancel func())
}

// subscribers is the shared fan-out used by the Connectivity implementations.
type subscribers struct {
	mu   sync.Mutex
	subs map[int]func(bool)
	next int
}

func (s *subscribers) add(fn func(bool)) func() {
	s.mu.Lock()
	if s.subs == nil {
		s.subs = make(map[int]func(bool))
	}
	id := s.next
	s.next++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *subscribers) notify(online bool) {
	s.mu.Lock()
	fns := make([]func(bool), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(online)
	}
}

// ManualConnectivity is driven explicitly by the application (or a test).
// It is the non-browser stand-in for platform online/offline events.
type ManualConnectivity struct {
	mu     sync.Mutex
	online bool
	subs   subscribers
}

// NewManualConnectivity creates a monitor in the given initial state.
func NewManualConnectivity(online bool) *ManualConnectivity {
	return &ManualConnectivity{online: online}
}

// Online implements Connectivity.
func (m *ManualConnectivity) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records a state change and notifies subscribers on transitions.
func (m *ManualConnectivity) SetOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()
	if changed {
		m.subs.notify(online)
	}
}

// Subscribe implements Connectivity.
func (m *ManualConnectivity) Subscribe(fn func(online bool)) func() {
	return m.subs.add(fn)
}

// ProbeConnectivity derives reachability from a periodic health probe: any
// received response counts as online, a transport error as offline.
type ProbeConnectivity struct {
	transport Transport
	url       string
	interval  time.Duration

	mu     sync.Mutex
	online bool
	stop   chan struct{}
	subs   subscribers
}

// NewProbeConnectivity creates a monitor probing url every interval. It
// starts optimistic (online) until the first probe says otherwise; call
// Start to begin probing.
func NewProbeConnectivity(transport Transport, url string, interval time.Duration) *ProbeConnectivity {
	if transport == nil {
		transport = NewHTTPTransport(nil)
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &ProbeConnectivity{
		transport: transport,
		url:       url,
		interval:  interval,
		online:    true,
	}
}

// Online implements Connectivity.
func (p *ProbeConnectivity) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

// Subscribe implements Connectivity.
func (p *ProbeConnectivity) Subscribe(fn func(online bool)) func() {
	return p.subs.add(fn)
}

// Start launches the probe loop. It is idempotent.
func (p *ProbeConnectivity) Start(ctx context.Context) {
	p.mu.Lock()
	if p.stop != nil {
		p.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	p.stop = stop
	p.mu.Unlock()

	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		p.probe(ctx)
		for {
			select {
			case <-ticker.C:
				p.probe(ctx)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the probe loop.
func (p *ProbeConnectivity) Stop() {
	p.mu.Lock()
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
	p.mu.Unlock()
}

func (p *ProbeConnectivity) probe(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()
	_, err := p.transport.Call(pctx, &Request{
		Method: http.MethodGet,
		URL:    p.url,
		Header: http.Header{},
	})
	p.setOnline(err == nil)
}

func (p *ProbeConnectivity) setOnline(online bool) {
	p.mu.Lock()
	changed := p.online != online
	p.online = online
	p.mu.Unlock()
	if changed {
		p.subs.notify(online)
	}
}
