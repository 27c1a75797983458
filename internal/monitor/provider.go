// Package monitor tracks reachability of the durable store and the mesh.
package monitor

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// NetworkStatusProvider reports whether the durable store is reachable.
type NetworkStatusProvider interface {
	Online() bool
	// Subscribe registers fn for transitions. The returned func removes it.
	Subscribe(fn func(online bool)) (unsubscribe func())
}

type subscribers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(bool)
}

func (s *subscribers) add(fn func(bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func(bool))
	}
	id := s.next
	s.next++
	s.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.fns, id)
			s.mu.Unlock()
		})
	}
}

func (s *subscribers) notify(online bool) {
	s.mu.Lock()
	fns := make([]func(bool), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
}

// StaticProvider is toggled by hand.
type StaticProvider struct {
	mu     sync.RWMutex
	online bool
	subs   subscribers
}

func NewStaticProvider(online bool) *StaticProvider {
	return &StaticProvider{online: online}
}

func (p *StaticProvider) Online() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.online
}

func (p *StaticProvider) Subscribe(fn func(online bool)) func() {
	return p.subs.add(fn)
}

// Set changes the state and notifies subscribers if it changed.
func (p *StaticProvider) Set(online bool) {
	p.mu.Lock()
	changed := p.online != online
	p.online = online
	p.mu.Unlock()

	if changed {
		p.subs.notify(online)
	}
}

// CheckFunc returns nil while the store is reachable.
type CheckFunc func(ctx context.Context) error

// HTTPCheck probes url with GET and treats any 2xx as reachable.
func HTTPCheck(client *http.Client, url string) CheckFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("health check returned status %d", resp.StatusCode)
		}
		return nil
	}
}

// ProbeProvider polls a check on an interval and emits transitions. It
// starts optimistic: Online is true until a probe fails.
type ProbeProvider struct {
	check    CheckFunc
	interval time.Duration
	timeout  time.Duration
	logger   *logrus.Logger

	mu      sync.RWMutex
	online  bool
	running bool
	subs    subscribers
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewProbeProvider(check CheckFunc, interval, timeout time.Duration, logger *logrus.Logger) *ProbeProvider {
	return &ProbeProvider{
		check:    check,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		online:   true,
	}
}

// NewHTTPProbeProvider polls a store health URL.
func NewHTTPProbeProvider(url string, interval, timeout time.Duration, logger *logrus.Logger) *ProbeProvider {
	return NewProbeProvider(HTTPCheck(&http.Client{Timeout: timeout}, url), interval, timeout, logger)
}

func (p *ProbeProvider) Online() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.online
}

func (p *ProbeProvider) Subscribe(fn func(online bool)) func() {
	return p.subs.add(fn)
}

// Start runs one probe immediately and then polls until Stop or ctx ends.
func (p *ProbeProvider) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	p.Probe(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Probe(ctx)
			}
		}
	}()
}

func (p *ProbeProvider) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()
	p.wg.Wait()
}

// Probe runs the check once and records the result.
func (p *ProbeProvider) Probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.check(probeCtx)
	online := err == nil
	if err != nil && ctx.Err() != nil {
		// Shutting down, not a reachability change.
		return p.Online()
	}

	p.mu.Lock()
	changed := p.online != online
	p.online = online
	p.mu.Unlock()

	if changed {
		p.logger.WithFields(logrus.Fields{
			"online": online,
			"error":  err,
		}).Info("Store reachability changed")
		p.subs.notify(online)
	}
	return online
}
