// Package connectivity tracks whether the upstream network is
// reachable and whether the link is metered. The cache coordinator
// consults it before spending bandwidth on background refreshes.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"eventwish-sync/internal/stream"
)

// Status is a point-in-time view of the network.
type Status struct {
	Online  bool
	Metered bool
}

// Monitor publishes connectivity transitions. Status can be driven by
// the probe loop or set directly by the host.
type Monitor struct {
	mu      sync.RWMutex
	status  Status
	subject *stream.Subject[Status]
	logger  *zap.Logger

	probeURL   string
	httpClient *http.Client
}

// NewMonitor creates a monitor that starts in the online, unmetered
// state. probeURL may be empty when the host drives status itself.
func NewMonitor(probeURL string, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	initial := Status{Online: true}
	return &Monitor{
		status:     initial,
		subject:    stream.NewSubjectOf(initial),
		logger:     logger,
		probeURL:   probeURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Status returns the current connectivity state.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Online reports whether the network is reachable.
func (m *Monitor) Online() bool {
	return m.Status().Online
}

// Metered reports whether the link is metered. Background refreshes
// are skipped on metered links.
func (m *Monitor) Metered() bool {
	return m.Status().Metered
}

// SetStatus overrides the current state and notifies subscribers on
// change.
func (m *Monitor) SetStatus(status Status) {
	m.mu.Lock()
	changed := m.status != status
	m.status = status
	m.mu.Unlock()

	if changed {
		m.logger.Info("connectivity changed",
			zap.Bool("online", status.Online),
			zap.Bool("metered", status.Metered))
		m.subject.Publish(status)
	}
}

// Subscribe returns a channel that replays the current status and
// then receives every transition, until ctx is done.
func (m *Monitor) Subscribe(ctx context.Context) <-chan Status {
	return m.subject.Subscribe(ctx)
}

// CacheControlHint computes the Cache-Control request directive for
// the current link. Metered links accept older cached responses to
// save bandwidth; offline requests only make sense against a cache.
func (m *Monitor) CacheControlHint() string {
	status := m.Status()
	switch {
	case !status.Online:
		return "public, only-if-cached, max-stale=86400"
	case status.Metered:
		return "public, max-age=600"
	default:
		return "public, max-age=60"
	}
}

// AwaitOnline blocks until the monitor reports online or ctx is done.
func (m *Monitor) AwaitOnline(ctx context.Context) error {
	_, err := stream.Await(ctx, m.subject, func(s Status) bool {
		return s.Online
	})
	return err
}

// StartProbing launches a loop that checks reachability of the probe
// URL every interval, until ctx is done. No-op without a probe URL.
func (m *Monitor) StartProbing(ctx context.Context, interval time.Duration) {
	if m.probeURL == "" {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				online := m.probe(ctx)
				current := m.Status()
				m.SetStatus(Status{Online: online, Metered: current.Metered})
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *Monitor) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}
