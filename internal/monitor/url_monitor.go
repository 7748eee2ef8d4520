// Package monitor periodically checks that the default fallback URL of each
// active link still answers.
package monitor

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/axellelanca/shortlink/internal/config"
	"github.com/axellelanca/shortlink/internal/logger"
	"github.com/axellelanca/shortlink/internal/models"
)

// LinkLister lists the links to check.
type LinkLister interface {
	ListActive(ctx context.Context) ([]models.Link, error)
}

// UrlMonitor checks fallback URLs on a cron schedule and logs every
// accessibility transition.
type UrlMonitor struct {
	links       LinkLister
	schedule    string
	timeout     time.Duration
	httpClient  *http.Client
	log         *logrus.Entry
	mu          sync.Mutex
	knownStates map[uint64]bool // link ID -> accessible on last check
	cron        *cron.Cron
	first       sync.WaitGroup
}

// NewUrlMonitor creates a monitor from configuration. It does nothing until Start.
func NewUrlMonitor(links LinkLister, cfg config.MonitorConfig) *UrlMonitor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &UrlMonitor{
		links:       links,
		schedule:    cfg.Schedule,
		timeout:     timeout,
		httpClient:  &http.Client{Timeout: timeout},
		log:         logger.For("monitor"),
		knownStates: make(map[uint64]bool),
	}
}

// Start runs a first check immediately, then schedules the next ones.
func (m *UrlMonitor) Start(ctx context.Context) error {
	m.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := m.cron.AddFunc(m.schedule, func() { m.CheckURLs(ctx) }); err != nil {
		return err
	}
	m.log.WithField("schedule", m.schedule).Info("starting fallback URL monitor")
	m.first.Add(1)
	go func() {
		defer m.first.Done()
		m.CheckURLs(ctx)
	}()
	m.cron.Start()
	return nil
}

// Stop unschedules the monitor and waits for running checks, the first one
// included, to finish.
func (m *UrlMonitor) Stop() {
	if m.cron == nil {
		return
	}
	<-m.cron.Stop().Done()
	m.first.Wait()
}

// CheckURLs checks every active link once.
func (m *UrlMonitor) CheckURLs(ctx context.Context) {
	links, err := m.links.ListActive(ctx)
	if err != nil {
		m.log.WithError(err).Error("failed to list links for monitoring")
		return
	}

	for _, link := range links {
		if ctx.Err() != nil {
			return
		}
		current := m.isURLAccessible(ctx, link.DefaultFallbackURL)

		m.mu.Lock()
		previous, seen := m.knownStates[link.ID]
		m.knownStates[link.ID] = current
		m.mu.Unlock()

		entry := m.log.WithFields(logrus.Fields{
			"link_id": link.ID,
			"url":     link.DefaultFallbackURL,
			"state":   formatState(current),
		})
		switch {
		case !seen:
			entry.Debug("initial fallback URL state")
		case previous != current:
			entry.WithField("previous", formatState(previous)).Warn("fallback URL state changed")
		}
	}
}

// State returns the last known accessibility of a link.
func (m *UrlMonitor) State(id uint64) (accessible, known bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	accessible, known = m.knownStates[id]
	return
}

// isURLAccessible sends a HEAD request; 2xx and 3xx count as accessible.
func (m *UrlMonitor) isURLAccessible(ctx context.Context, url string) bool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 400
}

func formatState(accessible bool) string {
	if accessible {
		return "ACCESSIBLE"
	}
	return "INACCESSIBLE"
}
