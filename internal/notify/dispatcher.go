// Package notify posts redirect events to a link's webhook.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"github.com/axellelanca/shortlink/internal/config"
	"github.com/axellelanca/shortlink/internal/logger"
	"github.com/axellelanca/shortlink/internal/models"
)

// RequestMetadata is what the redirect request tells us about the visitor.
type RequestMetadata struct {
	UserAgent string
}

// Payload is the JSON body sent to the webhook.
type Payload struct {
	ShortKey  string `json:"short_key"`
	UserAgent string `json:"user_agent"`
}

// Dispatcher sends webhook notifications with bounded concurrency.
// When every slot is taken the notification is dropped, never queued.
type Dispatcher struct {
	slots   chan struct{}
	client  *http.Client
	timeout time.Duration
	log     *logrus.Entry

	inflight conc.WaitGroup
}

// NewDispatcher builds a dispatcher from configuration. A nil client gets a
// pooled client with the configured connect timeout.
func NewDispatcher(cfg config.NotifyConfig, client *http.Client) *Dispatcher {
	capacity := cfg.MaxConcurrent
	if capacity < 1 {
		capacity = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if client == nil {
		client = newHTTPClient(cfg.ConnectTimeout, capacity)
	}
	return &Dispatcher{
		slots:   make(chan struct{}, capacity),
		client:  client,
		timeout: timeout,
		log:     logger.For("notify"),
	}
}

func newHTTPClient(connectTimeout time.Duration, maxConns int) *http.Client {
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}).DialContext
	transport.MaxIdleConnsPerHost = maxConns
	return &http.Client{Transport: transport}
}

// WithLogger replaces the dispatcher's log entry.
func (d *Dispatcher) WithLogger(l *logrus.Entry) *Dispatcher {
	d.log = l
	return d
}

// tryAcquire takes a slot without waiting.
func (d *Dispatcher) tryAcquire() (func(), bool) {
	select {
	case d.slots <- struct{}{}:
		return func() { <-d.slots }, true
	default:
		return nil, false
	}
}

// Notify fires the link's webhook in the background and returns whether a
// call was started. Links without a webhook are skipped silently. The call
// is detached from any request: it is bounded only by the dispatcher timeout.
func (d *Dispatcher) Notify(link *models.LinkProjection, shortKey string, meta RequestMetadata) bool {
	endpoint := models.Value(link.WebhookURL)
	if endpoint == "" {
		return false
	}

	release, ok := d.tryAcquire()
	if !ok {
		d.log.WithFields(logrus.Fields{
			"short_key": shortKey,
			"capacity":  cap(d.slots),
		}).Warn("notification dropped: dispatcher at capacity")
		return false
	}

	payload := Payload{ShortKey: shortKey, UserAgent: meta.UserAgent}
	d.inflight.Go(func() {
		defer release()
		if err := d.send(endpoint, payload); err != nil {
			d.log.WithError(err).WithField("short_key", shortKey).Warn("notification failed")
		}
	})
	return true
}

func (d *Dispatcher) send(endpoint string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook responded %s", resp.Status)
	}
	return nil
}

// InFlight returns the number of slots currently held.
func (d *Dispatcher) InFlight() int {
	return len(d.slots)
}

// Wait blocks until every started notification has finished.
func (d *Dispatcher) Wait() {
	if r := d.inflight.WaitAndRecover(); r != nil {
		d.log.WithField("panic", r.Value).Error("notification panicked")
	}
}
