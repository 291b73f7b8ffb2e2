package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"pulseboard/internal/models"
)

const (
	signatureHeader = "X-Pulseboard-Signature"
	topicHeader     = "X-Pulseboard-Topic"
	queueSize       = 256
)

// DeliverySettings tunes outbound webhook delivery. Reloadable at runtime.
type DeliverySettings struct {
	Timeout     time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
}

func (d DeliverySettings) normalized() DeliverySettings {
	if d.Timeout <= 0 {
		d.Timeout = 10 * time.Second
	}
	if d.MaxAttempts <= 0 {
		d.MaxAttempts = 3
	}
	if d.RetryDelay <= 0 {
		d.RetryDelay = 2 * time.Second
	}
	return d
}

// DeliveryObserver is notified after every finished delivery.
type DeliveryObserver func(models.DeliveryResult)

// Dispatcher consumes upstream events and posts them to matching active
// webhooks, retrying failed deliveries up to the configured attempt cap.
type Dispatcher struct {
	service  *Service
	client   *http.Client
	log      *zap.Logger
	observer DeliveryObserver

	mu       sync.RWMutex
	settings DeliverySettings

	queue  chan models.Event
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewDispatcher creates a dispatcher over the webhook service.
func NewDispatcher(service *Service, settings DeliverySettings, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Dispatcher{
		service:  service,
		client:   &http.Client{Transport: transport},
		log:      log,
		settings: settings.normalized(),
		queue:    make(chan models.Event, queueSize),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// OnDelivery registers an observer for delivery outcomes. Must be called
// before Start.
func (d *Dispatcher) OnDelivery(fn DeliveryObserver) {
	d.observer = fn
}

// Start launches the delivery loop in a goroutine.
func (d *Dispatcher) Start() {
	go d.run()
}

// Stop drains nothing: queued events not yet delivered are dropped.
func (d *Dispatcher) Stop() {
	select {
	case <-d.doneCh:
		return
	default:
	}
	close(d.stopCh)
	<-d.doneCh
}

// Enqueue is the event sink attached to the upstream link. A full queue
// drops the event rather than blocking the read loop.
func (d *Dispatcher) Enqueue(ev models.Event) {
	select {
	case d.queue <- ev:
	default:
		d.log.Warn("delivery queue full, event dropped", zap.String("topic", ev.Topic))
	}
}

// UpdateSettings swaps the delivery tuning, used by config hot reload.
func (d *Dispatcher) UpdateSettings(settings DeliverySettings) {
	d.mu.Lock()
	d.settings = settings.normalized()
	d.mu.Unlock()
	d.log.Info("delivery settings updated")
}

func (d *Dispatcher) currentSettings() DeliverySettings {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.settings
}

func (d *Dispatcher) run() {
	defer close(d.doneCh)

	for {
		select {
		case ev := <-d.queue:
			d.deliverAll(ev)
		case <-d.stopCh:
			return
		}
	}
}

func (d *Dispatcher) deliverAll(ev models.Event) {
	for _, hook := range d.service.List() {
		if !hook.Active || !hook.Matches(ev.Topic) {
			continue
		}
		result := d.deliver(hook, ev)
		d.service.RecordDelivery(result)
		if d.observer != nil {
			d.observer(result)
		}
		if !result.OK {
			d.log.Warn("webhook delivery failed",
				zap.String("webhook", hook.ID),
				zap.String("topic", ev.Topic),
				zap.Int("attempts", result.Attempts),
				zap.String("error", result.Error))
		}
	}
}

func (d *Dispatcher) deliver(hook models.Webhook, ev models.Event) models.DeliveryResult {
	settings := d.currentSettings()
	result := models.DeliveryResult{
		WebhookID:  hook.ID,
		EventTopic: ev.Topic,
	}

	body, err := json.Marshal(ev)
	if err != nil {
		result.Error = err.Error()
		result.DeliveredAt = time.Now().UTC()
		return result
	}

	for attempt := 1; attempt <= settings.MaxAttempts; attempt++ {
		result.Attempts = attempt
		status, err := d.post(hook, ev.Topic, body, settings.Timeout)
		if err == nil && status >= 200 && status < 300 {
			result.OK = true
			result.StatusCode = status
			result.Error = ""
			break
		}
		if err != nil {
			result.Error = err.Error()
		} else {
			result.StatusCode = status
			result.Error = http.StatusText(status)
		}
		if attempt < settings.MaxAttempts {
			select {
			case <-time.After(settings.RetryDelay):
			case <-d.stopCh:
				attempt = settings.MaxAttempts
			}
		}
	}

	result.DeliveredAt = time.Now().UTC()
	return result
}

func (d *Dispatcher) post(hook models.Webhook, topic string, body []byte, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(topicHeader, topic)
	if hook.Secret != "" {
		req.Header.Set(signatureHeader, "sha256="+sign(hook.Secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
