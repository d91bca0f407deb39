// Package callbacks delivers fire-and-forget merchant notifications when
// an order settles. One POST per settlement, no retry queue; every attempt
// leaves an audit row in callback_deliveries.
package callbacks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prasit-dev/slipgate-backend/internal/orders"
	"github.com/prasit-dev/slipgate-backend/pkg/config"
	"github.com/prasit-dev/slipgate-backend/pkg/db/models"
	"github.com/prasit-dev/slipgate-backend/pkg/enums"
	"github.com/prasit-dev/slipgate-backend/pkg/logger"
	"github.com/prasit-dev/slipgate-backend/pkg/metrics"
)

// EventPaymentCompleted is the only event merchants currently receive.
const EventPaymentCompleted = "payment.completed"

const (
	defaultTimeout  = 10 * time.Second
	recordTimeout   = 5 * time.Second
	maxResponseRead = 4 << 10
)

type payload struct {
	Event     string                `json:"event"`
	Order     orders.OrderDTO       `json:"order"`
	Payment   orders.PaymentSummary `json:"payment"`
	Timestamp time.Time             `json:"timestamp"`
}

// Dispatcher posts settlement callbacks on detached goroutines so merchant
// endpoints can never stall or fail a match.
type Dispatcher struct {
	client    *http.Client
	repo      Repository
	logg      *logger.Logger
	gateway   *metrics.GatewayMetrics
	userAgent string
	timeout   time.Duration

	wg sync.WaitGroup
}

// NewDispatcher builds the callback dispatcher. The metrics holder may be
// nil.
func NewDispatcher(repo Repository, cfg config.CallbackConfig, logg *logger.Logger, gateway *metrics.GatewayMetrics) (*Dispatcher, error) {
	if repo == nil {
		return nil, fmt.Errorf("callback repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = "SlipGate-Callback/1.0"
	}
	return &Dispatcher{
		client:    &http.Client{Timeout: timeout},
		repo:      repo,
		logg:      logg,
		gateway:   gateway,
		userAgent: userAgent,
		timeout:   timeout,
	}, nil
}

// PaymentCompleted schedules one delivery for a settled order. Orders
// without a callback URL are skipped silently.
func (d *Dispatcher) PaymentCompleted(order models.PaymentOrder, payment models.SmsPayment) {
	if d == nil {
		return
	}
	if order.CallbackURL == nil || strings.TrimSpace(*order.CallbackURL) == "" {
		return
	}
	url := strings.TrimSpace(*order.CallbackURL)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliver(url, order, payment)
	}()
}

// Wait blocks until every scheduled delivery has finished. Used on
// shutdown so in-flight callbacks are not cut off mid-request.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

func (d *Dispatcher) deliver(url string, order models.PaymentOrder, payment models.SmsPayment) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	now := time.Now().UTC()
	delivery := &models.CallbackDelivery{
		ID:        uuid.New(),
		OrderID:   order.ID,
		PaymentID: payment.ID,
		URL:       url,
		Event:     EventPaymentCompleted,
		Status:    enums.CallbackStatusFailed,
	}

	body, err := json.Marshal(payload{
		Event:     EventPaymentCompleted,
		Order:     orders.NewOrderDTO(order, now),
		Payment:   orders.NewPaymentSummary(payment),
		Timestamp: now,
	})
	if err != nil {
		d.finish(delivery, err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		d.finish(delivery, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.userAgent)

	start := time.Now()
	resp, err := d.client.Do(req)
	delivery.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		d.finish(delivery, err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseRead))

	status := resp.StatusCode
	delivery.HTTPStatus = &status
	if status < 200 || status > 299 {
		d.finish(delivery, fmt.Errorf("unexpected status %s", resp.Status))
		return
	}

	delivery.Status = enums.CallbackStatusDelivered
	d.finish(delivery, nil)
}

// finish records the audit row, metrics, and failure logs for one attempt.
func (d *Dispatcher) finish(delivery *models.CallbackDelivery, cause error) {
	if cause != nil {
		msg := cause.Error()
		delivery.Error = &msg
	}

	d.gateway.ObserveCallback(string(delivery.Status), time.Duration(delivery.DurationMS)*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if delivery.Status == enums.CallbackStatusFailed {
		logCtx := d.logg.WithFields(ctx, map[string]any{
			"order_id":   delivery.OrderID.String(),
			"payment_id": delivery.PaymentID.String(),
			"url":        delivery.URL,
		})
		msg := "merchant callback failed"
		if cause != nil {
			msg += ": " + cause.Error()
		}
		d.logg.Warn(logCtx, msg)
	}

	if err := d.repo.Record(ctx, delivery); err != nil {
		d.logg.Error(ctx, "record callback delivery", err)
	}
}
