// Package notifier publishes gateway lifecycle events to Pub/Sub for
// dashboard and downstream consumers. Delivery is best-effort: publish
// failures are logged and never surfaced to the caller.
package notifier

import (
	"context"
	"encoding/json"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/prasit-dev/slipgate-backend/pkg/logger"
)

// Wire event names carried in both the payload and message attributes.
const (
	EventPaymentReceived = "payment.received"
	EventPaymentMatched  = "payment.matched"
	EventPaymentApproved = "payment.approved"
	EventPaymentRejected = "payment.rejected"
	EventOrderExpired    = "order.expired"
)

const publishTimeout = 15 * time.Second

type publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type gcpPublisher struct {
	pub *gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.pub == nil {
		return nil
	}
	return p.pub.Publish(ctx, msg)
}

// Notifier emits gateway events. The zero value and a nil-publisher
// notifier are both valid and silently drop every event.
type Notifier struct {
	pub  publisher
	logg *logger.Logger
}

// New wraps the events publisher. Passing a nil publisher yields a
// disabled notifier, which is how deployments without Pub/Sub run.
func New(pub *gcppubsub.Publisher, logg *logger.Logger) *Notifier {
	n := &Notifier{logg: logg}
	if pub != nil {
		n.pub = &gcpPublisher{pub: pub}
	}
	return n
}

func newWithPublisher(pub publisher, logg *logger.Logger) *Notifier {
	return &Notifier{pub: pub, logg: logg}
}

type envelope struct {
	Event      string     `json:"event"`
	OrderID    *uuid.UUID `json:"order_id,omitempty"`
	PaymentID  *uuid.UUID `json:"payment_id,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

func (n *Notifier) PaymentReceived(ctx context.Context, paymentID uuid.UUID) {
	n.emit(ctx, EventPaymentReceived, nil, &paymentID)
}

func (n *Notifier) PaymentMatched(ctx context.Context, orderID, paymentID uuid.UUID) {
	n.emit(ctx, EventPaymentMatched, &orderID, &paymentID)
}

func (n *Notifier) PaymentApproved(ctx context.Context, paymentID uuid.UUID) {
	n.emit(ctx, EventPaymentApproved, nil, &paymentID)
}

func (n *Notifier) PaymentRejected(ctx context.Context, paymentID uuid.UUID) {
	n.emit(ctx, EventPaymentRejected, nil, &paymentID)
}

func (n *Notifier) OrderExpired(ctx context.Context, orderID uuid.UUID) {
	n.emit(ctx, EventOrderExpired, &orderID, nil)
}

func (n *Notifier) emit(ctx context.Context, event string, orderID, paymentID *uuid.UUID) {
	if n == nil || n.pub == nil {
		return
	}

	payload, err := json.Marshal(envelope{
		Event:      event,
		OrderID:    orderID,
		PaymentID:  paymentID,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		return
	}

	attrs := map[string]string{"event": event}
	if orderID != nil {
		attrs["order_id"] = orderID.String()
	}
	if paymentID != nil {
		attrs["payment_id"] = paymentID.String()
	}

	// Publish enqueues into the client batcher; only the ack wait moves
	// off the caller's goroutine. The detached context keeps the publish
	// alive after the originating request ends.
	pubCtx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	result := n.pub.Publish(pubCtx, &gcppubsub.Message{Data: payload, Attributes: attrs})
	if result == nil {
		cancel()
		return
	}

	go func() {
		defer cancel()
		if _, err := result.Get(pubCtx); err != nil && n.logg != nil {
			logCtx := n.logg.WithField(ctx, "event", event)
			n.logg.Warn(logCtx, "gateway event publish failed: "+err.Error())
		}
	}()
}
