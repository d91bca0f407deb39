package webhooks

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/prasit-dev/slipgate-backend/api/responses"
	gatewaywebhook "github.com/prasit-dev/slipgate-backend/internal/webhooks/gateway"
	pkgerrors "github.com/prasit-dev/slipgate-backend/pkg/errors"
	"github.com/prasit-dev/slipgate-backend/pkg/logger"
)

type GatewayWebhookService interface {
	Handle(ctx context.Context, req gatewaywebhook.Request) (*gatewaywebhook.Outcome, error)
}

// Gateway handles signed payment-gateway events. Authentication, signature
// and replay checks happen inside the service against the stored source
// secrets; the handler only collects the raw material.
func Gateway(svc GatewayWebhookService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		req := gatewaywebhook.Request{
			APIKey:    strings.TrimSpace(r.Header.Get("X-Api-Key")),
			Timestamp: strings.TrimSpace(r.Header.Get("X-Timestamp")),
			Signature: strings.TrimSpace(r.Header.Get("X-Signature")),
			RequestID: strings.TrimSpace(r.Header.Get("X-Request-Id")),
			Body:      payload,
		}

		outcome, err := svc.Handle(ctx, req)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		// Replayed deliveries return the original outcome, so both fresh and
		// repeated events answer 200.
		switch {
		case outcome != nil && outcome.Connection != nil:
			responses.WriteSuccess(w, outcome.Connection)
		case outcome != nil && outcome.Payment != nil:
			responses.WriteSuccess(w, outcome.Payment)
		default:
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "empty webhook outcome"))
		}
	}
}
