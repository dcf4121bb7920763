package webhooks

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/risecheckout/payments-backend/api/responses"
	"github.com/risecheckout/payments-backend/internal/gateways"
	"github.com/risecheckout/payments-backend/internal/lifecycle"
	"github.com/risecheckout/payments-backend/pkg/enums"
	pkgerrors "github.com/risecheckout/payments-backend/pkg/errors"
	"github.com/risecheckout/payments-backend/pkg/logger"
	"github.com/risecheckout/payments-backend/pkg/metrics"
)

// maxWebhookBody bounds what a gateway can post at us.
const maxWebhookBody = 1 << 20

const guardConsumer = "webhook"

type eventApplier interface {
	Apply(ctx context.Context, event gateways.Event, source enums.EventSource) (*lifecycle.Result, error)
}

type replayGuard interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventKey string) (bool, error)
	Delete(ctx context.Context, consumer string, eventKey string) error
}

// Gateway handles one provider's webhook deliveries: verify the signature,
// map the payload to a lifecycle event, apply it. Every acknowledged delivery
// returns 200 so the provider stops retrying; only transient failures are
// surfaced as errors.
func Gateway(adapter gateways.Adapter, applier eventApplier, guard replayGuard, webhookMetrics *metrics.WebhookMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		gatewayName := string(adapter.Gateway())
		start := time.Now()
		defer func() {
			webhookMetrics.ObserveDuration(gatewayName, time.Since(start))
		}()

		if applier == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "lifecycle service unavailable"))
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		if err := adapter.VerifyWebhook(r.Header, body); err != nil {
			webhookMetrics.IncResult(gatewayName, metrics.WebhookResultRejected)
			if logg != nil {
				logCtx := logg.WithFields(ctx, map[string]any{
					"gateway":     gatewayName,
					"remote_addr": r.RemoteAddr,
				})
				logg.Warn(logCtx, "webhook signature rejected")
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		event, err := adapter.MapEvent(ctx, r.Header, body)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
				webhookMetrics.IncResult(gatewayName, metrics.WebhookResultMalformed)
			} else {
				webhookMetrics.IncResult(gatewayName, metrics.WebhookResultFailed)
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		key := event.DedupeKey(enums.EventSourceWebhook)
		if guard != nil {
			seen, err := guard.CheckAndMarkProcessed(ctx, guardConsumer, key)
			if err != nil {
				// Fast path only; the processed_events table still dedupes.
				if logg != nil {
					logg.Warn(ctx, "idempotency guard unavailable, falling through to database")
				}
			} else if seen {
				webhookMetrics.IncResult(gatewayName, metrics.WebhookResultDuplicate)
				responses.WriteSuccess(w, nil)
				return
			}
		}

		result, err := applier.Apply(ctx, *event, enums.EventSourceWebhook)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				webhookMetrics.IncResult(gatewayName, metrics.WebhookResultUnmatched)
				if logg != nil {
					logCtx := logg.WithFields(ctx, map[string]any{
						"gateway":   gatewayName,
						"charge_id": event.ChargeID,
					})
					logg.Warn(logCtx, "webhook for unknown charge acknowledged")
				}
				responses.WriteSuccess(w, nil)
				return
			}
			if guard != nil {
				_ = guard.Delete(ctx, guardConsumer, key)
			}
			webhookMetrics.IncResult(gatewayName, metrics.WebhookResultFailed)
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if result.Duplicate {
			webhookMetrics.IncResult(gatewayName, metrics.WebhookResultDuplicate)
		} else {
			webhookMetrics.IncResult(gatewayName, metrics.WebhookResultAccepted)
			if logg != nil {
				logCtx := logg.WithFields(ctx, map[string]any{
					"gateway":        gatewayName,
					"charge_id":      event.ChargeID,
					"status_changed": result.StatusChanged,
				})
				logg.Info(logCtx, "webhook applied")
			}
		}
		responses.WriteSuccess(w, nil)
	}
}
