// File: internal/webhook/engine.go
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/soroscan/soroscan/internal/config"
	"github.com/soroscan/soroscan/internal/metrics"
	"github.com/soroscan/soroscan/internal/models"
	"github.com/soroscan/soroscan/internal/storage"
	"github.com/soroscan/soroscan/pkg/utils"
)

// Delivery outcome states
const (
	StateDelivered = "delivered"
	StateSuspended = "suspended"
	StateFailed    = "failed"
	StateSkipped   = "skipped"
)

// DeliveryResult reports the outcome of one delivery run
type DeliveryResult struct {
	State      string `json:"state"`
	Attempts   int    `json:"attempts"`
	StatusCode *int   `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Engine drives webhook deliveries: signed POSTs with bounded retries,
// per-attempt audit logging and automatic suspension of dead endpoints.
type Engine struct {
	storage storage.Storage
	config  *config.WebhookConfig
	client  *http.Client
	logger  *logrus.Entry

	metricsManager *metrics.Manager

	// Injectable for tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine creates a webhook delivery engine
func NewEngine(st storage.Storage, cfg *config.WebhookConfig, metricsManager *metrics.Manager) *Engine {
	return &Engine{
		storage: st,
		config:  cfg,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		logger:         utils.ComponentLogger("webhook"),
		metricsManager: metricsManager,
		now:            func() time.Time { return time.Now().UTC() },
		sleep:          sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Deliver pushes one event to one subscription. A missing, inactive or
// suspended subscription, or a missing event, skips without any network
// call or log row. Otherwise the engine attempts up to the configured
// maximum, writing exactly one delivery-log row per attempt; exhausting
// all attempts suspends the subscription.
func (e *Engine) Deliver(ctx context.Context, subscriptionID, eventID int64) (*DeliveryResult, error) {
	sub, err := e.storage.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil || !sub.Active || sub.Status != models.SubscriptionActive {
		return &DeliveryResult{State: StateSkipped}, nil
	}

	event, err := e.storage.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return &DeliveryResult{State: StateSkipped}, nil
	}

	body, err := json.Marshal(models.NewFanoutMessage(event).Map())
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeProcessing, "Failed to marshal webhook body", err.Error())
	}

	// One delivery id spans every attempt of this run so receivers can
	// deduplicate retries.
	deliveryID := uuid.NewString()

	result := &DeliveryResult{State: StateFailed}
	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		statusCode, attemptErr := e.attempt(ctx, sub, body, deliveryID)
		result.Attempts = attempt
		result.StatusCode = statusCode

		success := attemptErr == nil
		e.logAttempt(ctx, sub.ID, eventID, attempt, statusCode, success, attemptErr)

		if success {
			if err := e.storage.MarkSubscriptionSuccess(ctx, sub.ID, e.now()); err != nil {
				e.logger.WithField("subscription_id", sub.ID).
					WithField("error", err.Error()).Warn("Failed to record delivery success")
			}
			result.State = StateDelivered
			result.Error = ""
			e.recordDelivery("success")
			return result, nil
		}

		result.Error = attemptErr.Error()
		if err := e.storage.IncrementSubscriptionFailure(ctx, sub.ID); err != nil {
			e.logger.WithField("subscription_id", sub.ID).
				WithField("error", err.Error()).Warn("Failed to record delivery failure")
		}

		if attempt == e.config.MaxAttempts {
			break
		}
		if err := e.sleep(ctx, e.retryDelay(attempt, statusCode, attemptErr)); err != nil {
			e.recordDelivery("failed")
			return result, err
		}
	}

	// All attempts exhausted
	if err := e.storage.SuspendSubscription(ctx, sub.ID); err != nil {
		e.logger.WithField("subscription_id", sub.ID).
			WithField("error", err.Error()).Error("Failed to suspend subscription")
	} else {
		e.logger.WithFields(logrus.Fields{
			"subscription_id": sub.ID,
			"target_url":      sub.TargetURL,
		}).Warn("Subscription suspended after repeated delivery failures")
	}
	result.State = StateSuspended
	e.recordDelivery("suspended")
	return result, nil
}

// attemptError carries the HTTP status (when one was received) alongside
// the failure description so retry delays can honor Retry-After.
type attemptError struct {
	message    string
	retryAfter time.Duration
}

func (a *attemptError) Error() string { return a.message }

// attempt performs a single signed POST. Any 2xx response is success.
func (e *Engine) attempt(ctx context.Context, sub *models.WebhookSubscription, body []byte, deliveryID string) (*int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.TargetURL, bytes.NewReader(body))
	if err != nil {
		return nil, &attemptError{message: fmt.Sprintf("invalid target URL: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-SoroScan-Signature", utils.SignPayload(sub.Secret, body))
	req.Header.Set("X-SoroScan-Timestamp", e.now().Format(time.RFC3339))
	req.Header.Set("X-SoroScan-Delivery", deliveryID)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &attemptError{message: err.Error()}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	statusCode := resp.StatusCode
	if statusCode >= 200 && statusCode < 300 {
		return &statusCode, nil
	}

	attErr := &attemptError{message: fmt.Sprintf("target returned status %d", statusCode)}
	if statusCode == http.StatusTooManyRequests {
		if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && seconds > 0 {
			attErr.retryAfter = time.Duration(seconds) * time.Second
		}
	}
	return &statusCode, attErr
}

// retryDelay is exponential from the base delay, capped; a 429 with
// Retry-After overrides the computed delay.
func (e *Engine) retryDelay(attempt int, statusCode *int, err error) time.Duration {
	if attErr, ok := err.(*attemptError); ok && attErr.retryAfter > 0 {
		if attErr.retryAfter > e.config.MaxDelay {
			return e.config.MaxDelay
		}
		return attErr.retryAfter
	}

	delay := e.config.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= e.config.MaxDelay {
			return e.config.MaxDelay
		}
	}
	if delay > e.config.MaxDelay {
		return e.config.MaxDelay
	}
	return delay
}

func (e *Engine) logAttempt(ctx context.Context, subscriptionID, eventID int64, attempt int, statusCode *int, success bool, attemptErr error) {
	log := &models.WebhookDeliveryLog{
		SubscriptionID: subscriptionID,
		EventID:        &eventID,
		AttemptNumber:  attempt,
		StatusCode:     statusCode,
		Success:        success,
		Timestamp:      e.now(),
	}
	if attemptErr != nil {
		log.Error = attemptErr.Error()
	}
	if err := e.storage.SaveDeliveryLog(ctx, log); err != nil {
		e.logger.WithField("subscription_id", subscriptionID).
			WithField("error", err.Error()).Error("Failed to save delivery log")
	}
}

func (e *Engine) recordDelivery(status string) {
	if e.metricsManager != nil {
		e.metricsManager.GetPrometheusMetrics().RecordWebhookDelivery(status)
	}
}
