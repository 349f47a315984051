// File: internal/alert/dispatcher.go
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/soroscan/soroscan/internal/config"
	"github.com/soroscan/soroscan/internal/metrics"
	"github.com/soroscan/soroscan/internal/models"
	"github.com/soroscan/soroscan/internal/storage"
	"github.com/soroscan/soroscan/internal/worker"
	"github.com/soroscan/soroscan/pkg/utils"
)

// Scheduler is the async execution surface used for matched rules.
// *worker.Pool satisfies it; a nil scheduler makes sends synchronous.
type Scheduler interface {
	Submit(task worker.Task) bool
}

// Dispatcher evaluates alert rules against new events and executes
// matched-rule actions with bounded retries.
type Dispatcher struct {
	storage   storage.Storage
	config    *config.AlertConfig
	client    *http.Client
	logger    *logrus.Entry
	scheduler Scheduler

	metricsManager *metrics.Manager
}

// NewDispatcher creates an alert dispatcher
func NewDispatcher(st storage.Storage, cfg *config.AlertConfig, scheduler Scheduler, metricsManager *metrics.Manager) *Dispatcher {
	return &Dispatcher{
		storage: st,
		config:  cfg,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		logger:         utils.ComponentLogger("alert"),
		scheduler:      scheduler,
		metricsManager: metricsManager,
	}
}

// EvaluateRules checks every active rule of the event's contract against
// the event and dispatches one send per match. Rules are evaluated in
// stable id order, bounded per contract. Returns the number of matches.
func (d *Dispatcher) EvaluateRules(ctx context.Context, eventID int64) (int, error) {
	event, err := d.storage.GetEvent(ctx, eventID)
	if err != nil {
		return 0, err
	}
	if event == nil {
		return 0, nil
	}

	rules, err := d.storage.GetActiveAlertRules(ctx, event.ContractID, models.MaxRulesPerContract)
	if err != nil {
		return 0, err
	}

	data := flattenEventData(event)

	matched := 0
	for _, rule := range rules {
		if !EvaluateCondition(rule.Condition, data) {
			continue
		}
		matched++
		d.dispatch(ctx, rule.ID, eventID)
	}
	return matched, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, ruleID, eventID int64) {
	if d.scheduler != nil {
		submitted := d.scheduler.Submit(worker.Task{
			Name: "alert_send",
			Run: func(taskCtx context.Context) error {
				return d.Send(taskCtx, ruleID, eventID)
			},
		})
		if submitted {
			return
		}
	}
	if err := d.Send(ctx, ruleID, eventID); err != nil {
		d.logger.WithFields(logrus.Fields{
			"rule_id":  ruleID,
			"event_id": eventID,
			"error":    err.Error(),
		}).Error("Alert send failed")
	}
}

// flattenEventData builds the evaluation view of an event. The decoded
// payload is exposed under decodedPayload, falling back to the generic
// payload when decoding produced nothing.
func flattenEventData(event *models.ContractEvent) map[string]interface{} {
	payload := event.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}
	decoded := event.DecodedPayload
	if decoded == nil {
		decoded = payload
	}
	return map[string]interface{}{
		"event_type":     event.EventType,
		"ledger":         event.Ledger,
		"payload":        payload,
		"decodedPayload": decoded,
	}
}

// Send executes the action of one matched rule. Each attempt writes one
// alert_executions row; failures retry with exponential backoff up to the
// configured attempt budget. A vanished rule or event skips silently.
func (d *Dispatcher) Send(ctx context.Context, ruleID, eventID int64) error {
	rule, err := d.storage.GetAlertRule(ctx, ruleID)
	if err != nil {
		return err
	}
	if rule == nil || !rule.Active {
		return nil
	}

	event, err := d.storage.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if event == nil {
		return nil
	}

	payload := map[string]interface{}{
		"rule":       rule.Name,
		"contract":   event.ContractID,
		"event_type": event.EventType,
		"payload":    event.Payload,
		"ledger":     event.Ledger,
		"timestamp":  event.Timestamp.UTC().Format(time.RFC3339),
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.config.BaseDelay
	policy.MaxInterval = d.config.MaxDelay
	policy.MaxElapsedTime = 0

	attempts := uint64(d.config.MaxAttempts)
	if attempts > 0 {
		attempts--
	}

	operation := func() error {
		sendErr := d.sendAction(ctx, rule, payload)
		d.recordExecution(ctx, rule, event, sendErr)
		return sendErr
	}

	err = backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, attempts), ctx))
	if err != nil {
		d.logger.WithFields(logrus.Fields{
			"rule":     rule.Name,
			"action":   rule.ActionType,
			"event_id": eventID,
			"error":    err.Error(),
		}).Warn("Alert exhausted retries")
		return err
	}

	d.logger.WithFields(logrus.Fields{
		"rule":     rule.Name,
		"action":   rule.ActionType,
		"event_id": eventID,
	}).Info("Alert sent")
	return nil
}

func (d *Dispatcher) sendAction(ctx context.Context, rule *models.AlertRule, payload map[string]interface{}) error {
	switch rule.ActionType {
	case models.AlertActionChat:
		return d.sendChat(ctx, rule.ActionTarget, payload)
	case models.AlertActionEmail:
		return d.sendEmail(rule.ActionTarget, rule.Name, payload)
	case models.AlertActionWebhook:
		return d.sendWebhook(ctx, rule.ActionTarget, payload)
	default:
		// Unknown action can never succeed; stop retrying.
		return backoff.Permanent(utils.NewAppError(utils.ErrCodeValidation,
			"Unknown alert action type", rule.ActionType))
	}
}

func (d *Dispatcher) recordExecution(ctx context.Context, rule *models.AlertRule, event *models.ContractEvent, sendErr error) {
	exec := &models.AlertExecution{
		RuleID:  rule.ID,
		EventID: event.ID,
		Status:  models.AlertSent,
	}
	status := "success"
	if sendErr != nil {
		exec.Status = models.AlertFailed
		exec.Response = truncate(sendErr.Error(), 500)
		status = "error"
	} else {
		exec.Response = "ok"
	}

	if err := d.storage.SaveAlertExecution(ctx, exec); err != nil {
		d.logger.WithField("rule_id", rule.ID).
			WithField("error", err.Error()).Error("Failed to save alert execution")
	}
	if d.metricsManager != nil {
		d.metricsManager.GetPrometheusMetrics().RecordAlertSent(rule.ActionType, status)
	}
}

// sendChat posts a formatted text message to a chat webhook URL
func (d *Dispatcher) sendChat(ctx context.Context, target string, payload map[string]interface{}) error {
	detail, _ := json.MarshalIndent(payload["payload"], "", "  ")
	text := fmt.Sprintf("*SoroScan Alert: %v*\nContract: `%v`\nEvent: `%v` @ ledger %v\n```%s```",
		payload["rule"], payload["contract"], payload["event_type"], payload["ledger"],
		truncate(string(detail), 800))

	return d.postJSON(ctx, target, map[string]interface{}{"text": text})
}

// sendEmail delivers the alert over SMTP in plain text
func (d *Dispatcher) sendEmail(to, ruleName string, payload map[string]interface{}) error {
	if d.config.SMTPHost == "" {
		return backoff.Permanent(utils.NewAppError(utils.ErrCodeConfiguration,
			"SMTP host not configured", ""))
	}

	detail, _ := json.MarshalIndent(payload["payload"], "", "  ")

	var message strings.Builder
	message.WriteString(fmt.Sprintf("From: %s\r\n", d.config.EmailFrom))
	message.WriteString(fmt.Sprintf("To: %s\r\n", to))
	message.WriteString(fmt.Sprintf("Subject: [SoroScan] Alert: %s\r\n", ruleName))
	message.WriteString("MIME-Version: 1.0\r\n")
	message.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	message.WriteString("\r\n")
	message.WriteString(fmt.Sprintf("Alert rule '%s' was triggered.\r\n\r\n", ruleName))
	message.WriteString(fmt.Sprintf("Contract:   %v\r\n", payload["contract"]))
	message.WriteString(fmt.Sprintf("Event type: %v\r\n", payload["event_type"]))
	message.WriteString(fmt.Sprintf("Ledger:     %v\r\n", payload["ledger"]))
	message.WriteString(fmt.Sprintf("Timestamp:  %v\r\n\r\n", payload["timestamp"]))
	message.WriteString(fmt.Sprintf("Payload:\r\n%s\r\n", detail))

	addr := fmt.Sprintf("%s:%d", d.config.SMTPHost, d.config.SMTPPort)
	var auth smtp.Auth
	if d.config.SMTPUser != "" {
		auth = smtp.PlainAuth("", d.config.SMTPUser, d.config.SMTPPassword, d.config.SMTPHost)
	}
	if err := smtp.SendMail(addr, auth, d.config.EmailFrom, []string{to}, []byte(message.String())); err != nil {
		return utils.NewAppError(utils.ErrCodeExternal, "Failed to send alert email", err.Error())
	}
	return nil
}

// sendWebhook posts the raw alert payload to a webhook URL
func (d *Dispatcher) sendWebhook(ctx context.Context, target string, payload map[string]interface{}) error {
	return d.postJSON(ctx, target, payload)
}

func (d *Dispatcher) postJSON(ctx context.Context, target string, body map[string]interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return backoff.Permanent(utils.NewAppError(utils.ErrCodeProcessing,
			"Failed to marshal alert body", err.Error()))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return backoff.Permanent(utils.NewAppError(utils.ErrCodeValidation,
			"Invalid alert target URL", err.Error()))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeExternal, "Alert request failed", err.Error())
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return utils.NewAppError(utils.ErrCodeExternal,
			fmt.Sprintf("Alert target returned status %d", resp.StatusCode), "")
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
