// File: internal/server/handlers.go
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/soroscan/soroscan/internal/decoder"
	"github.com/soroscan/soroscan/internal/models"
	"github.com/soroscan/soroscan/internal/schema"
	"github.com/soroscan/soroscan/internal/worker"
	"github.com/soroscan/soroscan/pkg/utils"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
	maxBodyBytes     = 1 << 20
)

// --- Events ---

func (s *HTTPServer) listEventsHandler(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r.URL.Query())
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid event filter", err)
		return
	}

	events, err := s.storage.GetEvents(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to query events", err)
		return
	}
	count, err := s.storage.GetEventCount(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to count events", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  count,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func (s *HTTPServer) getEventHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid event ID", err)
		return
	}
	event, err := s.storage.GetEvent(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to fetch event", err)
		return
	}
	if event == nil {
		s.writeError(w, http.StatusNotFound, "Event not found", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, event)
}

// --- Contracts ---

func (s *HTTPServer) listContractsHandler(w http.ResponseWriter, r *http.Request) {
	var active *bool
	if raw := r.URL.Query().Get("active"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid active filter", err)
			return
		}
		active = &parsed
	}

	contracts, err := s.storage.GetContracts(r.Context(), active)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to query contracts", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"contracts": contracts,
		"count":     len(contracts),
	})
}

func (s *HTTPServer) addContractHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContractID  string `json:"contract_id"`
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if !utils.IsValidContractID(req.ContractID) {
		s.writeError(w, http.StatusBadRequest, "Invalid contract ID", nil)
		return
	}

	existing, err := s.storage.GetContract(r.Context(), req.ContractID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to check contract", err)
		return
	}
	if existing != nil {
		s.writeError(w, http.StatusConflict, "Contract already tracked", nil)
		return
	}

	contract := &models.TrackedContract{
		ContractID:  req.ContractID,
		Name:        req.Name,
		Description: req.Description,
		Active:      true,
	}
	if err := s.storage.SaveContract(r.Context(), contract); err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to save contract", err)
		return
	}

	s.logger.WithField("contract_id", utils.ShortContractID(contract.ContractID)).Info("Contract registered")
	s.writeJSON(w, http.StatusCreated, contract)
}

func (s *HTTPServer) getContractHandler(w http.ResponseWriter, r *http.Request) {
	contract, err := s.storage.GetContract(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to fetch contract", err)
		return
	}
	if contract == nil {
		s.writeError(w, http.StatusNotFound, "Contract not found", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, contract)
}

func (s *HTTPServer) listContractEventsHandler(w http.ResponseWriter, r *http.Request) {
	contractID := mux.Vars(r)["id"]
	filter, err := parseEventFilter(r.URL.Query())
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid event filter", err)
		return
	}
	filter.ContractID = &contractID

	events, err := s.storage.GetEvents(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to query events", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"contract_id": contractID,
		"events":      events,
		"count":       len(events),
	})
}

func (s *HTTPServer) uploadABIHandler(w http.ResponseWriter, r *http.Request) {
	contractID := mux.Vars(r)["id"]
	contract, err := s.storage.GetContract(r.Context(), contractID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to fetch contract", err)
		return
	}
	if contract == nil {
		s.writeError(w, http.StatusNotFound, "Contract not found", nil)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Failed to read request body", err)
		return
	}
	if err := decoder.ValidateABI(body); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, "ABI rejected", err)
		return
	}
	events, err := decoder.ParseABI(body)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, "ABI rejected", err)
		return
	}

	abi := &models.ContractABI{
		ContractID: contractID,
		Events:     events,
	}
	if err := s.storage.SaveContractABI(r.Context(), abi); err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to save ABI", err)
		return
	}

	s.logger.WithFields(logrus.Fields{
		"contract_id": utils.ShortContractID(contractID),
		"events":      len(events),
	}).Info("Contract ABI uploaded")
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"contract_id": contractID,
		"events":      len(events),
	})
}

func (s *HTTPServer) addSchemaHandler(w http.ResponseWriter, r *http.Request) {
	contractID := mux.Vars(r)["id"]
	var req struct {
		EventType  string                 `json:"event_type"`
		Version    int                    `json:"version"`
		JSONSchema map[string]interface{} `json:"json_schema"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.EventType == "" || req.JSONSchema == nil {
		s.writeError(w, http.StatusBadRequest, "event_type and json_schema are required", nil)
		return
	}
	if err := schema.CheckSchema(req.JSONSchema); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, "Schema does not compile", err)
		return
	}

	contract, err := s.storage.GetContract(r.Context(), contractID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to fetch contract", err)
		return
	}
	if contract == nil {
		s.writeError(w, http.StatusNotFound, "Contract not found", nil)
		return
	}

	version := req.Version
	if version <= 0 {
		latest, err := s.storage.GetLatestEventSchema(r.Context(), contractID, req.EventType)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "Failed to resolve schema version", err)
			return
		}
		version = 1
		if latest != nil {
			version = latest.Version + 1
		}
	}

	eventSchema := &models.EventSchema{
		ContractID: contractID,
		EventType:  req.EventType,
		Version:    version,
		JSONSchema: req.JSONSchema,
	}
	if err := s.storage.SaveEventSchema(r.Context(), eventSchema); err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to save schema", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, eventSchema)
}

func (s *HTTPServer) backfillHandler(w http.ResponseWriter, r *http.Request) {
	contractID := mux.Vars(r)["id"]
	var req struct {
		FromLedger uint64 `json:"from_ledger"`
		ToLedger   uint64 `json:"to_ledger"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.FromLedger == 0 || req.FromLedger > req.ToLedger {
		s.writeError(w, http.StatusBadRequest, "Invalid backfill range", nil)
		return
	}

	contract, err := s.storage.GetContract(r.Context(), contractID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to fetch contract", err)
		return
	}
	if contract == nil {
		s.writeError(w, http.StatusNotFound, "Contract not found", nil)
		return
	}

	task := worker.Task{
		Name: "backfill",
		Run: func(ctx context.Context) error {
			_, err := s.syncEngine.Backfill(ctx, contractID, req.FromLedger, req.ToLedger)
			return err
		},
	}
	if s.pool == nil || !s.pool.Submit(task) {
		s.writeError(w, http.StatusServiceUnavailable, "Backfill queue is full", nil)
		return
	}

	s.logger.WithFields(logrus.Fields{
		"contract_id": utils.ShortContractID(contractID),
		"from_ledger": req.FromLedger,
		"to_ledger":   req.ToLedger,
	}).Info("Backfill scheduled")
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"contract_id": contractID,
		"from_ledger": req.FromLedger,
		"to_ledger":   req.ToLedger,
		"status":      "scheduled",
	})
}

// --- Webhook subscriptions ---

func (s *HTTPServer) listSubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	var contractID *string
	if raw := r.URL.Query().Get("contract_id"); raw != "" {
		contractID = &raw
	}
	subs, err := s.storage.GetSubscriptions(r.Context(), contractID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to query subscriptions", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"subscriptions": subs,
		"count":         len(subs),
	})
}

func (s *HTTPServer) addSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContractID string `json:"contract_id"`
		EventType  string `json:"event_type"`
		TargetURL  string `json:"target_url"`
		Secret     string `json:"secret"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if _, err := url.ParseRequestURI(req.TargetURL); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid target URL", err)
		return
	}

	contract, err := s.storage.GetContract(r.Context(), req.ContractID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to fetch contract", err)
		return
	}
	if contract == nil {
		s.writeError(w, http.StatusNotFound, "Contract not found", nil)
		return
	}

	secret := req.Secret
	if secret == "" {
		secret, err = utils.GenerateSecret()
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "Failed to generate secret", err)
			return
		}
	}

	sub := &models.WebhookSubscription{
		ContractID: req.ContractID,
		EventType:  req.EventType,
		TargetURL:  req.TargetURL,
		Secret:     secret,
		Active:     true,
		Status:     models.SubscriptionActive,
	}
	if err := s.storage.SaveSubscription(r.Context(), sub); err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to save subscription", err)
		return
	}

	// The secret is returned exactly once, at creation. It is excluded from
	// every other serialization of the subscription.
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"subscription": sub,
		"secret":       secret,
	})
}

func (s *HTTPServer) listDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid subscription ID", err)
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}

	logs, err := s.storage.GetDeliveryLogs(r.Context(), id, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to query delivery logs", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"subscription_id": id,
		"deliveries":      logs,
		"count":           len(logs),
	})
}

func (s *HTTPServer) reactivateSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid subscription ID", err)
		return
	}
	sub, err := s.storage.GetSubscription(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to fetch subscription", err)
		return
	}
	if sub == nil {
		s.writeError(w, http.StatusNotFound, "Subscription not found", nil)
		return
	}

	if err := s.storage.ReactivateSubscription(r.Context(), id); err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to reactivate subscription", err)
		return
	}
	sub, err = s.storage.GetSubscription(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to fetch subscription", err)
		return
	}

	s.logger.WithField("subscription_id", id).Info("Subscription reactivated")
	s.writeJSON(w, http.StatusOK, sub)
}

// --- Alert rules ---

func (s *HTTPServer) listAlertRulesHandler(w http.ResponseWriter, r *http.Request) {
	contractID := r.URL.Query().Get("contract_id")
	if contractID == "" {
		s.writeError(w, http.StatusBadRequest, "contract_id is required", nil)
		return
	}
	rules, err := s.storage.GetActiveAlertRules(r.Context(), contractID, models.MaxRulesPerContract)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to query alert rules", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"contract_id": contractID,
		"rules":       rules,
		"count":       len(rules),
	})
}

func (s *HTTPServer) addAlertRuleHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContractID   string           `json:"contract_id"`
		Name         string           `json:"name"`
		Condition    models.Condition `json:"condition"`
		ActionType   string           `json:"action_type"`
		ActionTarget string           `json:"action_target"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	switch req.ActionType {
	case models.AlertActionChat, models.AlertActionEmail, models.AlertActionWebhook:
	default:
		s.writeError(w, http.StatusBadRequest, "Unknown action type", nil)
		return
	}
	if req.Name == "" || req.ActionTarget == "" {
		s.writeError(w, http.StatusBadRequest, "name and action_target are required", nil)
		return
	}

	contract, err := s.storage.GetContract(r.Context(), req.ContractID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to fetch contract", err)
		return
	}
	if contract == nil {
		s.writeError(w, http.StatusNotFound, "Contract not found", nil)
		return
	}

	count, err := s.storage.CountAlertRules(r.Context(), req.ContractID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to count alert rules", err)
		return
	}
	if count >= models.MaxRulesPerContract {
		s.writeError(w, http.StatusUnprocessableEntity, "Alert rule limit reached for contract", nil)
		return
	}

	rule := &models.AlertRule{
		ContractID:   req.ContractID,
		Name:         req.Name,
		Condition:    req.Condition,
		ActionType:   req.ActionType,
		ActionTarget: req.ActionTarget,
		Active:       true,
	}
	if err := s.storage.SaveAlertRule(r.Context(), rule); err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to save alert rule", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, rule)
}

func (s *HTTPServer) listAlertExecutionsHandler(w http.ResponseWriter, r *http.Request) {
	ruleID, err := strconv.ParseInt(r.URL.Query().Get("rule_id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid rule_id", err)
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}

	executions, err := s.storage.GetAlertExecutions(r.Context(), ruleID, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to query alert executions", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"rule_id":    ruleID,
		"executions": executions,
		"count":      len(executions),
	})
}

// --- Stats ---

func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.storage.GetStorageStats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to gather stats", err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// --- Helpers ---

func decodeJSONBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	return dec.Decode(dst)
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultPageLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return limit, nil
}

func parseEventFilter(query url.Values) (models.EventFilter, error) {
	var filter models.EventFilter

	if raw := query.Get("contract_id"); raw != "" {
		filter.ContractID = &raw
	}
	if raw := query.Get("event_type"); raw != "" {
		filter.EventType = &raw
	}
	if raw := query.Get("from_ledger"); raw != "" {
		from, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return filter, err
		}
		filter.FromLedger = &from
	}
	if raw := query.Get("to_ledger"); raw != "" {
		to, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return filter, err
		}
		filter.ToLedger = &to
	}

	limit, err := parseLimit(query.Get("limit"))
	if err != nil {
		return filter, err
	}
	filter.Limit = limit

	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			return filter, err
		}
		if offset > 0 {
			filter.Offset = offset
		}
	}
	return filter, nil
}
