// File: internal/sync/engine.go
package sync

import (
	"context"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/soroscan/soroscan/internal/config"
	"github.com/soroscan/soroscan/internal/decoder"
	"github.com/soroscan/soroscan/internal/eventstore"
	"github.com/soroscan/soroscan/internal/fanout"
	"github.com/soroscan/soroscan/internal/metrics"
	"github.com/soroscan/soroscan/internal/models"
	"github.com/soroscan/soroscan/internal/rpc"
	"github.com/soroscan/soroscan/internal/storage"
	"github.com/soroscan/soroscan/internal/worker"
	"github.com/soroscan/soroscan/pkg/utils"
)

// liveCursorKey is the indexer_state key holding the live sync cursor:
// "now" (start at the chain head) or a ledger number.
const liveCursorKey = "live_cursor"

// EventSource is the ledger RPC surface the engine consumes.
// *rpc.Client satisfies it.
type EventSource interface {
	GetEvents(ctx context.Context, start uint32, end *uint32, contractIDs []string, limit int) ([]*rpc.RawEvent, uint32, error)
	GetLatestLedger(ctx context.Context) (uint32, error)
}

// Engine drives event ingestion: periodic live sync at the chain head and
// on-demand historical backfills in bounded ledger windows.
type Engine struct {
	storage storage.Storage
	source  EventSource
	store   *eventstore.Store
	fanout  *fanout.Fanout
	config  *config.SyncConfig
	pool    *worker.Pool
	logger  *logrus.Entry

	metricsManager *metrics.Manager
}

// NewEngine creates a sync engine
func NewEngine(st storage.Storage, source EventSource, store *eventstore.Store, fo *fanout.Fanout, cfg *config.SyncConfig, pool *worker.Pool, metricsManager *metrics.Manager) *Engine {
	return &Engine{
		storage:        st,
		source:         source,
		store:          store,
		fanout:         fo,
		config:         cfg,
		pool:           pool,
		logger:         utils.ComponentLogger("sync"),
		metricsManager: metricsManager,
	}
}

// Run ticks LiveSync until the context is cancelled
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	e.logger.WithField("interval", e.config.PollInterval.String()).Info("Live sync started")
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Live sync stopped")
			return
		case <-ticker.C:
			task := worker.Task{
				Name: "live_sync",
				Run: func(taskCtx context.Context) error {
					_, err := e.LiveSync(taskCtx)
					return err
				},
			}
			if e.pool == nil || !e.pool.Submit(task) {
				if err := task.Run(ctx); err != nil {
					e.logger.WithField("error", err.Error()).Warn("Live sync tick failed")
				}
			}
		}
	}
}

// LiveSync fetches events for all active contracts from the persisted
// cursor onward and ingests them. The cursor only advances after a
// successful fetch, so a total RPC failure leaves it untouched and the
// next tick retries the same range. Returns the number of created events.
func (e *Engine) LiveSync(ctx context.Context) (int, error) {
	contracts, err := e.activeContracts(ctx)
	if err != nil {
		return 0, err
	}
	if len(contracts) == 0 {
		return 0, nil
	}

	start, err := e.resolveCursor(ctx)
	if err != nil {
		return 0, err
	}

	contractIDs := make([]string, 0, len(contracts))
	byID := make(map[string]*models.TrackedContract, len(contracts))
	for _, contract := range contracts {
		contractIDs = append(contractIDs, contract.ContractID)
		byID[contract.ContractID] = contract
	}

	events, latestLedger, err := e.source.GetEvents(ctx, start, nil, contractIDs, e.config.EventLimit)
	if err != nil {
		e.logger.WithFields(logrus.Fields{
			"start_ledger": start,
			"error":        err.Error(),
		}).Error("Live sync fetch failed, cursor unchanged")
		return 0, err
	}
	e.recordLedgerFetch()

	created := e.ingest(ctx, byID, events)

	cursor := uint64(0)
	for _, event := range events {
		if uint64(event.Ledger) > cursor {
			cursor = uint64(event.Ledger)
		}
	}
	if uint64(latestLedger) > cursor {
		cursor = uint64(latestLedger)
	}
	// A server lagging behind the cursor (stale replica) has observed
	// nothing new; leave the cursor alone so the next tick retries the
	// same range.
	if cursor < uint64(start) {
		return created, nil
	}
	if err := e.storage.SetIndexerState(ctx, liveCursorKey, strconv.FormatUint(cursor, 10)); err != nil {
		return created, err
	}

	if created > 0 {
		e.logger.WithFields(logrus.Fields{
			"created": created,
			"cursor":  cursor,
		}).Info("Live sync ingested events")
	}
	return created, nil
}

// BackfillResult summarizes one backfill run
type BackfillResult struct {
	ContractID    string `json:"contract_id"`
	FromLedger    uint64 `json:"from_ledger"`
	ToLedger      uint64 `json:"to_ledger"`
	ResumedFrom   uint64 `json:"resumed_from"`
	Windows       int    `json:"windows"`
	EventsFetched int    `json:"events_fetched"`
	EventsCreated int    `json:"events_created"`
}

// Backfill ingests the inclusive ledger range [from, to] for one contract
// in fixed-size windows, persisting the contract's high-water mark after
// every window so an interrupted run resumes where it stopped. Ranges
// already covered by last_indexed_ledger are skipped. Transient fetch
// errors are retried with backoff before the run fails.
func (e *Engine) Backfill(ctx context.Context, contractID string, from, to uint64) (*BackfillResult, error) {
	if from == 0 || from > to {
		return nil, utils.NewAppError(utils.ErrCodeValidation,
			"Invalid backfill range",
			"from must be >= 1 and <= to")
	}

	contract, err := e.storage.GetContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if contract == nil {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Contract not tracked", contractID)
	}

	resume := from
	if contract.LastIndexedLedger != nil && *contract.LastIndexedLedger+1 > resume {
		resume = *contract.LastIndexedLedger + 1
	}

	result := &BackfillResult{
		ContractID:  contractID,
		FromLedger:  from,
		ToLedger:    to,
		ResumedFrom: resume,
	}
	if resume > to {
		e.logger.WithFields(logrus.Fields{
			"contract_id": utils.ShortContractID(contractID),
			"to":          to,
		}).Info("Backfill range already indexed")
		return result, nil
	}

	byID := map[string]*models.TrackedContract{contractID: contract}

	for windowStart := resume; windowStart <= to; windowStart += e.config.WindowSize {
		windowEnd := windowStart + e.config.WindowSize - 1
		if windowEnd > to {
			windowEnd = to
		}

		events, err := e.fetchWindow(ctx, contractID, windowStart, windowEnd)
		if err != nil {
			return result, err
		}
		e.recordLedgerFetch()
		result.Windows++
		result.EventsFetched += len(events)

		if len(events) == 0 {
			e.logger.WithFields(logrus.Fields{
				"contract_id":  utils.ShortContractID(contractID),
				"window_start": windowStart,
				"window_end":   windowEnd,
			}).Warn("Backfill window returned no events")
		} else {
			result.EventsCreated += e.ingest(ctx, byID, events)
		}

		if err := e.storage.AdvanceLastIndexedLedger(ctx, contractID, windowEnd); err != nil {
			return result, err
		}
		e.updateLedgerGauge(contractID, windowEnd)
	}

	e.logger.WithFields(logrus.Fields{
		"contract_id": utils.ShortContractID(contractID),
		"windows":     result.Windows,
		"fetched":     result.EventsFetched,
		"created":     result.EventsCreated,
	}).Info("Backfill completed")
	return result, nil
}

// fetchWindow fetches one ledger window with bounded retries
func (e *Engine) fetchWindow(ctx context.Context, contractID string, start, end uint64) ([]*rpc.RawEvent, error) {
	startLedger := uint32(start)
	endLedger := uint32(end)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.config.FetchBaseWait
	policy.MaxElapsedTime = 0

	retries := uint64(e.config.FetchRetries)
	if retries > 0 {
		retries--
	}

	var events []*rpc.RawEvent
	operation := func() error {
		fetched, _, err := e.source.GetEvents(ctx, startLedger, &endLedger, []string{contractID}, e.config.EventLimit)
		if err != nil {
			e.logger.WithFields(logrus.Fields{
				"window_start": start,
				"window_end":   end,
				"error":        err.Error(),
			}).Warn("Backfill window fetch failed, retrying")
			return err
		}
		events = fetched
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx)); err != nil {
		return nil, err
	}
	return events, nil
}

// ingest upserts a batch of raw events and fans out the created ones.
// Returns the number of created events.
func (e *Engine) ingest(ctx context.Context, contracts map[string]*models.TrackedContract, events []*rpc.RawEvent) int {
	created := 0
	positional := make(map[uint64]int)

	for _, raw := range events {
		contract, ok := contracts[raw.ContractID]
		if !ok {
			continue
		}

		eventType := decoder.EventTypeFromTopics(raw.Topic)
		if eventType == "" {
			eventType = raw.Type
		}

		candidate := &eventstore.Candidate{
			OpaqueID:   raw.ID,
			Ledger:     uint64(raw.Ledger),
			EventIndex: raw.EventIndex,
			EventType:  eventType,
			TxHash:     raw.TxHash,
			ValueXDR:   raw.ValueXDR,
			Timestamp:  raw.ClosedAt,
		}

		fallbackIndex := positional[candidate.Ledger]
		positional[candidate.Ledger]++

		event, isNew, err := e.store.Upsert(ctx, contract, candidate, fallbackIndex)
		if err != nil {
			e.logger.WithFields(logrus.Fields{
				"event_id": raw.ID,
				"error":    err.Error(),
			}).Error("Failed to upsert event")
			continue
		}

		if err := e.storage.AdvanceLastIndexedLedger(ctx, contract.ContractID, event.Ledger); err != nil {
			e.logger.WithField("error", err.Error()).Warn("Failed to advance last indexed ledger")
		} else {
			e.updateLedgerGauge(contract.ContractID, event.Ledger)
		}

		if isNew {
			created++
			if e.fanout != nil {
				e.fanout.OnEventCreated(ctx, event)
			}
		}
	}
	return created
}

// resolveCursor loads the live cursor, resolving "now" (or an unset value)
// to the server's latest ledger
func (e *Engine) resolveCursor(ctx context.Context) (uint32, error) {
	value, err := e.storage.GetIndexerState(ctx, liveCursorKey)
	if err != nil {
		return 0, err
	}
	if value == "" || value == "now" {
		latest, err := e.source.GetLatestLedger(ctx)
		if err != nil {
			return 0, err
		}
		return latest, nil
	}

	cursor, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeProcessing, "Corrupt live cursor", value)
	}
	// Resume one past the last observed ledger.
	return uint32(cursor) + 1, nil
}

func (e *Engine) activeContracts(ctx context.Context) ([]*models.TrackedContract, error) {
	active := true
	contracts, err := e.storage.GetContracts(ctx, &active)
	if err != nil {
		return nil, err
	}
	if e.metricsManager != nil {
		e.metricsManager.GetPrometheusMetrics().UpdateActiveContracts(len(contracts))
	}
	return contracts, nil
}

func (e *Engine) recordLedgerFetch() {
	if e.metricsManager != nil {
		e.metricsManager.GetPrometheusMetrics().RecordLedgerFetch()
	}
}

func (e *Engine) updateLedgerGauge(contractID string, ledger uint64) {
	if e.metricsManager != nil {
		e.metricsManager.GetPrometheusMetrics().UpdateLastIndexedLedger(contractID, ledger)
	}
}
