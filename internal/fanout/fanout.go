// File: internal/fanout/fanout.go
package fanout

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/soroscan/soroscan/internal/alert"
	"github.com/soroscan/soroscan/internal/models"
	"github.com/soroscan/soroscan/internal/publisher"
	"github.com/soroscan/soroscan/internal/storage"
	"github.com/soroscan/soroscan/internal/webhook"
	"github.com/soroscan/soroscan/internal/worker"
	"github.com/soroscan/soroscan/pkg/utils"
)

// Fanout reacts to newly created events: it schedules webhook deliveries
// for matching subscriptions, kicks off alert-rule evaluation and publishes
// the realtime message. It must only be invoked for created events, never
// for re-observed ones.
type Fanout struct {
	storage    storage.Storage
	engine     *webhook.Engine
	dispatcher *alert.Dispatcher
	publisher  *publisher.Publisher
	pool       *worker.Pool
	logger     *logrus.Entry
}

// New creates a fan-out coordinator. publisher may be nil.
func New(st storage.Storage, engine *webhook.Engine, dispatcher *alert.Dispatcher, pub *publisher.Publisher, pool *worker.Pool) *Fanout {
	return &Fanout{
		storage:    st,
		engine:     engine,
		dispatcher: dispatcher,
		publisher:  pub,
		pool:       pool,
		logger:     utils.ComponentLogger("fanout"),
	}
}

// OnEventCreated runs the full fan-out for one freshly created event
func (f *Fanout) OnEventCreated(ctx context.Context, event *models.ContractEvent) {
	f.publisher.Publish(ctx, models.NewFanoutMessage(event))
	f.scheduleDeliveries(ctx, event)
	f.scheduleAlerts(ctx, event)
}

func (f *Fanout) scheduleDeliveries(ctx context.Context, event *models.ContractEvent) {
	subs, err := f.storage.GetActiveSubscriptions(ctx, event.ContractID, event.EventType)
	if err != nil {
		f.logger.WithFields(logrus.Fields{
			"contract_id": utils.ShortContractID(event.ContractID),
			"error":       err.Error(),
		}).Error("Failed to resolve subscriptions")
		return
	}

	for _, sub := range subs {
		subscriptionID, eventID := sub.ID, event.ID
		f.run(ctx, worker.Task{
			Name: "webhook_delivery",
			Run: func(taskCtx context.Context) error {
				result, err := f.engine.Deliver(taskCtx, subscriptionID, eventID)
				if err != nil {
					return err
				}
				if result.State == webhook.StateSuspended {
					return fmt.Errorf("subscription %d suspended: %s", subscriptionID, result.Error)
				}
				return nil
			},
		})
	}
}

func (f *Fanout) scheduleAlerts(ctx context.Context, event *models.ContractEvent) {
	eventID := event.ID
	f.run(ctx, worker.Task{
		Name: "alert_evaluation",
		Run: func(taskCtx context.Context) error {
			matched, err := f.dispatcher.EvaluateRules(taskCtx, eventID)
			if err != nil {
				return err
			}
			if matched > 0 {
				f.logger.WithFields(logrus.Fields{
					"event_id": eventID,
					"matched":  matched,
				}).Debug("Alert rules matched")
			}
			return nil
		},
	})
}

// run submits to the pool, falling back to inline execution when the pool
// is unavailable or saturated
func (f *Fanout) run(ctx context.Context, task worker.Task) {
	if f.pool != nil && f.pool.Submit(task) {
		return
	}
	if err := task.Run(ctx); err != nil {
		f.logger.WithFields(logrus.Fields{
			"task":  task.Name,
			"error": err.Error(),
		}).Error("Fan-out task failed")
	}
}
