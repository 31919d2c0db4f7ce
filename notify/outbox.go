/*
Package notify delivers engine events to external sinks.

PURPOSE:
  The engine's ledger transactions must never block on, or roll back due
  to, a notification. The Outbox accepts events on a buffered channel and
  a background worker drains it into the configured sinks; a full buffer
  drops the event with a warning rather than blocking the caller.

SINKS:
  LogSink:   Structured logrus record per event (always available)
  EmailSink: SMTP delivery, see email.go

USAGE:
  outbox := notify.NewOutbox(notify.NewLogSink())
  outbox.Start()
  defer outbox.Stop()

  svc := engine.NewRequestService(store, outbox)
*/
package notify

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/warp/loyalty-engine/engine"
)

// Sink is one delivery target. Errors are the sink's own to report;
// the outbox only logs them.
type Sink interface {
	Deliver(event engine.Event) error
}

const defaultBuffer = 256

// Outbox implements engine.Notifier.
type Outbox struct {
	sinks  []Sink
	events chan engine.Event
	done   chan struct{}
	wg     sync.WaitGroup
}

var _ engine.Notifier = (*Outbox)(nil)

func NewOutbox(sinks ...Sink) *Outbox {
	return &Outbox{
		sinks:  sinks,
		events: make(chan engine.Event, defaultBuffer),
		done:   make(chan struct{}),
	}
}

// Start launches the dispatch worker.
func (o *Outbox) Start() {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		for {
			select {
			case ev := <-o.events:
				o.dispatch(ev)
			case <-o.done:
				// Drain whatever is already queued before exiting.
				for {
					select {
					case ev := <-o.events:
						o.dispatch(ev)
					default:
						return
					}
				}
			}
		}
	}()
}

// Stop flushes queued events and stops the worker.
func (o *Outbox) Stop() {
	close(o.done)
	o.wg.Wait()
}

// Notify enqueues an event. Never blocks; a full buffer drops the event.
func (o *Outbox) Notify(event engine.Event) {
	select {
	case o.events <- event:
	default:
		log.WithFields(log.Fields{
			"event_type": event.Type,
			"tenant_id":  event.TenantID,
		}).Warn("Notification buffer full, event dropped")
	}
}

func (o *Outbox) dispatch(event engine.Event) {
	for _, sink := range o.sinks {
		if err := sink.Deliver(event); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"event_type": event.Type,
				"tenant_id":  event.TenantID,
			}).Error("Notification delivery failed")
		}
	}
}

// =============================================================================
// LOG SINK
// =============================================================================

// LogSink writes every event as a structured log record.
type LogSink struct{}

func NewLogSink() *LogSink { return &LogSink{} }

func (*LogSink) Deliver(event engine.Event) error {
	log.WithFields(log.Fields{
		"event_type":  event.Type,
		"tenant_id":   event.TenantID,
		"subject":     event.Subject,
		"occurred_at": event.OccurredAt,
	}).Info("Notification delivered")
	return nil
}
