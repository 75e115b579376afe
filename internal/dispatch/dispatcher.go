package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fleetbot/internal/audit"
	"fleetbot/internal/auth"
	"fleetbot/internal/delivery"
	"fleetbot/internal/events"
	"fleetbot/internal/metrics"
	"fleetbot/internal/models"
	"fleetbot/internal/navigation"
	"fleetbot/internal/ssh"
	"fleetbot/internal/worker"
)

// Event is one inbound user action. Dest is where results go (the chat).
type Event struct {
	User  int64
	Dest  int64
	Token string
}

// Dispatcher runs gate → router → store, and hands executions to the pool.
// Handle never waits on the network.
type Dispatcher struct {
	Gate      *auth.Gate
	Router    *Router
	Store     *navigation.Store
	Pool      *worker.Pool
	Executor  ssh.Executor
	Deliverer *delivery.Deliverer
	Script    string

	// Optional.
	Audit   *audit.Log
	Events  events.Publisher
	Metrics *metrics.Metrics
	Logger  zerolog.Logger

	now   func() time.Time
	newID func() string
}

func (d *Dispatcher) clock() time.Time {
	if d.now != nil {
		return d.now()
	}
	return time.Now()
}

func (d *Dispatcher) id() string {
	if d.newID != nil {
		return d.newID()
	}
	return uuid.NewString()
}

// Handle processes one event and returns what the front end should show.
func (d *Dispatcher) Handle(ev Event) Effect {
	log := d.Logger.With().Int64("user", ev.User).Str("token", ev.Token).Logger()

	if err := d.Gate.Check(ev.User); err != nil {
		log.Warn().Msg("action denied by access gate")
		if aerr := d.Audit.Denied(ev.User, ev.Token); aerr != nil {
			log.Error().Err(aerr).Msg("audit write failed")
		}
		d.Metrics.Action("denied", metrics.Result(false))
		return Reject(err)
	}

	cur, _ := d.Store.Get(ev.User)
	eff := d.Router.Route(cur, ev.Token)
	switch eff.Kind {
	case EffectNoop:
		return eff
	case EffectReject:
		log.Info().Err(eff.Err).Str("state", cur.String()).Msg("action rejected")
		d.Metrics.Action(eff.Verb.String(), metrics.Result(false))
		return eff
	}

	if eff.Kind == EffectExecute {
		eff.Job.ID = d.id()
		eff.Job.User = ev.User
		eff.Job.Dest = ev.Dest
		eff.Job.Launched = d.clock()
		if err := d.launch(eff.Job); err != nil {
			log.Error().Err(err).Msg("execution not launched")
			d.Metrics.Action(eff.Verb.String(), metrics.Result(false))
			return Reject(err)
		}
	}

	d.Store.Put(ev.User, eff.State)
	d.Metrics.Action(eff.Verb.String(), metrics.Result(true))
	log.Debug().Str("from", cur.String()).Str("to", eff.State.String()).Str("effect", eff.Kind.String()).Msg("action routed")
	return eff
}

// Launch submits a prepared job directly, bypassing navigation. Used by the CLI.
func (d *Dispatcher) Launch(job models.Job) (models.Job, error) {
	if job.ID == "" {
		job.ID = d.id()
	}
	if job.Launched.IsZero() {
		job.Launched = d.clock()
	}
	return job, d.launch(job)
}

func (d *Dispatcher) launch(job models.Job) error {
	command := ssh.BuildCommand(d.Script, job)

	// Started is recorded before the task can finish.
	d.Metrics.ExecutionStarted()
	if err := d.Audit.JobStarted(job); err != nil {
		d.Logger.Error().Err(err).Str("job", job.ID).Msg("audit write failed")
	}
	err := d.Pool.Submit(job.ID, func(ctx context.Context) {
		outcome := d.Executor.Execute(ctx, job.Server, command)
		d.complete(ctx, job, outcome)
	})
	if err != nil {
		d.Metrics.ExecutionAborted()
		if aerr := d.Audit.JobFinished(job, models.Outcome{Output: "not launched: " + err.Error()}); aerr != nil {
			d.Logger.Error().Err(aerr).Str("job", job.ID).Msg("audit write failed")
		}
		return fmt.Errorf("submit %s: %w", job.ID, err)
	}
	d.Logger.Info().
		Str("job", job.ID).
		Int64("user", job.User).
		Str("server", job.Server.ID).
		Int("machine", job.Machine).
		Str("mode", string(job.Mode)).
		Msg("execution launched")
	return nil
}

// complete runs on the worker goroutine once the executor returned.
func (d *Dispatcher) complete(ctx context.Context, job models.Job, outcome models.Outcome) {
	log := d.Logger.With().Str("job", job.ID).Str("server", job.Server.ID).Logger()
	d.Metrics.ExecutionFinished(job.Server.ID, string(job.Mode), outcome.Succeeded, outcome.Duration)
	if err := d.Audit.JobFinished(job, outcome); err != nil {
		log.Error().Err(err).Msg("audit write failed")
	}
	if d.Events != nil {
		if err := d.Events.Publish(events.NewEvent(job, outcome, d.clock())); err != nil {
			log.Warn().Err(err).Msg("event publish failed")
		}
	}

	kind, err := d.Deliverer.Deliver(ctx, job.Dest, delivery.TitleFor(job), outcome)
	d.Metrics.Delivery(string(kind))
	if err != nil {
		log.Error().Err(err).Str("kind", string(kind)).Int64("dest", job.Dest).Msg("result delivery failed")
		return
	}
	log.Info().Bool("succeeded", outcome.Succeeded).Str("kind", string(kind)).Msg("result delivered")
}
