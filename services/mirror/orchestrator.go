// Package mirror copies NSE datasets into local CSV files and a shared
// spreadsheet, one dataset after the other.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"nsemirror/lib/scrapers/nse"
	"nsemirror/lib/scrapers/nse/session"
	"nsemirror/lib/spreadsheet"
	"nsemirror/lib/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

var tracer = telemetry.Tracer("nsemirror.services.mirror")
var meter = telemetry.Meter("nsemirror.services.mirror")
var datasetCounter, _ = meter.Int64Counter(
	"nsemirror.datasets",
	metric.WithDescription("datasets mirrored, by final state"),
)

type State string

const (
	StatePending    State = "PENDING"
	StateFetching   State = "FETCHING"
	StateFetched    State = "FETCHED"
	StateFailed     State = "FAILED"
	StateNormalized State = "NORMALIZED"
	StatePersisted  State = "PERSISTED"
	StateSynced     State = "SYNCED"
	StateSyncFailed State = "SYNC_FAILED"
)

// ErrNoSession is returned for sources that need a session when none
// could be acquired.
var ErrNoSession = errors.New("no session available")

type Outcome struct {
	Dataset string
	State   State
	// Source is the name of the source that yielded the records.
	Source string
	Rows   int
	File   string
	// Err holds every failure of the dataset, a persist error can be
	// present even when the final state is SYNCED.
	Err error
}

type Options struct {
	Descriptors []Descriptor
	Strategies  []session.Strategy
	Client      nse.ClientOptions
	Params      nse.FetchParams
	OutputDir   string
	// Sheet may be nil, datasets then stop at PERSISTED.
	Sheet spreadsheet.Sheet
}

type Orchestrator struct {
	opts Options
}

func NewOrchestrator(opts Options) *Orchestrator {
	return &Orchestrator{opts: opts}
}

// Run mirrors every dataset in order. A failing dataset never stops the
// ones after it.
func (o *Orchestrator) Run(ctx context.Context) Report {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()

	r := &run{opts: o.opts}
	report := Report{Started: time.Now()}
	for _, d := range o.opts.Descriptors {
		outcome := r.mirror(ctx, d)
		report.Outcomes = append(report.Outcomes, outcome)
		datasetCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("dataset", d.ID),
			attribute.String("state", string(outcome.State)),
		))
	}
	report.Session = r.sess.Source
	report.SessionErr = r.sessErr
	report.Finished = time.Now()

	span.SetAttributes(attribute.Int("synced", report.Count(StateSynced)))
	return report
}

// run holds the session state of a single Run.
type run struct {
	opts Options

	acquired   bool
	reacquired bool
	sess       session.Session
	sessErr    error
	client     *nse.Client
	anonymous  *nse.Client
}

func (r *run) mirror(ctx context.Context, d Descriptor) Outcome {
	ctx, span := tracer.Start(ctx, "mirror:"+d.ID)
	defer span.End()

	outcome := Outcome{Dataset: d.ID, State: StatePending}

	outcome.State = StateFetching
	raw, err := r.fetch(ctx, d)
	if err != nil {
		outcome.State = StateFailed
		outcome.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		slog.ErrorContext(ctx, "failed to fetch dataset", "dataset", d.ID, "err", err)
		return outcome
	}
	outcome.State = StateFetched
	outcome.Source = raw.Source

	t := raw.Normalize(d.Schema)
	outcome.State = StateNormalized
	outcome.Rows = t.Len()
	slog.InfoContext(ctx, "fetched dataset", "dataset", d.ID, "source", raw.Source, "rows", t.Len())

	path, err := Persist(t, r.opts.OutputDir, d.Filename)
	if err != nil {
		outcome.Err = fmt.Errorf("persist %s: %w", d.ID, err)
		span.RecordError(err)
		slog.ErrorContext(ctx, "failed to persist dataset", "dataset", d.ID, "err", err)
	} else {
		outcome.State = StatePersisted
		outcome.File = path
	}

	if r.opts.Sheet == nil {
		return outcome
	}
	err = spreadsheet.Sync(ctx, r.opts.Sheet, d.Tab, t)
	if err != nil {
		outcome.State = StateSyncFailed
		outcome.Err = errors.Join(outcome.Err, fmt.Errorf("sync %s: %w", d.ID, err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "sync failed")
		slog.ErrorContext(ctx, "failed to sync dataset", "dataset", d.ID, "tab", d.Tab, "err", err)
		return outcome
	}
	outcome.State = StateSynced
	slog.InfoContext(ctx, "synced dataset", "dataset", d.ID, "tab", d.Tab)
	return outcome
}

// fetch tries the sources of `d` in order and returns the first that
// yields records, or every source's error joined.
func (r *run) fetch(ctx context.Context, d Descriptor) (nse.Raw, error) {
	var errs []error
	for _, src := range d.Sources {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		client, err := r.clientFor(ctx, src)
		if err != nil {
			slog.WarnContext(ctx, "skipping source", "dataset", d.ID, "source", src.Name(), "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}

		raw, err := client.Fetch(ctx, src, r.opts.Params)
		if err == nil {
			return raw, nil
		}

		var fetchErr *nse.FetchError
		if errors.As(err, &fetchErr) && fetchErr.AuthLike() && !client.Session.Empty() && r.reacquire(ctx) {
			slog.InfoContext(ctx, "retrying source with a fresh session", "dataset", d.ID, "source", src.Name())
			raw, err = r.client.Fetch(ctx, src, r.opts.Params)
			if err == nil {
				return raw, nil
			}
		}

		slog.WarnContext(ctx, "source failed", "dataset", d.ID, "source", src.Name(), "err", err)
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nse.Raw{}, fmt.Errorf("dataset %s has no sources", d.ID)
	}
	return nse.Raw{}, errors.Join(errs...)
}

func (r *run) clientFor(ctx context.Context, src nse.Source) (*nse.Client, error) {
	r.ensureSession(ctx)
	if r.client != nil {
		return r.client, nil
	}
	if !src.Anonymous() {
		return nil, ErrNoSession
	}
	if r.anonymous == nil {
		client, err := nse.NewClient(session.Session{}, r.opts.Client)
		if err != nil {
			return nil, err
		}
		r.anonymous = client
	}
	return r.anonymous, nil
}

// ensureSession acquires the session the first time it is needed.
func (r *run) ensureSession(ctx context.Context) {
	if r.acquired {
		return
	}
	r.acquired = true

	sess, err := session.Acquire(ctx, r.opts.Strategies)
	if err != nil {
		r.sessErr = err
		slog.ErrorContext(ctx, "failed to acquire session, only public sources will be fetched", "err", err)
		return
	}
	r.useSession(sess)
}

func (r *run) useSession(sess session.Session) {
	client, err := nse.NewClient(sess, r.opts.Client)
	if err != nil {
		r.sessErr = err
		slog.Error("failed to build client for session", "source", sess.Source, "err", err)
		return
	}
	r.sess = sess
	r.client = client
}

// reacquire replaces a session the site stopped accepting. It only happens
// once per run.
func (r *run) reacquire(ctx context.Context) bool {
	if r.reacquired {
		return false
	}
	r.reacquired = true

	slog.WarnContext(ctx, "session rejected, acquiring a new one", "previous", r.sess.Source)
	sess, err := session.Acquire(ctx, r.opts.Strategies)
	if err != nil {
		slog.ErrorContext(ctx, "failed to acquire a new session", "err", err)
		return false
	}
	previous := r.client
	r.useSession(sess)
	return r.client != previous
}
