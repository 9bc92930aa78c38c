// Package keeper runs the vault's periodic jobs on a cron schedule:
// harvesting, hourly price sampling, rebalancing, snapshots and backing
// checks.
package keeper

import (
	"SynthVault/internal/math"
	"SynthVault/internal/observability"
	"SynthVault/internal/persistence"
	"SynthVault/internal/vault"
	"SynthVault/internal/vaulterr"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Schedule holds six-field cron specs (seconds first). An empty spec
// disables the job.
type Schedule struct {
	Harvest     string `yaml:"harvest"`
	RecordPrice string `yaml:"record_price"`
	Snapshot    string `yaml:"snapshot"`
	Backing     string `yaml:"backing"`
}

// DefaultSchedule harvests twice a day, samples the price on the hour,
// snapshots every five minutes and checks backing every minute.
var DefaultSchedule = Schedule{
	Harvest:     "0 5 */12 * * *",
	RecordPrice: "0 0 * * * *",
	Snapshot:    "0 */5 * * * *",
	Backing:     "30 * * * * *",
}

// Snapshotter persists engine snapshots.
type Snapshotter interface {
	Take(ctx context.Context, eng *vault.Engine) (*persistence.SnapshotRow, error)
}

// Keeper owns the cron and the job bodies.
type Keeper struct {
	cron      *cron.Cron
	engine    *vault.Engine
	snapshots Snapshotter
	actor     vault.Actor
	metrics   *observability.Metrics
	logger    zerolog.Logger
	timeout   time.Duration

	// share of pre-rebalance user value a keeper rebalance must keep
	minPostValueBps int64

	mu       sync.Mutex
	ctx      context.Context
	lastJobs map[string]JobResult
}

// JobResult is the outcome of the latest run of a job.
type JobResult struct {
	At     time.Time
	Result string
	Err    error
}

// Options configures a Keeper.
type Options struct {
	ActorID         string
	Timeout         time.Duration
	MinPostValueBps int64
}

func New(engine *vault.Engine, snapshots Snapshotter, opts Options, metrics *observability.Metrics, logger zerolog.Logger) *Keeper {
	if opts.ActorID == "" {
		opts.ActorID = "keeper"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MinPostValueBps <= 0 {
		opts.MinPostValueBps = 9_500
	}
	return &Keeper{
		cron:            cron.New(cron.WithSeconds()),
		engine:          engine,
		snapshots:       snapshots,
		actor:           vault.Actor{ID: opts.ActorID},
		metrics:         metrics,
		logger:          logger,
		timeout:         opts.Timeout,
		minPostValueBps: opts.MinPostValueBps,
		ctx:             context.Background(),
		lastJobs:        make(map[string]JobResult),
	}
}

// Register adds every job with a non-empty spec.
func (k *Keeper) Register(s Schedule) error {
	jobs := []struct {
		name string
		spec string
		fn   func(context.Context) error
	}{
		{"harvest", s.Harvest, k.Harvest},
		{"record_price", s.RecordPrice, k.RecordPrice},
		{"snapshot", s.Snapshot, k.Snapshot},
		{"backing", s.Backing, k.CheckBacking},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		name, fn := j.name, j.fn
		if _, err := k.cron.AddFunc(j.spec, func() { k.runJob(name, fn) }); err != nil {
			return fmt.Errorf("register %s job: %w", name, err)
		}
	}
	return nil
}

// Start starts the cron. Jobs derive their context from ctx.
func (k *Keeper) Start(ctx context.Context) {
	k.mu.Lock()
	k.ctx = ctx
	k.mu.Unlock()
	k.cron.Start()
	k.logger.Info().Int("jobs", len(k.cron.Entries())).Msg("keeper started")
}

// Stop stops the cron and waits for running jobs.
func (k *Keeper) Stop() {
	<-k.cron.Stop().Done()
	k.logger.Info().Msg("keeper stopped")
}

// Last returns the latest result of a job.
func (k *Keeper) Last(job string) (JobResult, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	r, ok := k.lastJobs[job]
	return r, ok
}

// errSkipped marks a job that had nothing to do.
var errSkipped = errors.New("skipped")

// skippable errors are expected outcomes on a schedule, not failures.
func skippable(err error) bool {
	for _, target := range []error{
		vaulterr.ErrHarvestTooSoon,
		vaulterr.ErrRebalanceNotNeeded,
		vaulterr.ErrMarketClosed,
		vaulterr.ErrPaused,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return errors.Is(err, errSkipped)
}

func (k *Keeper) runJob(name string, fn func(context.Context) error) {
	k.mu.Lock()
	parent := k.ctx
	k.mu.Unlock()
	ctx, cancel := context.WithTimeout(parent, k.timeout)
	defer cancel()

	err := fn(ctx)
	result := "ok"
	switch {
	case err == nil:
	case skippable(err):
		result = "skipped"
		k.logger.Debug().Str("job", name).Err(err).Msg("keeper job skipped")
	default:
		result = "error"
		k.logger.Error().Str("job", name).Err(err).Msg("keeper job failed")
	}
	if k.metrics != nil {
		k.metrics.KeeperRuns.WithLabelValues(name, result).Inc()
	}
	k.mu.Lock()
	k.lastJobs[name] = JobResult{At: time.Now(), Result: result, Err: err}
	k.mu.Unlock()
}

// Harvest collects lending yield.
func (k *Keeper) Harvest(ctx context.Context) error {
	res, err := k.engine.HarvestYield(ctx, k.actor)
	if err != nil {
		return err
	}
	k.logger.Info().
		Str("net", math.FormatScaled(res.Net, math.AmountConfig)).
		Str("donated", math.FormatScaled(res.Donated, math.AmountConfig)).
		Bool("deficit", res.Deficit).
		Int32("deficit_days", res.DeficitDays).
		Msg("harvested")
	return nil
}

// RecordPrice samples the oracle and, when that leaves the vault flagged
// for rebalancing, rebalances.
func (k *Keeper) RecordPrice(ctx context.Context) error {
	if _, err := k.engine.RecordPrice(ctx); err != nil {
		return err
	}
	if k.engine.State().Rebalance != vault.RebalanceNeeded {
		return nil
	}
	return k.Rebalance(ctx)
}

// Rebalance runs an unforced rebalance bounded by minPostValueBps of the
// user-backing value (lending principal plus hedge value) before it.
func (k *Keeper) Rebalance(ctx context.Context) error {
	report, err := k.engine.Backing(ctx)
	if err != nil {
		return err
	}
	before := k.engine.State().LendingPrincipal + report.HedgeValue
	minPost := math.BpsOf(before, k.minPostValueBps, math.RoundDown)
	res, err := k.engine.Rebalance(ctx, k.actor, minPost, false)
	if err != nil {
		return err
	}
	k.logger.Warn().
		Int64("health_before_bps", res.HealthBefore).
		Int64("health_after_bps", res.HealthAfter).
		Str("realized", math.FormatScaled(res.Realized, math.AmountConfig)).
		Msg("keeper rebalanced hedge")
	return nil
}

// Snapshot persists a snapshot when anything changed since the last one.
func (k *Keeper) Snapshot(ctx context.Context) error {
	if k.snapshots == nil {
		return errSkipped
	}
	row, err := k.snapshots.Take(ctx, k.engine)
	if err != nil {
		return err
	}
	if row == nil {
		return errSkipped
	}
	k.logger.Debug().Int64("sequence", row.Sequence).Msg("snapshot taken")
	return nil
}

// CheckBacking refreshes the backing gauge and warns when synth is not
// fully backed.
func (k *Keeper) CheckBacking(ctx context.Context) error {
	report, err := k.engine.Backing(ctx)
	if err != nil {
		return err
	}
	if k.metrics != nil {
		k.metrics.BackingRatioBps.Set(float64(report.RatioBps))
	}
	if !report.Covered() {
		k.logger.Warn().
			Int64("ratio_bps", report.RatioBps).
			Str("supply_value", math.FormatScaled(report.SupplyValue, math.AmountConfig)).
			Msg("synth under-backed")
	}
	return nil
}
