package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/roach88/cadence/internal/engine"
	"github.com/roach88/cadence/internal/store"
	"github.com/roach88/cadence/internal/task"
	"github.com/roach88/cadence/internal/testutil"
)

// Harness is the test execution engine.
// It runs scenarios against a real engine with a frozen clock and
// sequential instance ids.
type Harness struct {
	store   *store.Store
	engine  *engine.Engine
	clock   *testutil.FixedClock
	log     zerolog.Logger
	lastSeq int64
}

// Option configures a scenario run.
type Option func(*Harness)

// WithLogger routes engine and harness logs to l. Default: zerolog.Nop().
func WithLogger(l zerolog.Logger) Option {
	return func(h *Harness) {
		h.log = l
	}
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Create fresh in-memory database and engine
// 2. Save the seed entities
// 3. Execute flow steps with expect validation
// 4. Evaluate assertions
//
// A returned error means the scenario could not be executed at all; step
// and assertion mismatches are reported in Result.Errors.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	start, err := scenario.Start()
	if err != nil {
		return nil, err
	}
	clock := testutil.NewFixedClock(start)

	st, err := store.Open(":memory:", store.WithNow(clock.Now))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{store: st, clock: clock, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(h)
	}

	engineOpts := []engine.EngineOption{
		engine.WithClock(clock),
		engine.WithIDGenerator(testutil.NewSequentialIDs("inst")),
		engine.WithLogger(h.log),
	}
	if scenario.BatchSize > 0 {
		engineOpts = append(engineOpts, engine.WithBatchSize(scenario.BatchSize))
	}
	h.engine = engine.New(st, engineOpts...)

	ctx := context.Background()

	if err := h.executeSeed(ctx, scenario.Seed); err != nil {
		return nil, fmt.Errorf("failed to seed: %w", err)
	}

	result := NewResult()
	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	actx := &AssertionContext{
		Engine: h.engine,
		Ctx:    ctx,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

// executeSeed saves the seed entities in order without audit or
// materialization.
func (h *Harness) executeSeed(ctx context.Context, seed []SeedEntity) error {
	opts := engine.SaveOptions{Skip: []engine.Stage{engine.StageAudit, engine.StageMaterialize}}
	for i, s := range seed {
		ent, err := s.Entity()
		if err != nil {
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
		if _, err := h.engine.Save(ctx, ent, opts); err != nil {
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
	}
	h.log.Debug().Int("count", len(seed)).Msg("scenario seeded")
	return nil
}

// Entity builds the typed entity for a seed row.
func (s SeedEntity) Entity() (task.Entity, error) {
	kind, err := task.ParseKind(s.Kind)
	if err != nil {
		return nil, err
	}
	base := task.Base{
		ID:         task.ID(s.ID),
		ParentID:   task.ID(s.Parent),
		Name:       s.Name,
		Status:     task.Status(s.Status),
		Attributes: s.Attributes,
	}

	var due *time.Time
	if s.Due != "" {
		d, err := task.ParseDate(s.Due)
		if err != nil {
			return nil, err
		}
		due = &d
	}

	switch kind {
	case task.KindGroup:
		return &task.Group{Base: base}, nil
	case task.KindTemplate:
		tmpl := &task.Template{Base: base, DueDate: due}
		if s.Frequency != nil {
			freq, err := s.Frequency.Config()
			if err != nil {
				return nil, err
			}
			tmpl.Frequency = freq
		}
		return tmpl, nil
	default:
		inst := &task.Instance{Base: base}
		if due != nil {
			inst.DueDate = *due
		}
		inst.IsCollected = inst.Status == task.StatusCollected
		return inst, nil
	}
}

// Config converts the YAML frequency to a task.FrequencyConfig.
func (f FrequencySpec) Config() (task.FrequencyConfig, error) {
	cfg := task.FrequencyConfig{
		Type:     task.FrequencyType(f.Type),
		Interval: f.Interval,
	}
	for _, s := range f.CustomDays {
		d, err := task.ParseDate(s)
		if err != nil {
			return cfg, err
		}
		cfg.CustomDays = append(cfg.CustomDays, d)
	}
	return cfg, nil
}

// executeFlow runs all flow steps and validates expect clauses.
//
// Each step:
// 1. Calls the engine operation
// 2. Records the step, its case and result in the trace
// 3. Appends the audit entries the step wrote
// 4. Compares case and result with the expect clause
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) error {
	for i, step := range flow {
		out, stepErr := h.executeStep(ctx, step)
		outcome := CaseOf(stepErr)

		result.AddStepTrace(step, outcome, out)
		if err := h.collectAudit(ctx, result); err != nil {
			return fmt.Errorf("flow step %d: %w", i, err)
		}

		switch {
		case step.Expect == nil && stepErr != nil:
			result.AddError(fmt.Sprintf("flow[%d] %s %s: unexpected error: %v", i, step.Op, step.Target, stepErr))
		case step.Expect != nil:
			if step.Expect.Case != outcome {
				msg := fmt.Sprintf("flow[%d] %s %s: expected case %s, got %s", i, step.Op, step.Target, step.Expect.Case, outcome)
				if stepErr != nil {
					msg += fmt.Sprintf(" (%v)", stepErr)
				}
				result.AddError(msg)
			}
			for _, mismatch := range matchResult(out, step.Expect.Result) {
				result.AddError(fmt.Sprintf("flow[%d] %s %s: %s", i, step.Op, step.Target, mismatch))
			}
		}

		h.log.Debug().
			Int("step", i).
			Str("op", step.Op).
			Str("target", step.Target).
			Str("case", outcome).
			Msg("flow step completed")
	}
	return nil
}

// collectAudit appends audit entries written since the last call.
func (h *Harness) collectAudit(ctx context.Context, result *Result) error {
	entries, err := h.store.ReadLog(ctx, store.LogQuery{AfterSeq: h.lastSeq})
	if err != nil {
		return err
	}
	for _, e := range entries {
		result.AddAuditTrace(e)
		h.lastSeq = e.Seq
	}
	return nil
}

// executeStep runs one operation and summarizes its result. The summary is
// returned even when the operation fails part way.
func (h *Harness) executeStep(ctx context.Context, step FlowStep) (map[string]any, error) {
	target := task.ID(step.Target)

	switch step.Op {
	case OpMaterialize:
		res, err := h.engine.MaterializeTemplate(ctx, target, optionalDate(step.Until))
		return map[string]any{
			"outcome": string(res.Outcome),
			"created": len(res.Created),
			"skipped": res.Skipped,
		}, err

	case OpMaterializeAll:
		results, err := h.engine.MaterializeAll(ctx, optionalDate(step.Until))
		created, unbounded := 0, 0
		for _, res := range results {
			created += len(res.Created)
			if res.Outcome == engine.OutcomeMissingSafetyBound {
				unbounded++
			}
		}
		return map[string]any{
			"templates": len(results),
			"created":   created,
			"unbounded": unbounded,
		}, err

	case OpCascade:
		res, err := h.engine.CascadeStatus(ctx, target, mustStatus(step.To), task.Status(step.From))
		return cascadeSummary(res), err

	case OpUncascade:
		res, err := h.engine.UncascadeStatus(ctx, target, mustStatus(step.To))
		return cascadeSummary(res), err

	case OpSetStatus:
		return h.setStatus(ctx, target, mustStatus(step.To))

	case OpResetCascades:
		n, err := h.engine.ResetCascades(ctx, target)
		return map[string]any{"released": n}, err

	case OpDeleteGroup:
		res, err := h.engine.DeleteGroupCascade(ctx, target)
		return deleteSummary(res), err

	case OpDeleteTemplate:
		res, err := h.engine.DeleteTemplateCascade(ctx, target)
		return deleteSummary(res), err

	case OpArchive:
		selected, err := h.engine.ArchiveCompletedInstances(ctx, target)
		return map[string]any{"selected": len(selected)}, err

	case OpCloseOut:
		asOf := h.clock.Now()
		if d := optionalDate(step.AsOf); d != nil {
			asOf = *d
		}
		res, err := h.engine.CloseOut(ctx, asOf)
		return map[string]any{
			"templates": res.Templates,
			"archived":  res.Archived,
		}, err

	case OpAdvance:
		now := h.clock.Advance(time.Duration(step.Days) * 24 * time.Hour)
		return map[string]any{"now": task.DayKey(now)}, nil

	default:
		return nil, fmt.Errorf("unknown op %q", step.Op)
	}
}

// setStatus saves a template with a new status through the pipeline, so the
// cascade stage fires. Materialization is skipped.
func (h *Harness) setStatus(ctx context.Context, id task.ID, status task.Status) (map[string]any, error) {
	ent, err := h.engine.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ent.Common().Status = status

	res, err := h.engine.Save(ctx, ent, engine.SaveOptions{Skip: []engine.Stage{engine.StageMaterialize}})
	out := map[string]any{"cascaded": res.Cascade != nil}
	if res.Cascade != nil {
		out["skipped"] = res.Cascade.Skipped
		out["updated"] = len(res.Cascade.Updated)
	}
	return out, err
}

func cascadeSummary(res engine.CascadeResult) map[string]any {
	return map[string]any{
		"skipped": res.Skipped,
		"updated": len(res.Updated),
	}
}

func deleteSummary(res engine.DeleteResult) map[string]any {
	return map[string]any{
		"deleted": res.Count(),
		"planned": res.Planned,
	}
}

// CaseOf maps an operation error to its expect case: "ok" for nil, the
// runtime error code for engine errors and "error" for anything else.
func CaseOf(err error) string {
	if err == nil {
		return CaseOK
	}
	if engine.IsPartialFailure(err) {
		return string(engine.ErrCodePartialFailure)
	}
	var re *engine.RuntimeError
	if errors.As(err, &re) {
		return string(re.Code)
	}
	return "error"
}

// optionalDate parses a validated date, returning nil for "".
func optionalDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	d, err := task.ParseDate(s)
	if err != nil {
		return nil
	}
	return &d
}

// mustStatus parses a status already checked by validateStep.
func mustStatus(s string) task.Status {
	st, err := task.ParseStatus(s)
	if err != nil {
		return task.Status(s)
	}
	return st
}
