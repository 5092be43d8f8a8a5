// Package dispatch runs agents against citizen requests, one at a time or
// in batches. Batch runs are bulkheaded: one failing request never affects
// the others, and the report tallies every input exactly once.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"civicline/internal/agent"
	"civicline/internal/audit"
	"civicline/internal/domain"
	"civicline/internal/engine"
)

const defaultWorkers = 4

// Dispatcher coordinates agent runs. Writes to the same request are
// serialized through a per-request lock; distinct requests proceed in
// parallel up to Workers.
type Dispatcher struct {
	Engine      engine.Engine
	Runtime     agent.Runtime
	Workers     int
	CallTimeout time.Duration
	Now         func() time.Time

	mu    sync.Mutex
	locks map[string]*requestLock
}

// requestLock serializes writes for one request id. refs counts in-flight
// holders so the entry can be dropped once nobody needs it.
type requestLock struct {
	mu   sync.Mutex
	refs int
}

func New(e engine.Engine, rt agent.Runtime) *Dispatcher {
	return &Dispatcher{
		Engine:  e,
		Runtime: rt,
		Workers: defaultWorkers,
		Now:     time.Now,
	}
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// acquire takes the per-request lock, creating the map entry on demand.
func (d *Dispatcher) acquire(requestID string) *requestLock {
	d.mu.Lock()
	if d.locks == nil {
		d.locks = make(map[string]*requestLock)
	}
	l, ok := d.locks[requestID]
	if !ok {
		l = &requestLock{}
		d.locks[requestID] = l
	}
	l.refs++
	d.mu.Unlock()
	l.mu.Lock()
	return l
}

// release unlocks and evicts the entry once the last holder is gone.
func (d *Dispatcher) release(requestID string, l *requestLock) {
	l.mu.Unlock()
	d.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(d.locks, requestID)
	}
	d.mu.Unlock()
}

// Options control a processing run.
type Options struct {
	AutoClassify   bool
	AutoRespond    bool
	ForceReprocess bool
	ActorID        string
}

// actions expands the option flags into the concrete action list. No flags
// means the full pipeline.
func (o Options) actions() []string {
	var out []string
	if o.AutoClassify {
		out = append(out, agent.ActionClassification)
	}
	if o.AutoRespond {
		out = append(out, agent.ActionResponseGeneration)
	}
	if len(out) == 0 {
		out = append([]string(nil), agent.SubActions...)
	}
	return out
}

// RequestResult is the per-request entry of a batch report, in input order.
type RequestResult struct {
	RequestID string   `json:"requestId"`
	Success   bool     `json:"success"`
	Skipped   bool     `json:"skipped,omitempty"`
	Actions   []string `json:"actions,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// BatchReport is the deterministic outcome of one batch run. Results keep
// the input order; the summary is folded from the results slice, so the
// counters can never disagree with the entries.
type BatchReport struct {
	ProcessedCount ProcessedCount  `json:"processedCount"`
	Results        []RequestResult `json:"results"`
	Summary        BatchSummary    `json:"summary"`
}

type ProcessedCount struct {
	Success int `json:"success"`
	Error   int `json:"error"`
}

type BatchSummary struct {
	Total     int      `json:"total"`
	Processed int      `json:"processed"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	TimeStamp string   `json:"timeStamp"`
	Actions   []string `json:"actions"`
	AgentID   string   `json:"agentId"`
	AgentName string   `json:"agentName"`
}

// ProcessRequest runs the agent against one request. An already-processed
// request is skipped unless ForceReprocess is set; a skip mutates nothing.
func (d *Dispatcher) ProcessRequest(ctx context.Context, requestID, agentID, actionType string, opts Options) (RequestResult, error) {
	if actionType == "" {
		actionType = agent.ActionFull
	}
	if !agent.ValidAction(actionType) {
		return RequestResult{RequestID: requestID}, fmt.Errorf("unsupported action type %q", actionType)
	}
	ag, err := d.Engine.Repo.GetAgent(ctx, agentID)
	if err != nil {
		return RequestResult{RequestID: requestID}, fmt.Errorf("load agent %s: %w", agentID, err)
	}
	if !ag.IsActive {
		return RequestResult{RequestID: requestID}, fmt.Errorf("agent %s is inactive", agentID)
	}
	actions := []string{actionType}
	if actionType == agent.ActionFull {
		actions = append([]string(nil), agent.SubActions...)
	}
	return d.processActions(ctx, requestID, ag, actions, opts)
}

// processActions holds the per-request lock for the whole load-invoke-apply
// cycle so concurrent batch entries for the same id cannot interleave.
func (d *Dispatcher) processActions(ctx context.Context, requestID string, ag domain.Agent, actions []string, opts Options) (RequestResult, error) {
	l := d.acquire(requestID)
	defer d.release(requestID, l)

	cr, err := d.Engine.Repo.GetRequest(ctx, requestID)
	if err != nil {
		return RequestResult{RequestID: requestID}, err
	}
	if cr.Status == domain.StatusDeleted {
		return RequestResult{RequestID: requestID}, fmt.Errorf("request %s is deleted", requestID)
	}
	if cr.AIProcessed && !opts.ForceReprocess {
		return RequestResult{RequestID: requestID, Success: true, Skipped: true}, nil
	}

	outcome, err := d.run(ctx, cr, ag, actions, opts.ActorID)
	if err != nil {
		perr := &ProcessingError{RequestID: requestID, AgentID: ag.ID, Err: err}
		action := agent.ActionFull
		if len(actions) == 1 {
			action = actions[0]
		}
		if recErr := d.Engine.RecordAgentFailure(ctx, requestID, ag.ID, action, opts.ActorID, err); recErr != nil {
			return RequestResult{RequestID: requestID, Error: perr.Error()}, recErr
		}
		return RequestResult{RequestID: requestID, Error: perr.Error()}, perr
	}
	if _, err := d.Engine.ApplyAgentOutcome(ctx, outcome); err != nil {
		return RequestResult{RequestID: requestID, Error: err.Error()}, err
	}
	return RequestResult{RequestID: requestID, Success: true, Actions: actions}, nil
}

// run invokes the runtime for every action and assembles the atomic
// outcome. The runtime never sees the store; every invocation gets its own
// timeout.
func (d *Dispatcher) run(ctx context.Context, cr domain.CitizenRequest, ag domain.Agent, actions []string, actorID string) (engine.AgentOutcome, error) {
	content := strings.TrimSpace(cr.Subject + "\n\n" + cr.Description)
	out := engine.AgentOutcome{
		RequestID: cr.ID,
		AgentID:   ag.ID,
		AgentName: ag.Name,
		Actions:   actions,
		ActorID:   actorID,
	}
	for _, action := range actions {
		res, err := d.invoke(ctx, content, action, ag.Config)
		if err != nil {
			return engine.AgentOutcome{}, fmt.Errorf("%s: %w", action, err)
		}
		data, err := json.Marshal(res)
		if err != nil {
			return engine.AgentOutcome{}, fmt.Errorf("%s: encode result: %w", action, err)
		}
		out.Results = append(out.Results, domain.AgentResult{
			AgentID:    ag.ID,
			EntityID:   cr.ID,
			EntityType: "citizen_request",
			ActionType: action,
			Result:     string(data),
		})
		switch action {
		case agent.ActionClassification:
			out.Classification = res.Classification
		case agent.ActionSummarization:
			out.Summary = res.Summary
		case agent.ActionResponseGeneration:
			out.Suggestion = res.ResponseText
		}
	}
	return out, nil
}

func (d *Dispatcher) invoke(ctx context.Context, content, action string, cfg domain.AgentConfig) (agent.Result, error) {
	if d.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.CallTimeout)
		defer cancel()
	}
	return d.Runtime.Invoke(ctx, content, action, cfg)
}

// ProcessBatch runs the agent against every request id, bounded by Workers.
// The report lists one result per input id in input order; a failure is
// recorded in its entry and never stops the rest of the batch. One
// ai_process_report activity is appended for the whole run.
func (d *Dispatcher) ProcessBatch(ctx context.Context, requestIDs []string, agentID string, opts Options) (BatchReport, error) {
	ag, err := d.Engine.Repo.GetAgent(ctx, agentID)
	if err != nil {
		return BatchReport{}, fmt.Errorf("load agent %s: %w", agentID, err)
	}
	if !ag.IsActive {
		return BatchReport{}, fmt.Errorf("agent %s is inactive", agentID)
	}
	actions := opts.actions()
	results := make([]RequestResult, len(requestIDs))
	workers := d.Workers
	if workers < 1 {
		workers = defaultWorkers
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i, id := range requestIDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			res, err := d.processActions(ctx, id, ag, actions, opts)
			if err != nil && res.Error == "" {
				res.Error = err.Error()
			}
			results[i] = res
		}(i, id)
	}
	wg.Wait()

	report := foldReport(results, actions, ag, d.now())
	if err := d.Engine.RecordBatchReport(ctx, opts.ActorID, report.auditPayload()); err != nil {
		return report, fmt.Errorf("record batch report: %w", err)
	}
	return report, nil
}

// foldReport derives every counter from the results slice. There is no
// second tally to drift out of sync.
func foldReport(results []RequestResult, actions []string, ag domain.Agent, ts time.Time) BatchReport {
	var succeeded, failed, skipped int
	for _, r := range results {
		switch {
		case r.Skipped:
			skipped++
		case r.Success:
			succeeded++
		default:
			failed++
		}
	}
	return BatchReport{
		ProcessedCount: ProcessedCount{Success: succeeded, Error: failed},
		Results:        results,
		Summary: BatchSummary{
			Total:     len(results),
			Processed: succeeded + failed,
			Succeeded: succeeded,
			Failed:    failed,
			TimeStamp: ts.UTC().Format(time.RFC3339),
			Actions:   actions,
			AgentID:   ag.ID,
			AgentName: ag.Name,
		},
	}
}

func (r BatchReport) auditPayload() audit.AIProcessReport {
	return audit.AIProcessReport{
		AgentID:   r.Summary.AgentID,
		AgentName: r.Summary.AgentName,
		Total:     r.Summary.Total,
		Processed: r.Summary.Processed,
		Succeeded: r.Summary.Succeeded,
		Failed:    r.Summary.Failed,
		Actions:   r.Summary.Actions,
	}
}
