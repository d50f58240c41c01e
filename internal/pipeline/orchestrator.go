// Package pipeline turns one user message plus conversation history into a
// structured analytics answer by sequencing a fixed set of LLM stages:
// classify, rephrase, plan, codegen, execute, report. Non-analytical input
// short-circuits after classification with a conversational reply.
//
// The orchestrator is stateless across requests; persistence of history is
// the caller's responsibility. The sandbox it holds is not re-entrant, so
// concurrent requests need separate orchestrator instances.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/insightrow/analystd/internal/completion"
	"github.com/insightrow/analystd/internal/contextwindow"
	"github.com/insightrow/analystd/internal/domain"
	"github.com/insightrow/analystd/internal/sandbox"
)

// Orchestrator runs the analysis pipeline for a single domain.
type Orchestrator struct {
	client   completion.Client
	provider *domain.Provider
	sandbox  *sandbox.Sandbox
	window   *contextwindow.Manager
	cfg      Config
	logger   *zap.Logger
	metrics  *Metrics
}

// New creates an orchestrator. metrics may be nil to disable instrumentation.
func New(
	client completion.Client,
	provider *domain.Provider,
	sb *sandbox.Sandbox,
	window *contextwindow.Manager,
	cfg Config,
	logger *zap.Logger,
	metrics *Metrics,
) (*Orchestrator, error) {
	if client == nil {
		return nil, fmt.Errorf("completion client cannot be nil")
	}
	if provider == nil {
		return nil, fmt.Errorf("domain provider cannot be nil")
	}
	if sb == nil {
		return nil, fmt.Errorf("sandbox cannot be nil")
	}
	if window == nil {
		return nil, fmt.Errorf("context window manager cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()

	return &Orchestrator{
		client:   client,
		provider: provider,
		sandbox:  sb,
		window:   window,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
	}, nil
}

// Process runs the full pipeline for one request and returns a structured
// result. Early-stage failures (classify, rephrase, plan) halt the pipeline
// with a structured error; codegen and execution failures still produce a
// best-effort user-facing answer.
func (o *Orchestrator) Process(ctx context.Context, req Request) Result {
	logger := o.logger.With(
		zap.String("session_id", req.SessionID),
		zap.String("domain", o.provider.Name()),
	)

	result := Result{
		Domain:      o.provider.Name(),
		MessageType: MessageTypeAnalysis,
	}

	messageType, err := o.classify(ctx, req, &result)
	if err != nil {
		logger.Error("classification failed", zap.Error(err))
		return o.fail(&result, newStageError(StageClassify, err),
			"I ran into a problem while reading your message. Please try again.")
	}
	result.MessageType = messageType

	if messageType == MessageTypeGreeting {
		o.greet(ctx, req, &result)
		result.Success = true
		o.metrics.ObserveRequest(MessageTypeGreeting, true)
		logger.Info("greeting handled")
		return result
	}

	rephrased, err := o.rephrase(ctx, req, &result)
	if err != nil {
		logger.Error("rephrase failed", zap.Error(err))
		return o.fail(&result, newStageError(StageRephrase, err),
			"I couldn't restate your question for analysis. Please try rephrasing it.")
	}
	result.RephrasedQuestion = rephrased

	plan, err := o.plan(ctx, req, rephrased, &result)
	if err != nil {
		logger.Error("planning failed", zap.Error(err))
		return o.fail(&result, newStageError(StagePlan, err),
			"I couldn't build an analysis plan for your question. Please try again.")
	}
	result.Plan = plan

	code, err := o.generateCode(ctx, plan, &result)
	if err != nil {
		logger.Error("code generation failed", zap.Error(err))
		return o.fail(&result, newStageError(StageCodegen, err),
			"I understood your question but couldn't produce analysis code for it, so the analysis could not complete.")
	}
	result.GeneratedCode = code

	run := o.execute(ctx, code, &result)
	result.ExecutionOutput = run.Output
	result.Artifacts = run.Artifacts
	if !run.Success() {
		result.Error = run.Err
		logger.Warn("execution failed",
			zap.String("status", string(run.Status)),
			zap.String("error", run.Err))
	}

	result.FinalAnswer = o.report(ctx, rephrased, run, &result)
	result.Success = run.Success()
	o.metrics.ObserveRequest(MessageTypeAnalysis, result.Success)
	logger.Info("pipeline complete",
		zap.Bool("success", result.Success),
		zap.Int("artifacts", len(result.Artifacts)))
	return result
}

// classify labels the message as greeting or analysis. The model's answer is
// untrusted input: anything outside the two-label contract fails open to
// analysis so the request is worked rather than dropped.
func (o *Orchestrator) classify(ctx context.Context, req Request, result *Result) (MessageType, error) {
	start := time.Now()

	system, err := renderPrompt("classify", promptData{Domain: o.provider.Name()})
	if err != nil {
		return "", err
	}

	raw, err := o.complete(ctx, system,
		[]contextwindow.Turn{{Role: contextwindow.RoleUser, Content: req.Message}},
		o.cfg.Classify)
	if err != nil {
		return "", err
	}
	o.finishStage(result, StageClassify, raw, start)

	label := strings.ToLower(strings.TrimSpace(raw))
	switch MessageType(label) {
	case MessageTypeGreeting:
		return MessageTypeGreeting, nil
	case MessageTypeAnalysis:
		return MessageTypeAnalysis, nil
	default:
		o.logger.Warn("non-binary classification, defaulting to analysis",
			zap.String("label", label))
		return MessageTypeAnalysis, nil
	}
}

// greet produces a short conversational reply. If the model call fails the
// canned fallback is used so a greeting never surfaces an error.
func (o *Orchestrator) greet(ctx context.Context, req Request, result *Result) {
	start := time.Now()

	system, renderErr := renderPrompt("greeting", promptData{
		Domain:        o.provider.Name(),
		DomainDisplay: o.provider.DisplayName(),
	})
	if renderErr == nil {
		reply, err := o.complete(ctx, system,
			[]contextwindow.Turn{{Role: contextwindow.RoleUser, Content: req.Message}},
			o.cfg.Greeting)
		if err == nil {
			result.FinalAnswer = strings.TrimSpace(reply)
			o.finishStage(result, StageGreeting, result.FinalAnswer, start)
			return
		}
		o.logger.Warn("greeting completion failed, using fallback", zap.Error(err))
	}

	result.FinalAnswer = fmt.Sprintf(
		"Hello! I'm here to help you analyze your %s data. What would you like to explore?",
		o.provider.Name())
	o.finishStage(result, StageGreeting, result.FinalAnswer, start)
}

// rephrase restates the question as a self-contained, analytically
// actionable one, resolving references against recent history.
func (o *Orchestrator) rephrase(ctx context.Context, req Request, result *Result) (string, error) {
	start := time.Now()

	system, err := renderPrompt("rephrase", promptData{
		Domain:  o.provider.Name(),
		Schema:  o.provider.SchemaDescription(),
		History: rephraseHistorySection(req.History, o.cfg.RephraseHistoryTurns),
	})
	if err != nil {
		return "", err
	}

	raw, err := o.complete(ctx, system,
		[]contextwindow.Turn{{
			Role:    contextwindow.RoleUser,
			Content: "Rephrase this question: " + req.Message,
		}},
		o.cfg.Rephrase)
	if err != nil {
		return "", err
	}

	rephrased := strings.TrimSpace(raw)
	o.finishStage(result, StageRephrase, rephrased, start)
	return rephrased, nil
}

// plan asks for an ordered list of atomic analysis steps. The plan is a
// specification for codegen; it never touches data itself.
func (o *Orchestrator) plan(ctx context.Context, req Request, question string, result *Result) (string, error) {
	start := time.Now()

	system, err := renderPrompt("plan", promptData{
		Domain:     o.provider.Name(),
		Schema:     o.provider.SchemaDescription(),
		History:    planHistorySection(req.History, o.cfg.PlanHistoryTurns),
		TableNames: strings.Join(o.provider.TableNames(), ", "),
	})
	if err != nil {
		return "", err
	}

	raw, err := o.complete(ctx, system,
		[]contextwindow.Turn{{
			Role:    contextwindow.RoleUser,
			Content: "Question: " + question,
		}},
		o.cfg.Plan)
	if err != nil {
		return "", err
	}

	plan := strings.TrimSpace(raw)
	o.finishStage(result, StagePlan, plan, start)
	return plan, nil
}

// generateCode turns the plan into a complete source unit, strips any code
// fence markup, and prepends the domain's deterministic table-loading
// preamble.
func (o *Orchestrator) generateCode(ctx context.Context, plan string, result *Result) (string, error) {
	start := time.Now()

	system, err := renderPrompt("codegen", promptData{
		Plan:       plan,
		TableNames: strings.Join(o.provider.TableNames(), ", "),
	})
	if err != nil {
		return "", err
	}

	raw, err := o.complete(ctx, system, nil, o.cfg.Codegen)
	if err != nil {
		return "", err
	}

	code := stripCodeFences(raw)
	if code == "" {
		return "", ErrEmptyCode
	}
	o.finishStage(result, StageCodegen, code, start)

	return o.provider.LoaderSnippet() + "\n\n# Analysis Code:\n" + code, nil
}

// execute hands the code to the sandbox verbatim.
func (o *Orchestrator) execute(ctx context.Context, code string, result *Result) *sandbox.Run {
	start := time.Now()
	run := o.sandbox.Execute(ctx, code)
	o.finishStage(result, StageExecute, run.Output, start)
	return run
}

// report writes the prose answer grounded in what the execution actually
// printed. A failed run becomes negative evidence so the user still gets an
// explanation; a failed report call degrades to the raw execution output.
func (o *Orchestrator) report(ctx context.Context, question string, run *sandbox.Run, result *Result) string {
	start := time.Now()

	evidence := run.Output
	if !run.Success() {
		evidence = fmt.Sprintf("%s\n\nThe analysis failed because: %s", run.Output, run.Err)
	}

	system, renderErr := renderPrompt("report", promptData{Domain: o.provider.Name()})
	if renderErr == nil {
		answer, err := o.complete(ctx, system,
			[]contextwindow.Turn{{
				Role:    contextwindow.RoleUser,
				Content: fmt.Sprintf("Question: %s\n\nAnalysis Results:\n%s", question, evidence),
			}},
			o.cfg.Report)
		if err == nil {
			answer = strings.TrimSpace(answer)
			o.finishStage(result, StageReport, answer, start)
			return answer
		}
		o.logger.Warn("report stage failed, surfacing raw execution output", zap.Error(err))
	}

	// Degraded reporting: raw output beats no answer.
	fallback := strings.TrimSpace(run.Output)
	if fallback == "" {
		fallback = "The analysis could not be completed: " + run.Err
	}
	o.finishStage(result, StageReport, fallback, start)
	return fallback
}

// complete prepares the message list through the context window manager and
// invokes the completion client with the stage's budget.
func (o *Orchestrator) complete(ctx context.Context, system string, turns []contextwindow.Turn, budget StageBudget) (string, error) {
	prepared := o.window.PrepareForRequest(turns, system)

	messages := make([]completion.Message, 0, len(prepared))
	for _, turn := range prepared {
		messages = append(messages, completion.Message{
			Role:    string(turn.Role),
			Content: turn.Content,
		})
	}

	return o.client.Complete(ctx, completion.Request{
		Messages:    messages,
		MaxTokens:   budget.MaxTokens,
		Temperature: budget.Temperature,
	})
}

// fail finalizes a halted pipeline: structured error plus a human-readable
// message, never a bare error code.
func (o *Orchestrator) fail(result *Result, err error, userMessage string) Result {
	result.Success = false
	result.Error = err.Error()
	result.FinalAnswer = userMessage
	o.metrics.ObserveRequest(result.MessageType, false)
	return *result
}

// finishStage records a completed stage's output and timing.
func (o *Orchestrator) finishStage(result *Result, stage Stage, output string, start time.Time) {
	elapsed := time.Since(start)
	result.Stages = append(result.Stages, StageResult{
		Stage:   stage,
		Output:  output,
		Elapsed: elapsed,
	})
	o.metrics.ObserveStage(stage, elapsed)
	o.logger.Debug("stage complete",
		zap.String("stage", string(stage)),
		zap.Duration("elapsed", elapsed))
}
