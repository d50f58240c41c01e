package pipeline

import (
	"time"

	"github.com/insightrow/analystd/internal/contextwindow"
	"github.com/insightrow/analystd/internal/sandbox"
)

// Stage names the discrete steps of the pipeline.
type Stage string

const (
	StageClassify Stage = "classify"
	StageGreeting Stage = "greeting"
	StageRephrase Stage = "rephrase"
	StagePlan     Stage = "plan"
	StageCodegen  Stage = "codegen"
	StageExecute  Stage = "execute"
	StageReport   Stage = "report"
)

// MessageType is the classification of an incoming user message.
type MessageType string

const (
	MessageTypeGreeting MessageType = "greeting"
	MessageTypeAnalysis MessageType = "analysis"
)

// Request is one user turn submitted to the pipeline. It is immutable once
// built; History is owned by the caller and only read here.
type Request struct {
	Message   string               `json:"message"`
	SessionID string               `json:"session_id"`
	Domain    string               `json:"domain"`
	History   []contextwindow.Turn `json:"history"`
}

// StageResult records one completed stage's raw output and elapsed time.
type StageResult struct {
	Stage   Stage         `json:"stage"`
	Output  string        `json:"output"`
	Elapsed time.Duration `json:"elapsed"`
}

// Result is the pipeline's final structured answer.
type Result struct {
	Success           bool               `json:"success"`
	MessageType       MessageType        `json:"message_type"`
	RephrasedQuestion string             `json:"rephrased_question,omitempty"`
	Plan              string             `json:"analysis_plan,omitempty"`
	GeneratedCode     string             `json:"generated_code,omitempty"`
	ExecutionOutput   string             `json:"execution_output,omitempty"`
	FinalAnswer       string             `json:"final_answer"`
	Artifacts         []sandbox.Artifact `json:"execution_artifacts,omitempty"`
	Domain            string             `json:"domain"`
	Error             string             `json:"error,omitempty"`
	Stages            []StageResult      `json:"stages,omitempty"`
}

// StageBudget is the per-stage completion budget: output tokens and
// sampling temperature.
type StageBudget struct {
	MaxTokens   int     `koanf:"max_tokens"`
	Temperature float64 `koanf:"temperature"`
}

// Config holds orchestrator configuration. Budgets default to the values
// each stage's prompt was tuned against.
type Config struct {
	// RephraseHistoryTurns bounds the conversation context handed to the
	// rephrase stage before token budgeting applies.
	RephraseHistoryTurns int `koanf:"rephrase_history_turns"`
	// PlanHistoryTurns bounds the conversation context handed to the
	// planning stage.
	PlanHistoryTurns int `koanf:"plan_history_turns"`

	Classify StageBudget `koanf:"classify"`
	Greeting StageBudget `koanf:"greeting"`
	Rephrase StageBudget `koanf:"rephrase"`
	Plan     StageBudget `koanf:"plan"`
	Codegen  StageBudget `koanf:"codegen"`
	Report   StageBudget `koanf:"report"`
}

// NewDefaultConfig returns the stage budgets the prompts were tuned for.
func NewDefaultConfig() Config {
	return Config{
		RephraseHistoryTurns: 6,
		PlanHistoryTurns:     4,
		Classify:             StageBudget{MaxTokens: 10, Temperature: 0},
		Greeting:             StageBudget{MaxTokens: 100, Temperature: 0.7},
		Rephrase:             StageBudget{MaxTokens: 200, Temperature: 0},
		Plan:                 StageBudget{MaxTokens: 1500, Temperature: 0},
		Codegen:              StageBudget{MaxTokens: 4000, Temperature: 0},
		Report:               StageBudget{MaxTokens: 1200, Temperature: 0.3},
	}
}

// applyDefaults fills zero-valued fields from NewDefaultConfig.
func (c *Config) applyDefaults() {
	defaults := NewDefaultConfig()
	if c.RephraseHistoryTurns <= 0 {
		c.RephraseHistoryTurns = defaults.RephraseHistoryTurns
	}
	if c.PlanHistoryTurns <= 0 {
		c.PlanHistoryTurns = defaults.PlanHistoryTurns
	}
	if c.Classify.MaxTokens <= 0 {
		c.Classify = defaults.Classify
	}
	if c.Greeting.MaxTokens <= 0 {
		c.Greeting = defaults.Greeting
	}
	if c.Rephrase.MaxTokens <= 0 {
		c.Rephrase = defaults.Rephrase
	}
	if c.Plan.MaxTokens <= 0 {
		c.Plan = defaults.Plan
	}
	if c.Codegen.MaxTokens <= 0 {
		c.Codegen = defaults.Codegen
	}
	if c.Report.MaxTokens <= 0 {
		c.Report = defaults.Report
	}
}
