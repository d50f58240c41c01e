package contextwindow

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is a single message in a conversation history.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// Domain optionally tags the turn with the business domain it was
	// produced under.
	Domain string `json:"domain,omitempty"`
}

// Default budgeting values, matching the gpt-4o 128k window with headroom
// for the completion itself.
const (
	DefaultModel     = "gpt-4o"
	DefaultMaxTokens = 120000

	// messageOverheadTokens is the structural overhead the API charges per
	// message on top of role and content tokens.
	messageOverheadTokens = 4

	// truncationMarkerReserve is held back during truncation so the
	// synthetic marker turn never pushes the result over budget.
	truncationMarkerReserve = 32

	// fallbackEncoding is used for models tiktoken does not know about.
	fallbackEncoding = "cl100k_base"
)

// Config holds context window configuration.
type Config struct {
	// Model is the model name used to select the tokenizer.
	Model string `koanf:"model"`
	// MaxTokens is the budget for a single request's message list.
	MaxTokens int `koanf:"max_tokens"`
}

// Manager token-budgets conversation histories for completion requests.
// All methods operate on copies; the caller's history is never mutated.
type Manager struct {
	model     string
	maxTokens int
	encoding  *tiktoken.Tiktoken
}

// NewManager creates a manager for the given model and budget. Zero values
// fall back to DefaultModel and DefaultMaxTokens.
func NewManager(cfg Config) (*Manager, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Unknown model: fall back to cl100k_base like the provider does.
		encoding, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return nil, fmt.Errorf("failed to load tokenizer: %w", err)
		}
	}

	return &Manager{
		model:     model,
		maxTokens: maxTokens,
		encoding:  encoding,
	}, nil
}

// MaxTokens returns the configured budget.
func (m *Manager) MaxTokens() int {
	return m.maxTokens
}

// CountTokens returns the deterministic token count for text.
func (m *Manager) CountTokens(text string) int {
	return len(m.encoding.Encode(text, nil, nil))
}

// CountConversationTokens returns the total token count for a message list,
// including the per-message structural overhead the API charges.
func (m *Manager) CountConversationTokens(turns []Turn) int {
	total := 0
	for _, turn := range turns {
		total += m.CountTokens(string(turn.Role))
		total += m.CountTokens(turn.Content)
		total += messageOverheadTokens
	}
	return total
}

// FitToBudget returns turns unchanged if they fit the budget. Otherwise it
// retains every system turn, keeps the most recent non-system turns that
// still fit, and inserts a synthetic assistant marker noting how many of the
// original turns were kept.
func (m *Manager) FitToBudget(turns []Turn) []Turn {
	if len(turns) == 0 {
		return turns
	}

	if m.CountConversationTokens(turns) <= m.maxTokens {
		return turns
	}

	result := make([]Turn, 0, len(turns))
	for _, turn := range turns {
		if turn.Role == RoleSystem {
			result = append(result, turn)
		}
	}

	var nonSystem []Turn
	for _, turn := range turns {
		if turn.Role != RoleSystem {
			nonSystem = append(nonSystem, turn)
		}
	}

	// Walk backward from the most recent turn, accumulating while it fits.
	// Part of the budget is reserved for the truncation marker appended
	// below.
	budget := m.maxTokens - truncationMarkerReserve
	currentTokens := m.CountConversationTokens(result)
	var kept []Turn
	for i := len(nonSystem) - 1; i >= 0; i-- {
		turnTokens := m.CountTokens(string(nonSystem[i].Role)) +
			m.CountTokens(nonSystem[i].Content) + messageOverheadTokens
		if currentTokens+turnTokens > budget {
			break
		}
		kept = append([]Turn{nonSystem[i]}, kept...)
		currentTokens += turnTokens
	}
	result = append(result, kept...)

	if len(result) < len(turns) {
		marker := Turn{
			Role: RoleAssistant,
			Content: fmt.Sprintf(
				"[Previous conversation history truncated - keeping %d of %d messages to manage context length]",
				len(result), len(turns)),
		}
		if len(result) > 1 {
			// Insert before the most recent turn so the latest exchange
			// stays last.
			result = append(result[:len(result)-1], marker, result[len(result)-1])
		} else {
			result = append([]Turn{marker}, result...)
		}
	}

	return result
}

// PrepareForRequest readies a message list for a completion call. A
// non-empty systemPrompt replaces every existing system turn so each request
// carries exactly one authoritative system turn, then budgeting applies.
func (m *Manager) PrepareForRequest(turns []Turn, systemPrompt string) []Turn {
	prepared := make([]Turn, 0, len(turns)+1)
	if systemPrompt != "" {
		prepared = append(prepared, Turn{Role: RoleSystem, Content: systemPrompt})
		for _, turn := range turns {
			if turn.Role != RoleSystem {
				prepared = append(prepared, turn)
			}
		}
	} else {
		prepared = append(prepared, turns...)
	}

	return m.FitToBudget(prepared)
}
