package contextwindow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, maxTokens int) *Manager {
	t.Helper()
	m, err := NewManager(Config{Model: "gpt-4o", MaxTokens: maxTokens})
	require.NoError(t, err)
	return m
}

func TestNewManager(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		m, err := NewManager(Config{})
		require.NoError(t, err)
		assert.Equal(t, DefaultMaxTokens, m.MaxTokens())
	})

	t.Run("falls back to cl100k_base for unknown models", func(t *testing.T) {
		m, err := NewManager(Config{Model: "some-future-model", MaxTokens: 1000})
		require.NoError(t, err)
		assert.Positive(t, m.CountTokens("hello world"))
	})
}

func TestCountTokens(t *testing.T) {
	m := newTestManager(t, 1000)

	assert.Zero(t, m.CountTokens(""))
	assert.Positive(t, m.CountTokens("How many customers churned last quarter?"))

	// Deterministic: same text, same count.
	text := "The quick brown fox jumps over the lazy dog."
	assert.Equal(t, m.CountTokens(text), m.CountTokens(text))
}

func TestCountConversationTokens(t *testing.T) {
	m := newTestManager(t, 1000)

	turns := []Turn{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "hi there"},
	}

	contentOnly := m.CountTokens("user") + m.CountTokens("hello") +
		m.CountTokens("assistant") + m.CountTokens("hi there")

	// Per-message overhead must be included or truncation under-corrects.
	assert.Equal(t, contentOnly+2*4, m.CountConversationTokens(turns))
}

func TestFitToBudget(t *testing.T) {
	t.Run("no-op at or under budget", func(t *testing.T) {
		m := newTestManager(t, 10000)
		turns := []Turn{
			{Role: RoleSystem, Content: "You are a data analyst."},
			{Role: RoleUser, Content: "How many customers are there?"},
			{Role: RoleAssistant, Content: "There are 500 customers."},
		}

		got := m.FitToBudget(turns)
		assert.Equal(t, turns, got)
	})

	t.Run("retains system turns when truncating", func(t *testing.T) {
		m := newTestManager(t, 200)
		turns := []Turn{
			{Role: RoleSystem, Content: "You are a data analyst for the banking domain."},
		}
		for i := 0; i < 20; i++ {
			turns = append(turns, Turn{Role: RoleUser, Content: strings.Repeat("customer churn analysis question ", 10)})
		}

		got := m.FitToBudget(turns)
		require.NotEmpty(t, got)
		assert.Equal(t, turns[0], got[0])
	})

	t.Run("result never exceeds budget", func(t *testing.T) {
		m := newTestManager(t, 150)
		var turns []Turn
		for i := 0; i < 30; i++ {
			turns = append(turns, Turn{Role: RoleUser, Content: strings.Repeat("analyze the transactions table ", 5)})
		}

		got := m.FitToBudget(turns)
		assert.LessOrEqual(t, m.CountConversationTokens(got), m.MaxTokens())
	})

	t.Run("idempotent", func(t *testing.T) {
		m := newTestManager(t, 150)
		var turns []Turn
		for i := 0; i < 30; i++ {
			turns = append(turns, Turn{Role: RoleUser, Content: strings.Repeat("show loan defaults by region ", 5)})
		}

		once := m.FitToBudget(turns)
		twice := m.FitToBudget(once)
		assert.Equal(t, once, twice)
	})

	t.Run("inserts marker noting how many turns were kept", func(t *testing.T) {
		m := newTestManager(t, 200)
		var turns []Turn
		for i := 0; i < 20; i++ {
			turns = append(turns, Turn{Role: RoleUser, Content: strings.Repeat("what about those accounts ", 8)})
		}

		got := m.FitToBudget(turns)
		var marker *Turn
		for i := range got {
			if strings.Contains(got[i].Content, "truncated") {
				marker = &got[i]
				break
			}
		}
		require.NotNil(t, marker, "expected a truncation marker turn")
		assert.Equal(t, RoleAssistant, marker.Role)
	})

	t.Run("keeps most recent turns and drops oldest", func(t *testing.T) {
		m := newTestManager(t, 300)
		var turns []Turn
		for i := 0; i < 20; i++ {
			turns = append(turns, Turn{Role: RoleUser, Content: strings.Repeat("question ", 20)})
		}
		turns = append(turns, Turn{Role: RoleUser, Content: "most recent question"})

		got := m.FitToBudget(turns)
		assert.Equal(t, "most recent question", got[len(got)-1].Content)
	})

	t.Run("drops a single turn that alone exceeds the budget", func(t *testing.T) {
		m := newTestManager(t, 100)
		turns := []Turn{
			{Role: RoleUser, Content: strings.Repeat("enormous pasted table dump ", 200)},
			{Role: RoleUser, Content: "small follow-up"},
		}

		got := m.FitToBudget(turns)
		for _, turn := range got {
			assert.NotContains(t, turn.Content, "enormous pasted table dump")
		}
	})

	t.Run("does not mutate the caller's history", func(t *testing.T) {
		m := newTestManager(t, 150)
		var turns []Turn
		for i := 0; i < 10; i++ {
			turns = append(turns, Turn{Role: RoleUser, Content: strings.Repeat("mutation check ", 10)})
		}
		original := make([]Turn, len(turns))
		copy(original, turns)

		m.FitToBudget(turns)
		assert.Equal(t, original, turns)
	})

	t.Run("empty history", func(t *testing.T) {
		m := newTestManager(t, 150)
		assert.Empty(t, m.FitToBudget(nil))
	})
}

func TestPrepareForRequest(t *testing.T) {
	t.Run("replaces existing system turns", func(t *testing.T) {
		m := newTestManager(t, 10000)
		turns := []Turn{
			{Role: RoleSystem, Content: "old instructions"},
			{Role: RoleUser, Content: "question"},
			{Role: RoleSystem, Content: "older instructions"},
		}

		got := m.PrepareForRequest(turns, "new instructions")

		systemCount := 0
		for _, turn := range got {
			if turn.Role == RoleSystem {
				systemCount++
				assert.Equal(t, "new instructions", turn.Content)
			}
		}
		assert.Equal(t, 1, systemCount)
		assert.Equal(t, RoleSystem, got[0].Role)
	})

	t.Run("passes through without system prompt", func(t *testing.T) {
		m := newTestManager(t, 10000)
		turns := []Turn{
			{Role: RoleSystem, Content: "keep me"},
			{Role: RoleUser, Content: "question"},
		}

		got := m.PrepareForRequest(turns, "")
		assert.Equal(t, turns, got)
	})
}
