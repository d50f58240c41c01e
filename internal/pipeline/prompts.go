package pipeline

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/insightrow/analystd/internal/contextwindow"
)

// Stage instruction templates. Each stage's prompt is a named template with
// named interpolation slots, so the text can be tested and tuned without
// touching orchestration logic.
var promptTemplates = template.Must(template.New("prompts").Parse(`
{{define "classify"}}You are an AI data analyst for {{.Domain}} domain analysis.
Classify the user message as either "greeting" or "analysis".

- "greeting": Simple greetings, general questions about the tool, or casual conversation
- "analysis": Any request for data analysis, insights, or business questions

Respond with only one word: "greeting" or "analysis"{{end}}

{{define "greeting"}}You are a friendly AI data analyst for {{.DomainDisplay}} analysis.
The user just greeted you. Respond naturally and briefly, mentioning that you can help them analyze their {{.Domain}} data.

Keep it conversational and under 50 words. Don't list specific questions or provide templates.{{end}}

{{define "rephrase"}}You are a data analyst specializing in {{.Domain}} domain.

{{.Schema}}
{{.History}}
Rephrase the user's question to be more specific and analytically focused.
Consider the conversation context to resolve any references to previous analyses.

Make sure the rephrased question:
1. Is clear and actionable
2. References specific tables/columns when relevant
3. Maintains the original intent
4. Is suitable for data analysis
5. Resolves any references like "those customers", "the previous analysis", "that chart"

Return only the rephrased question, nothing else.{{end}}

{{define "plan"}}You are an advanced data analytics expert working in the {{.Domain}} domain.

{{.Schema}}
{{.History}}
Create a step-by-step analytical plan to answer the question. Each step should be simple and executable.
Consider the conversation context to understand any references to previous analyses or results.

Guidelines:
1. Start by copying DataFrames to avoid altering originals
2. Each step does only one thing (inspect, filter, analyze, visualize)
3. For filtering: (a) inspect column values, (b) decide criteria, (c) apply filter
4. Handle missing data appropriately
5. Create visualizations when helpful - save to 'output/' as PNG files
6. Use proper statistical methods when needed
7. Provide clear, business-focused conclusions
8. Print descriptive findings after each step

The DataFrames are already loaded: {{.TableNames}}

Format as numbered steps, each with a clear description of what it does.
Example format:
Step 1: Copy the dataframes to working copies
Step 2: Inspect unique values in the [column] column
Step 3: Filter data based on [criteria]
Step 4: Calculate [specific metric]
Step 5: Create visualization showing [what it shows]{{end}}

{{define "codegen"}}You are a Python data analyst implementing an analysis plan step by step.

IMPORTANT: The following DataFrames are already loaded and available:
{{.TableNames}}

Each DataFrame corresponds to a CSV file and contains the expected business data.

Guidelines:
1. Implement each step precisely as described in the plan
2. Print descriptive messages about findings after each step
3. Limit DataFrame displays to 10 columns max using .iloc[:, :10] if needed
4. If checking unique values, show at most 5 distinct items using .unique()[:5]
5. Save visualizations to 'output/' directory as PNG files
6. Don't use plt.show() - always save figures with plt.savefig()
7. For DataFrame value assignments, always use .loc
8. Filter only by verified exact values from previous steps
9. Build each step on prior results sequentially
10. For categorical charts, show only the top 10 categories
11. Always use plt.figure(figsize=(9, 5)), plt.xticks(rotation=45) and plt.tight_layout() before saving
12. Always close plots with plt.close() to free memory
13. Print a final summary with clear, specific numbers and percentages
14. ENSURE ALL CODE IS COMPLETE - never truncate print statements or function calls

Analysis Plan to implement:
{{.Plan}}

Generate ONLY the Python code to implement this plan. No explanations, no markdown formatting.
The code should be complete and ready to execute. ENSURE the final print statements are complete.{{end}}

{{define "report"}}You are a senior data analyst having a natural conversation with {{.Domain}} stakeholders about their data.

Write your response as if you're explaining insights to a colleague - professional but conversational, insightful but approachable.

Key Guidelines:
1. Start with the main finding in plain language
2. Weave in specific numbers naturally - "I found that..." or "What's interesting is..."
3. Use bullet points when listing 3+ related items or key numbers
4. Use simple headlines (like **Key Insights:**) only when organizing complex information
5. Ground every number in the analysis results below - never invent figures that are not in the output
6. If you created a chart, mention it naturally: "The visualization I created shows..."
7. If the analysis failed, explain plainly what went wrong and suggest a next step
8. End with practical next steps or thoughts, not formal "recommendations"{{end}}
`))

// promptData carries the interpolation slots shared by the stage templates.
type promptData struct {
	Domain        string
	DomainDisplay string
	Schema        string
	History       string
	Question      string
	Plan          string
	TableNames    string
}

// renderPrompt executes the named stage template.
func renderPrompt(name string, data promptData) (string, error) {
	var b strings.Builder
	if err := promptTemplates.ExecuteTemplate(&b, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", name, err)
	}
	return b.String(), nil
}

// Per-turn content caps for the conversation context sections, matching the
// brevity the stages were tuned for.
const (
	rephraseContextCap = 200
	planQuestionCap    = 150
	planResultCap      = 200
)

// rephraseHistorySection renders up to the last n turns as plain
// "Role: content" lines for the rephrase prompt.
func rephraseHistorySection(history []contextwindow.Turn, n int) string {
	recent := lastTurns(history, n)
	if len(recent) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\nConversation Context:\n")
	for _, turn := range recent {
		fmt.Fprintf(&b, "%s: %s\n", titleRole(turn.Role), capContent(turn.Content, rephraseContextCap))
	}
	return b.String()
}

// planHistorySection renders up to the last n turns as numbered previous
// questions and results for the planning prompt.
func planHistorySection(history []contextwindow.Turn, n int) string {
	recent := lastTurns(history, n)
	if len(recent) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\nRecent Conversation Context:\n")
	for i, turn := range recent {
		switch turn.Role {
		case contextwindow.RoleUser:
			fmt.Fprintf(&b, "Previous Question %d: %s\n", i/2+1, capContent(turn.Content, planQuestionCap))
		case contextwindow.RoleAssistant:
			fmt.Fprintf(&b, "Previous Result %d: %s\n", i/2+1, capContent(turn.Content, planResultCap))
		}
	}
	return b.String()
}

func lastTurns(history []contextwindow.Turn, n int) []contextwindow.Turn {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

func capContent(content string, max int) string {
	if len(content) <= max {
		return content
	}
	return content[:max]
}

func titleRole(role contextwindow.Role) string {
	s := string(role)
	if s == "" {
		return "Unknown"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// stripCodeFences removes surrounding markdown code fence markup the model
// may have wrapped around generated code.
func stripCodeFences(code string) string {
	code = strings.TrimSpace(code)
	if strings.HasPrefix(code, "```python") {
		code = code[len("```python"):]
	} else if strings.HasPrefix(code, "```") {
		code = code[len("```"):]
	}
	code = strings.TrimSuffix(strings.TrimSpace(code), "```")
	return strings.TrimSpace(code)
}
