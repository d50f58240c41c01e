package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	askDomain  string
	askSession string
	askVerbose bool
)

// askCmd submits one analysis question to the server
var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask an analysis question about a domain",
	Long: `Ask a natural-language analysis question about a domain's data.
The question is read from the arguments, or from stdin when given as "-".

Examples:
  # Ask a question about the banking domain
  anactl ask --domain banking "Which customers have the highest balances?"

  # Read the question from stdin
  echo "Show monthly transaction volume" | anactl ask --domain banking -

  # Show the analysis plan and generated code too
  anactl ask --domain banking --verbose "Plot account openings per month"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askDomain, "domain", "", "domain to analyze (required)")
	askCmd.Flags().StringVar(&askSession, "session", "", "session identifier for request correlation")
	askCmd.Flags().BoolVar(&askVerbose, "verbose", false, "print the rephrased question, plan, and generated code")
	_ = askCmd.MarkFlagRequired("domain")
}

// QueryRequest matches internal/http/server.go QueryRequest
type QueryRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	Domain    string `json:"domain"`
}

// QueryResult carries the fields of the pipeline result the CLI renders.
type QueryResult struct {
	Success           bool   `json:"success"`
	MessageType       string `json:"message_type"`
	RephrasedQuestion string `json:"rephrased_question"`
	Plan              string `json:"analysis_plan"`
	GeneratedCode     string `json:"generated_code"`
	ExecutionOutput   string `json:"execution_output"`
	FinalAnswer       string `json:"final_answer"`
	Artifacts         []struct {
		Name string `json:"name"`
		Path string `json:"path"`
	} `json:"execution_artifacts"`
	Error string `json:"error"`
}

// runAsk handles the ask command
func runAsk(cmd *cobra.Command, args []string) error {
	var question string
	if len(args) == 1 && args[0] == "-" {
		content, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
		question = strings.TrimSpace(string(content))
	} else {
		question = strings.TrimSpace(strings.Join(args, " "))
	}

	if question == "" {
		return fmt.Errorf("no question to ask")
	}

	reqJSON, err := json.Marshal(QueryRequest{
		Message:   question,
		SessionID: askSession,
		Domain:    askDomain,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/query", serverURL)
	httpReq, err := http.NewRequest("POST", url, bytes.NewReader(reqJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	// Analysis runs the full pipeline including code execution; give it
	// room before giving up.
	client := &http.Client{
		Timeout: 5 * time.Minute,
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var result QueryResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if askVerbose && result.MessageType == "analysis" {
		if result.RephrasedQuestion != "" {
			fmt.Fprintf(os.Stderr, "[rephrased] %s\n\n", result.RephrasedQuestion)
		}
		if result.Plan != "" {
			fmt.Fprintf(os.Stderr, "[plan]\n%s\n\n", result.Plan)
		}
		if result.GeneratedCode != "" {
			fmt.Fprintf(os.Stderr, "[code]\n%s\n\n", result.GeneratedCode)
		}
		if result.ExecutionOutput != "" {
			fmt.Fprintf(os.Stderr, "[output]\n%s\n\n", result.ExecutionOutput)
		}
	}

	fmt.Println(result.FinalAnswer)

	for _, artifact := range result.Artifacts {
		fmt.Fprintf(os.Stderr, "[anactl] Chart saved: %s\n", artifact.Path)
	}

	if !result.Success {
		if result.Error != "" {
			fmt.Fprintf(os.Stderr, "[anactl] Analysis failed: %s\n", result.Error)
		}
		return fmt.Errorf("analysis did not complete successfully")
	}

	return nil
}
