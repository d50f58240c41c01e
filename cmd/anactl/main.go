// Package main implements the anactl CLI for manual operations against the
// analystd HTTP server.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the analystd HTTP server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "anactl",
	Short: "CLI for analystd HTTP server operations",
	Long: `anactl is a command-line interface for interacting with the analystd HTTP server.
It provides commands for asking analysis questions, listing domains, and checking server health.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "analystd server URL")
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(domainsCmd)
	rootCmd.AddCommand(healthCmd)
}

// domainsCmd lists the domains available for analysis
var domainsCmd = &cobra.Command{
	Use:   "domains",
	Short: "List domains available for analysis",
	Long: `List the business domains the analystd server can analyze.

Examples:
  # List domains
  anactl domains

  # List domains on a different server
  anactl domains --server http://localhost:9090`,
	RunE: runDomains,
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check analystd server health",
	Long: `Check the health status of the analystd HTTP server.

Examples:
  # Check health
  anactl health

  # Check health on a different server
  anactl health --server http://localhost:9090`,
	RunE: runHealth,
}

// DomainsResponse matches internal/http/server.go DomainsResponse
type DomainsResponse struct {
	Domains []string `json:"domains"`
}

// HealthResponse matches internal/http/server.go HealthResponse
type HealthResponse struct {
	Status string `json:"status"`
}

// runDomains handles the domains command
func runDomains(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/api/v1/domains", serverURL)

	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var domainsResp DomainsResponse
	if err := json.NewDecoder(resp.Body).Decode(&domainsResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if len(domainsResp.Domains) == 0 {
		fmt.Println("No domains available")
		return nil
	}
	for _, d := range domainsResp.Domains {
		fmt.Println(d)
	}

	return nil
}

// runHealth handles the health command
func runHealth(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/health", serverURL)

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to connect to %s: %v\n", url, err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var healthResp HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&healthResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("Server Status: %s\n", healthResp.Status)
	fmt.Printf("Server URL: %s\n", serverURL)

	return nil
}
