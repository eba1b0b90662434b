// agentfictl is the operator command line for an AgentFi Mesh daemon.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"AgentFi-Mesh/sdk/go/agentfi"
)

var (
	serverURL string
	apiKey    string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "agentfictl",
	Short: "Operate a running agentfid daemon over its REST API",
	Long: `agentfictl talks to the agentfid REST API to submit and inspect
workflow runs, list the registered templates and diagnose or repair
the transaction nonce state of a signer.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("AGENTFI_SERVER", "http://127.0.0.1:8080"), "base URL of the agentfid API")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("AGENTFI_API_KEY"), "API key sent as X-API-Key")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 15*time.Second, "HTTP request timeout")
}

func envOr(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func newClient() (*agentfi.Client, error) {
	return agentfi.NewClient(serverURL, apiKey, nil)
}

// printJSON renders API payloads with stable indentation for shell pipelines.
func printJSON(value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
