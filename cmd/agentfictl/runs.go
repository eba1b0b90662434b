package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"AgentFi-Mesh/sdk/go/agentfi"
)

var (
	runTemplate string
	runTask     string
	runParams   string
	runWait     bool
	runLimit    int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Submit and inspect workflow runs",
}

var runsSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a workflow run for asynchronous execution",
	RunE: func(cmd *cobra.Command, _ []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		req := agentfi.RunRequest{TemplateID: runTemplate, Task: runTask}
		if runParams != "" {
			if err := json.Unmarshal([]byte(runParams), &req.Params); err != nil {
				return fmt.Errorf("invalid --params JSON: %w", err)
			}
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		submitted, err := client.SubmitRun(ctx, req)
		if err != nil {
			return err
		}

		if !runWait {
			return printJSON(submitted)
		}

		waitCtx, waitCancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer waitCancel()
		finished, err := client.WaitForRun(waitCtx, submitted.ID, time.Second)
		if err != nil {
			return err
		}
		return printJSON(finished)
	},
}

var runsGetCmd = &cobra.Command{
	Use:   "get <run-id>",
	Short: "Fetch a single run record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		record, err := client.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(record)
	},
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recently updated runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		records, err := client.ListRuns(ctx, runLimit)
		if err != nil {
			return err
		}
		return printJSON(records)
	},
}

func init() {
	runsSubmitCmd.Flags().StringVar(&runTemplate, "template", "", "workflow template id")
	runsSubmitCmd.Flags().StringVar(&runTask, "task", "", "natural language task for the run")
	runsSubmitCmd.Flags().StringVar(&runParams, "params", "", "run parameters as a JSON object")
	runsSubmitCmd.Flags().BoolVar(&runWait, "wait", false, "block until the run reaches a terminal status")
	_ = runsSubmitCmd.MarkFlagRequired("template")
	_ = runsSubmitCmd.MarkFlagRequired("task")

	runsListCmd.Flags().IntVar(&runLimit, "limit", 20, "maximum number of runs to return")

	runsCmd.AddCommand(runsSubmitCmd, runsGetCmd, runsListCmd)
	rootCmd.AddCommand(runsCmd)
}
