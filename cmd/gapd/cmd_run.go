package main

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/bryanwahyu/gap-analyzer/internal/domain/gap"
)

var runJobFile string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one job synchronously from a JSON descriptor",
	Long: `Runs a single market GAP job in the foreground and prints the outcome.
The descriptor uses the same JSON shape as POST /v1/market-gap; "-" reads stdin.`,
	RunE: runOnce,
}

func init() {
	runCmd.Flags().StringVarP(&runJobFile, "file", "f", "", "job descriptor JSON (required)")
	_ = runCmd.MarkFlagRequired("file")
}

func runOnce(cmd *cobra.Command, _ []string) error {
	job, err := readJob(runJobFile)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := buildApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	res, runErr := a.service.RunSync(cmd.Context(), job)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Session: %s\n", job.SessionID)
	fmt.Fprintf(out, "Stage:   %s\n", res.Stage)
	fmt.Fprintf(out, "Staged:  %d/%d\n", len(res.Staged), len(job.Files))
	for _, c := range res.Charts {
		fmt.Fprintf(out, "Chart:   %s %s\n", c.Key, c.RemoteURL)
	}
	for _, r := range res.Reports {
		fmt.Fprintf(out, "Report:  %s\n", r.RemoteURL)
	}
	return runErr
}

func readJob(path string) (gap.JobDescriptor, error) {
	var job gap.JobDescriptor
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return job, fmt.Errorf("read job: %w", err)
	}
	if err := json.Unmarshal(data, &job); err != nil {
		return job, fmt.Errorf("parse job: %w", err)
	}
	return job, nil
}
