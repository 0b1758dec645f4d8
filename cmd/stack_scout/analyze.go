package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jonathan/stack-scout/internal/observability"
	"github.com/jonathan/stack-scout/internal/types"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze a single job description and print the verdict",
	Long: `Sends one description through the same prompt, validation and evidence checks as a
pipeline run and prints the verdict JSON. Nothing is stored.

Use --file - to read the description from stdin.`,
	RunE: runAnalyze,
}

var (
	analyzeCompany string
	analyzeTitle   string
	analyzeFile    string
)

func init() {
	analyzeCmd.Flags().StringVar(&analyzeCompany, "company", "", "Company name")
	analyzeCmd.Flags().StringVar(&analyzeTitle, "title", "", "Job title")
	analyzeCmd.Flags().StringVarP(&analyzeFile, "file", "f", "", "Path to the job description text (required)")
	_ = analyzeCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(analyzeCmd)
}

func readDescription(path string, stdin io.Reader) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read description: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", &types.ValidationError{Field: "file", Message: "description is empty"}
	}
	return text, nil
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	description, err := readDescription(analyzeFile, cmd.InOrStdin())
	if err != nil {
		return err
	}

	engine, client, err := newEngine(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	posting := types.JobPosting{
		JobID:       "manual",
		Company:     analyzeCompany,
		JobTitle:    analyzeTitle,
		Description: description,
	}
	verdict, err := engine.Analyze(cmd.Context(), posting)
	if err != nil {
		return err
	}

	if verbose {
		observability.NewPrinter(cmd.ErrOrStderr()).PrintVerdict(analyzeCompany, analyzeTitle, verdict)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(verdict)
}
