package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/stack-scout/internal/observability"
	"github.com/jonathan/stack-scout/internal/types"
)

var termsCmd = &cobra.Command{
	Use:   "terms",
	Short: "Manage the search terms the pipeline scrapes",
}

var termsAddCmd = &cobra.Command{
	Use:   "add TERM...",
	Short: "Add search terms, or re-activate existing ones",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTermsAdd,
}

var termsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List search terms with their last scrape",
	Args:  cobra.NoArgs,
	RunE:  runTermsList,
}

var termsDeactivateCmd = &cobra.Command{
	Use:   "deactivate TERM...",
	Short: "Stop scraping the given terms; their history is kept",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTermsDeactivate,
}

func init() {
	termsCmd.AddCommand(termsAddCmd, termsListCmd, termsDeactivateCmd)
	rootCmd.AddCommand(termsCmd)
}

func cleanTerms(args []string) ([]string, error) {
	terms := make([]string, 0, len(args))
	for _, arg := range args {
		term := strings.TrimSpace(arg)
		if term == "" {
			return nil, &types.ValidationError{Field: "search_term", Message: "must not be empty"}
		}
		if len(term) > 200 {
			return nil, &types.ValidationError{Field: "search_term", Message: "must be at most 200 characters"}
		}
		terms = append(terms, term)
	}
	return terms, nil
}

func setTermsActive(cmd *cobra.Command, args []string, active bool) error {
	terms, err := cleanTerms(args)
	if err != nil {
		return err
	}
	st, err := openStore(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	for _, term := range terms {
		if !active {
			existing, err := st.GetTerm(cmd.Context(), term)
			if err != nil {
				return types.NewStorageFailure("get term", err)
			}
			if existing == nil {
				return &types.ValidationError{Field: "search_term", Message: fmt.Sprintf("unknown term %q", term)}
			}
		}
		if err := st.UpsertTerm(cmd.Context(), term, active); err != nil {
			return types.NewStorageFailure("upsert term", err)
		}
		logger.Info("search term updated", "search_term", term, "active", active)
	}
	return nil
}

func runTermsAdd(cmd *cobra.Command, args []string) error {
	return setTermsActive(cmd, args, true)
}

func runTermsDeactivate(cmd *cobra.Command, args []string) error {
	return setTermsActive(cmd, args, false)
}

func runTermsList(cmd *cobra.Command, _ []string) error {
	st, err := openStore(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	terms, err := st.ListTerms(cmd.Context())
	if err != nil {
		return types.NewStorageFailure("list terms", err)
	}
	observability.NewPrinter(cmd.OutOrStdout()).PrintTerms(terms, time.Now(), cfg.RefreshInterval)
	return nil
}
