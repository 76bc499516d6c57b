package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"extrack/internal/cli"
	"extrack/internal/ledger"
	"extrack/internal/storage"
)

func newRootCommand() *cobra.Command {
	var dbPath, logLevel string

	root := &cobra.Command{
		Use:   "ledger-provision",
		Short: "Provision month tabs of the SQLite ledger",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	defaultDB := os.Getenv("SQLITE_DB_PATH")
	if defaultDB == "" {
		defaultDB = "./data/ledger.db"
	}
	root.PersistentFlags().StringVar(&dbPath, "db", defaultDB, "SQLite ledger path")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level")

	open := func() (*storage.SQLiteRepository, error) {
		return storage.NewSQLiteRepository(dbPath, cli.SetupLogger(logLevel))
	}

	root.AddCommand(newTabCommand(open), newListCommand(open), newJournalCommand(open))
	return root
}

type openFunc func() (*storage.SQLiteRepository, error)

func newTabCommand(open openFunc) *cobra.Command {
	var categories string
	var firstColumn string

	cmd := &cobra.Command{
		Use:   "tab MM/YYYY",
		Short: "Create a month tab or replace its header row",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tab := args[0]
			if _, _, err := ledger.ParseTabLabel(tab); err != nil {
				return err
			}
			headers, err := headerRow(firstColumn, categories)
			if err != nil {
				return err
			}

			repo, err := open()
			if err != nil {
				return err
			}
			defer repo.Close()

			if err := repo.ProvisionTab(cmd.Context(), tab, headers); err != nil {
				return fmt.Errorf("provision %s: %w", tab, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "provisioned %s with %d categories\n", tab, len(headers)-1)
			return nil
		},
	}

	cmd.Flags().StringVar(&categories, "categories", "", "comma separated category names (required)")
	_ = cmd.MarkFlagRequired("categories")
	cmd.Flags().StringVar(&firstColumn, "first-column", "Ngày", "label of the reserved day column")

	return cmd
}

// headerRow builds row 0 of a tab: the reserved column followed by the
// categories in the given order.
func headerRow(first, list string) ([]string, error) {
	headers := []string{strings.TrimSpace(first)}
	seen := make(map[string]bool)
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate category %q", name)
		}
		seen[name] = true
		headers = append(headers, name)
	}
	if len(headers) == 1 {
		return nil, fmt.Errorf("at least one category is required")
	}
	return headers, nil
}

func newListCommand(open openFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List provisioned tabs and their categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := open()
			if err != nil {
				return err
			}
			defer repo.Close()

			tabs, err := repo.Tabs(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, tab := range tabs {
				headers, err := repo.HeaderRow(cmd.Context(), tab)
				if err != nil {
					return err
				}
				var cats []string
				if len(headers) > 1 {
					cats = headers[1:]
				}
				fmt.Fprintf(out, "%s\t%s\n", tab, strings.Join(cats, ", "))
			}
			return nil
		},
	}
}

func newJournalCommand(open openFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "journal BATCH_ID",
		Short: "Show the entries recorded by one batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := open()
			if err != nil {
				return err
			}
			defer repo.Close()

			entries, err := repo.JournalEntries(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintf(out, "no entries for batch %s\n", args[0])
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(out, "%s!%s\t%s\t%d\t%s\t%s\n", e.Tab, e.A1, e.Date, e.Amount, e.Category, e.Description)
			}
			return nil
		},
	}
}
