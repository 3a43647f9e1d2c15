package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ehr/docproc/internal/config"
	"github.com/ehr/docproc/internal/domain/documents"
	"github.com/ehr/docproc/internal/domain/templates"
	"github.com/ehr/docproc/internal/platform/db"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "docproc",
		Short:        "Clinical document categorization and template prefill service",
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(processCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the document processing API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, m *db.Migrator) error {
				version, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Database is at version %d.\n", version)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%-10s %-40s %s\n", "VERSION", "NAME", "STATUS")
				fmt.Fprintln(out, "---------- ---------------------------------------- ----------")
				for _, s := range statuses {
					status := "pending"
					if s.Applied {
						status = "applied"
					}
					fmt.Fprintf(out, "%-10d %-40s %s\n", s.Version, s.Name, status)
				}
				return nil
			})
		},
	})

	return cmd
}

func withMigrator(ctx context.Context, fn func(ctx context.Context, m *db.Migrator) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	m, err := db.NewMigrator(pool, logger)
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(ctx, m)
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load report templates from a YAML catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			catalog, err := templates.LoadCatalog(file)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var created int
			err = db.WithTx(ctx, a.pool, func(ctx context.Context) error {
				created, err = a.templates.Seed(ctx, catalog)
				return err
			})
			if err != nil {
				return fmt.Errorf("seed templates: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d template(s) from %s.\n", created, file)
			return nil
		},
	}
	cmd.Flags().String("file", "", "Path to the template catalog YAML")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func processCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Process a single document and print the resulting effects",
		RunE: func(cmd *cobra.Command, args []string) error {
			docID, _ := cmd.Flags().GetString("document-id")
			fileURL, _ := cmd.Flags().GetString("file-url")
			typesFile, _ := cmd.Flags().GetString("types")

			doc := documents.Document{ID: docID, ContentURL: fileURL}
			if typesFile != "" {
				types, err := documents.LoadTypes(typesFile)
				if err != nil {
					return err
				}
				doc.AvailableTypes = types
			}

			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			res, procErr := a.processor.Process(ctx, doc)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(map[string]interface{}{
				"run_id":  res.Run.ID,
				"status":  res.Run.Status,
				"effects": res.Envelopes(),
			}); err != nil {
				return err
			}
			return procErr
		},
	}
	cmd.Flags().String("document-id", "", "Document identifier")
	cmd.Flags().String("file-url", "", "URL the extraction API can fetch the document from")
	cmd.Flags().String("types", "", "YAML file of document types offered to the classifier")
	_ = cmd.MarkFlagRequired("document-id")
	_ = cmd.MarkFlagRequired("file-url")
	return cmd
}
