package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/shopcsv/internal/config"
	"github.com/JonMunkholm/shopcsv/internal/ingest"
	"github.com/JonMunkholm/shopcsv/internal/logging"
	"github.com/JonMunkholm/shopcsv/internal/shop"
	"github.com/JonMunkholm/shopcsv/internal/store/memory"
	"github.com/JonMunkholm/shopcsv/internal/store/postgres"
)

// app carries the root flags shared by every command.
type app struct {
	envFile string
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "shopctl",
		Short:         "Import and export shop products, orders and users",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file overlaid on the environment")

	root.AddCommand(
		a.newImportCmd(),
		a.newExportCmd(),
		a.newUsersCmd(),
		a.newMigrateCmd(),
	)
	return root
}

// open loads the configuration and connects to the database. Logs go to
// stderr so command output on stdout stays machine-readable.
func (a *app) open(ctx context.Context) (*postgres.Store, *config.Config, func(), error) {
	cfg, err := config.Load(a.envFile)
	if err != nil {
		return nil, nil, nil, withCode(exitUsage, err)
	}
	logging.SetupWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	store, pool, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, nil, nil, withCode(exitDB, err)
	}
	return store, cfg, pool.Close, nil
}

func (a *app) newImportCmd() *cobra.Command {
	var encoding string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a CSV file",
	}
	cmd.PersistentFlags().StringVar(&encoding, "encoding", "", "text encoding of the file (default utf-8)")

	products := &cobra.Command{
		Use:   "products <file>",
		Short: "Import products; nothing is written unless every row is valid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return withCode(exitUsage, err)
			}
			defer f.Close()

			var im *ingest.Importer
			if dryRun {
				logging.SetupWriter(cmd.ErrOrStderr(), "warn", "text")
				im = ingest.NewImporter(memory.New())
			} else {
				store, cfg, closeFn, err := a.open(cmd.Context())
				if err != nil {
					return err
				}
				defer closeFn()
				im = ingest.NewImporter(store, ingest.WithMaxFileSize(cfg.Upload.MaxFileSize))
			}

			res, err := im.ImportProducts(cmd.Context(), f, encoding)
			if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
				return perr
			}
			return importExit(err)
		},
	}
	products.Flags().BoolVar(&dryRun, "dry-run", false, "validate the file without a database")

	orders := &cobra.Command{
		Use:   "orders <file>",
		Short: "Import orders row by row; rows before a failure stay committed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return withCode(exitUsage, err)
			}
			defer f.Close()

			store, cfg, closeFn, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			im := ingest.NewImporter(store, ingest.WithMaxFileSize(cfg.Upload.MaxFileSize))
			res, err := im.ImportOrders(cmd.Context(), f, encoding)
			if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
				return perr
			}
			return importExit(err)
		},
	}

	cmd.AddCommand(products, orders)
	return cmd
}

// importExit classifies an import error: problems with the file exit with
// exitValidation, everything else with exitDB.
func importExit(err error) error {
	if err == nil {
		return nil
	}
	if ingest.IsClientError(err) {
		return withCode(exitValidation, err)
	}
	return withCode(exitDB, err)
}

func (a *app) newExportCmd() *cobra.Command {
	var opts shop.ListOptions
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export records",
	}

	products := &cobra.Command{
		Use:   "products",
		Short: "Write products as CSV accepted by import products",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, closeFn, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			products, err := store.ListProducts(cmd.Context(), opts)
			if errors.Is(err, shop.ErrInvalidOrdering) {
				return withCode(exitUsage, err)
			}
			if err != nil {
				return withCode(exitDB, err)
			}

			w := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return withCode(exitUsage, err)
				}
				defer f.Close()
				w = f
			}
			if err := ingest.WriteProductsCSV(w, products); err != nil {
				return err
			}
			return nil
		},
	}
	products.Flags().StringVar(&opts.Search, "search", "", "case-insensitive name or description filter")
	products.Flags().StringVar(&opts.Ordering, "ordering", "", "name, price or discount; prefix - for descending")
	products.Flags().StringVarP(&output, "output", "o", "", "file to write instead of stdout")

	cmd.AddCommand(products)
	return cmd
}

func (a *app) newUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage users referenced by order imports",
	}

	add := &cobra.Command{
		Use:   "add <username>...",
		Short: "Create users",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, closeFn, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			users := make([]shop.User, 0, len(args))
			for _, name := range args {
				u, err := store.CreateUser(cmd.Context(), name)
				if err != nil {
					return withCode(exitDB, fmt.Errorf("create user %q: %w", name, err))
				}
				users = append(users, u)
			}
			return printJSON(cmd.OutOrStdout(), users)
		},
	}

	cmd.AddCommand(add)
	return cmd
}

func (a *app) newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, closeFn, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			if err := store.Migrate(cmd.Context()); err != nil {
				return withCode(exitDB, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
