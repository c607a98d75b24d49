package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/cin7sync/internal/config"
	"github.com/JonMunkholm/cin7sync/internal/csvparse"
	"github.com/JonMunkholm/cin7sync/internal/jobs"
	"github.com/JonMunkholm/cin7sync/internal/logging"
	"github.com/JonMunkholm/cin7sync/internal/store"
)

// app holds state shared by every subcommand.
type app struct {
	settingsFile string
	logLevel     string
	logFormat    string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "cin7sync",
		Short: "Submit CSV and Excel sales orders to Cin7",
		Long: `cin7sync reads order exports (CSV or XLSX), maps their columns onto Cin7
sale fields, validates customers and products against the live catalog and
creates a Sale plus Sale Order for each order.

Credentials come from CIN7_ACCOUNT_ID and CIN7_APPLICATION_KEY (a .env file
in the working directory is read if present). When DATABASE_URL is set,
submission results are persisted.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().StringVar(&a.settingsFile, "config", "", "YAML client settings file overlaid on the environment defaults")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error (default from LOG_LEVEL)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format: text or json (default from LOG_FORMAT)")

	root.AddCommand(
		a.parseCmd(),
		a.validateCmd(),
		a.submitCmd(),
		a.pingCmd(),
	)
	return root
}

// setup loads .env, the environment config and the optional settings file,
// then sets up logging on stderr.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.settingsFile != "" {
		settings, err := config.LoadSettingsFile(a.settingsFile, cfg.Settings)
		if err != nil {
			return err
		}
		cfg.Settings = settings
	}

	level, format := cfg.Logging.Level, cfg.Logging.Format
	if a.logLevel != "" {
		level = a.logLevel
	}
	if a.logFormat != "" {
		format = a.logFormat
	}

	a.cfg = cfg
	a.logger = logging.SetupWriter(cmd.ErrOrStderr(), level, format)
	return nil
}

// openStore connects to Postgres when DATABASE_URL is set and falls back to
// an in-memory store otherwise. The returned func releases the connection.
func (a *app) openStore(ctx context.Context) (store.Store, func(), error) {
	if !a.cfg.Database.Enabled() {
		a.logger.Debug("DATABASE_URL not set, results are kept in memory")
		return store.NewMemory(), func() {}, nil
	}

	poolConfig, err := pgxpool.ParseConfig(a.cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(a.cfg.Database.MaxConns)
	poolConfig.MinConns = int32(a.cfg.Database.MinConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	return store.NewPostgres(pool), pool.Close, nil
}

// service builds a job service over st using the loaded config.
func (a *app) service(st store.Store) *jobs.Service {
	return jobs.NewService(st, a.cfg.Cin7, a.cfg.Settings, a.cfg.Jobs,
		jobs.WithLogger(a.logger),
	)
}

// readFile parses the order file at path. Fatal parse errors are returned;
// per-file warnings are logged.
func (a *app) readFile(path string) (csvparse.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return csvparse.Result{}, err
	}
	res := csvparse.Parse(data, path)
	if len(res.Errors) > 0 && len(res.Rows) == 0 {
		return res, fmt.Errorf("%s: %s", path, res.Errors[0])
	}
	for _, e := range res.Errors {
		a.logger.Warn("parse warning", "file", path, "error", e)
	}
	if len(res.Skipped) > 0 {
		a.logger.Info("skipped incomplete rows", "file", path, "rows", res.Skipped)
	}
	return res, nil
}

// mapping loads the --mapping file, or suggests one from the detected
// columns when no file is given.
func (a *app) mapping(path string, rows []csvparse.ParsedRow) (csvparse.Mapping, error) {
	if path == "" {
		m := csvparse.SuggestMapping(csvparse.DetectColumns(rows))
		a.logger.Info("no mapping file given, using detected columns", "fields", len(m))
		return m, nil
	}
	raw, err := config.LoadMappingFile(path)
	if err != nil {
		return nil, err
	}
	return csvparse.NewMapping(raw)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
