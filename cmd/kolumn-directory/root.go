package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/schemabounce/kolumn/directory/config"
	"github.com/schemabounce/kolumn/directory/connmgr"
	"github.com/schemabounce/kolumn/directory/core"
	"github.com/schemabounce/kolumn/directory/handlers"
	"github.com/schemabounce/kolumn/directory/runtimehelpers/telemetry"
)

var (
	// Global state set during PersistentPreRunE
	cfg     *config.Config
	manager *connmgr.Manager
	service *handlers.Service

	// pluginLogger is set in plugin mode; go-plugin forwards its JSON lines to the host
	pluginLogger hclog.Logger

	// Persistent flags
	cfgFile  string
	serverID int
	verbose  int
)

var rootCmd = &cobra.Command{
	Use:   "kolumn-directory",
	Short: "Manage PostgreSQL tablespaces",
	Long: `kolumn-directory - PostgreSQL tablespace management

Lists, inspects, creates, alters and drops tablespaces, previews the SQL of
a change, and finds the objects stored in a tablespace across all databases.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "version" {
			return nil
		}

		if outputFormat != outputJSON && outputFormat != outputTable {
			return &core.ValidationError{Field: "output", Value: outputFormat, Message: "must be json or table"}
		}

		var err error
		if cfg, _, err = config.Load(cfgFile); err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}

		opts := cfg.Log.TelemetryOptions()
		if verbose > 0 {
			opts.Level = telemetry.LevelDebug
		}
		telemetry.Configure(opts)
		if cmd == serveCmd {
			usePluginLogger(opts.Level)
		}

		if manager, err = cfg.NewManager(telemetry.NewLogger("connmgr")); err != nil {
			return fmt.Errorf("configuring servers: %w", err)
		}
		service, err = handlers.NewService(handlers.Options{
			Connector:       manager,
			TemplateVersion: cfg.Templates.Version,
			Logger:          telemetry.NewLogger("handlers"),
		})
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if manager == nil {
			return nil
		}
		return manager.Close()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

const (
	groupRead   = "read"
	groupWrite  = "write"
	groupPlugin = "plugin"
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./"+config.FileName+")")
	rootCmd.PersistentFlags().IntVar(&serverID, "server", 1, "id of the configured server")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", outputJSON, "output format of read commands: json or table")
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "increase verbosity")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupRead, Title: "Inspect:"},
		&cobra.Group{ID: groupWrite, Title: "Change:"},
		&cobra.Group{ID: groupPlugin, Title: "Plugin:"},
	)

	for _, c := range []*cobra.Command{listCmd, nodesCmd, nodeCmd, propertiesCmd, sqlCmd, msqlCmd, statsCmd, dependenciesCmd, dependentsCmd} {
		c.GroupID = groupRead
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{createCmd, updateCmd, deleteCmd} {
		c.GroupID = groupWrite
		rootCmd.AddCommand(c)
	}
	serveCmd.GroupID = groupPlugin
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// usePluginLogger routes every component logger through one JSON hclog
// logger on stderr.
func usePluginLogger(level telemetry.Level) {
	if level == "" {
		level = telemetry.LevelInfo
	}
	pluginLogger = hclog.New(&hclog.LoggerOptions{
		Name:       "kolumn-directory",
		Level:      hclog.LevelFromString(string(level)),
		Output:     os.Stderr,
		JSONFormat: true,
	})
	telemetry.SetLoggerFactory(telemetry.FactoryFunc(func(component string) telemetry.Logger {
		return telemetry.NewFromHCLog(pluginLogger.Named(component))
	}))
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps failures to distinct exit codes.
func exitCode(err error) int {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return 3
	case errors.Is(err, core.ErrValidation):
		return 2
	case errors.Is(err, core.ErrPrecondition), errors.Is(err, core.ErrConnectionFailure):
		return 4
	default:
		return 1
	}
}

func parseOID(arg string) (int64, error) {
	oid, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || oid <= 0 {
		return 0, &core.ValidationError{Field: "oid", Value: arg, Message: "must be a positive object id"}
	}
	return oid, nil
}

// writeResponse prints the response envelope as indented JSON and returns
// err so the command fails.
func writeResponse(w io.Writer, data interface{}, err error) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(handlers.Respond(data, err)); encErr != nil {
		return encErr
	}
	return err
}
