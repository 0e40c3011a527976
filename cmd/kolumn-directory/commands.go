package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	directory "github.com/schemabounce/kolumn/directory"
	"github.com/schemabounce/kolumn/directory/core"
	"github.com/schemabounce/kolumn/directory/rpc"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tablespaces with their properties",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := service.List(cmd.Context(), serverID)
		return render(cmd, data, err)
	},
}

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List tablespaces as browser nodes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := service.Nodes(cmd.Context(), serverID)
		return render(cmd, data, err)
	},
}

var nodeCmd = &cobra.Command{
	Use:   "node <oid>",
	Short: "Show the browser node of a tablespace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		oid, err := parseOID(args[0])
		if err != nil {
			return err
		}
		data, err := service.Node(cmd.Context(), serverID, oid)
		return render(cmd, data, err)
	},
}

var propertiesCmd = &cobra.Command{
	Use:   "properties <oid>",
	Short: "Show the properties of a tablespace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		oid, err := parseOID(args[0])
		if err != nil {
			return err
		}
		data, err := service.Properties(cmd.Context(), serverID, oid)
		return render(cmd, data, err)
	},
}

var sqlCmd = &cobra.Command{
	Use:   "sql <oid>",
	Short: "Print the DDL that recreates a tablespace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		oid, err := parseOID(args[0])
		if err != nil {
			return err
		}
		sql, err := service.SQL(cmd.Context(), serverID, oid)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), sql)
		return nil
	},
}

var msqlSet []string

var msqlCmd = &cobra.Command{
	Use:   "msql [oid]",
	Short: "Preview the SQL of a create (no oid) or an update",
	Long: `Preview the SQL of a create or an update without running it.

Values are given as --set key=value and decoded as JSON where they parse,
for example:

  kolumn-directory msql 16400 --set 'spcacl={"added":[{"grantee":"alice","privs":["C"]}]}'`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var oid int64
		if len(args) == 1 {
			var err error
			if oid, err = parseOID(args[0]); err != nil {
				return err
			}
		}
		values := make(map[string]string, len(msqlSet))
		for _, kv := range msqlSet {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				return &core.ValidationError{Field: "set", Value: kv, Message: "expected key=value"}
			}
			values[k] = v
		}
		sql, err := service.ModifiedSQL(cmd.Context(), serverID, oid, values)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), sql)
		return nil
	},
}

var payloadFile string

func readPayload() ([]byte, error) {
	if payloadFile == "" {
		return nil, &core.ValidationError{Field: "payload", Message: "--payload is required"}
	}
	if payloadFile == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(payloadFile)
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a tablespace from a JSON payload",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := readPayload()
		if err != nil {
			return err
		}
		data, err := service.Create(cmd.Context(), serverID, body)
		reportStatus(cmd.ErrOrStderr(), data.Label, "created", err)
		return writeResponse(cmd.OutOrStdout(), data, err)
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <oid>",
	Short: "Alter a tablespace from a JSON payload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		oid, err := parseOID(args[0])
		if err != nil {
			return err
		}
		body, err := readPayload()
		if err != nil {
			return err
		}
		data, err := service.Update(cmd.Context(), serverID, oid, body)
		reportStatus(cmd.ErrOrStderr(), args[0], "updated", err)
		return writeResponse(cmd.OutOrStdout(), data, err)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <oid>...",
	Short: "Drop tablespaces, stopping at the first failure",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make([]int64, 0, len(args))
		for _, arg := range args {
			oid, err := parseOID(arg)
			if err != nil {
				return err
			}
			ids = append(ids, oid)
		}
		err := service.Delete(cmd.Context(), serverID, ids...)
		reportStatus(cmd.ErrOrStderr(), strings.Join(args, " "), "dropped", err)
		if err != nil {
			return writeResponse(cmd.OutOrStdout(), nil, err)
		}
		return writeResponse(cmd.OutOrStdout(), "Directory dropped", nil)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats [oid]",
	Short: "Show tablespace sizes",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var oid int64
		if len(args) == 1 {
			var err error
			if oid, err = parseOID(args[0]); err != nil {
				return err
			}
		}
		data, err := service.Statistics(cmd.Context(), serverID, oid)
		return render(cmd, data, err)
	},
}

var dependenciesCmd = &cobra.Command{
	Use:   "dependencies <oid>",
	Short: "List the roles a tablespace depends on",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		oid, err := parseOID(args[0])
		if err != nil {
			return err
		}
		data, err := service.Dependencies(cmd.Context(), serverID, oid)
		return render(cmd, data, err)
	},
}

var dependentsCmd = &cobra.Command{
	Use:   "dependents <oid>",
	Short: "List the databases and objects stored in a tablespace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		oid, err := parseOID(args[0])
		if err != nil {
			return err
		}
		data, err := service.Dependents(cmd.Context(), serverID, oid)
		return render(cmd, data, err)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the operations as a Kolumn plugin",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rpc.Serve(&rpc.ServeConfig{
			Service: service,
			Logger:  pluginLogger,
			Debug:   verbose > 0,
		})
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		info := directory.GetInfo()
		fmt.Fprintf(cmd.OutOrStdout(), "kolumn-directory %s (protocol %d, %s)\n", info.Version, info.ProtocolVersion, info.GoVersion)
	},
}

func init() {
	msqlCmd.Flags().StringArrayVar(&msqlSet, "set", nil, "payload value as key=value (repeatable)")
	createCmd.Flags().StringVar(&payloadFile, "payload", "", "JSON payload file, - for stdin")
	updateCmd.Flags().StringVar(&payloadFile, "payload", "", "JSON payload file, - for stdin")
}
