package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newSearchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <server> <tool>",
		Short: "Print a tool's input and output schema, like search_tool",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("output")
			format, err := checkOutput(format, outputJSON, outputYAML)
			if err != nil {
				return err
			}
			gw, _, err := a.openGateway(cmd.Context())
			if err != nil {
				return err
			}
			res, err := gw.Search(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return writeStructured(cmd.OutOrStdout(), format, res)
		},
	}
	cmd.Flags().StringP("output", "o", outputJSON, "Output format: json | yaml")
	return cmd
}

func newExecCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec <server> <tool>",
		Short: "Run a tool through the gateway, like execute_tool",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("output")
			format, err := checkOutput(format, outputJSON, outputYAML)
			if err != nil {
				return err
			}
			rawArgs, _ := cmd.Flags().GetString("args")
			toolArgs, err := parseToolArgs(rawArgs)
			if err != nil {
				return err
			}
			gw, _, err := a.openGateway(cmd.Context())
			if err != nil {
				return err
			}
			res, err := gw.Execute(cmd.Context(), args[0], args[1], toolArgs)
			if err != nil {
				return err
			}
			return writeStructured(cmd.OutOrStdout(), format, res)
		},
	}
	cmd.Flags().String("args", "", `Tool arguments as a JSON object, e.g. '{"path":"/tmp"}'`)
	cmd.Flags().StringP("output", "o", outputJSON, "Output format: json | yaml")
	return cmd
}

func parseToolArgs(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("invalid --args: must be a JSON object: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
