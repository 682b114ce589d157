package commands

import (
	"fmt"
	"strings"

	"github.com/dyluth/nodegraph/internal/config"
	"github.com/dyluth/nodegraph/internal/printer"
	"github.com/dyluth/nodegraph/pkg/nodegraph"
	"github.com/spf13/cobra"
)

var checkConfigPaths []string

var checkConfigCmd = &cobra.Command{
	Use:   "check-config CONFIG",
	Short: "Validate a client configuration file",
	Long: `Validate a nodegraph client configuration file and show where paths route.

Examples:
  graphstub check-config nodegraph.yml
  graphstub check-config nodegraph.yml --path /person-1/data/profile --path /shard-3/x`,
	Args: cobra.ExactArgs(1),
	RunE: runCheckConfig,
}

func init() {
	checkConfigCmd.Flags().StringSliceVarP(&checkConfigPaths, "path", "p", nil, "Show the read and write host for this path (repeatable)")
	rootCmd.AddCommand(checkConfigCmd)
}

func runCheckConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(args[0])
	if err != nil {
		return printer.ErrorWithContext(
			"Invalid client configuration",
			err.Error(),
			map[string]string{"File": args[0]},
			nil,
		)
	}

	router, err := cfg.Router()
	if err != nil {
		return printer.Error("Invalid route", err.Error(), nil)
	}

	printer.Success("%s is valid\n", args[0])
	printer.KeyValues(summarize(cfg))

	for _, path := range checkConfigPaths {
		printer.Step("%s\n", path)
		printer.KeyValues(map[string]string{
			"read":  router.Resolve(nodegraph.OpRead, path),
			"write": router.Resolve(nodegraph.OpWrite, path),
		})
	}
	return nil
}

func summarize(cfg *config.ClientConfig) map[string]string {
	defaultHost := cfg.DefaultHost
	if defaultHost == "" {
		defaultHost = nodegraph.DefaultHost
	}
	summary := map[string]string{
		"default host": defaultHost,
		"routes":       fmt.Sprintf("%d", len(cfg.Routes)),
		"timeout":      cfg.Timeout.String(),
		"retry":        fmt.Sprintf("%d retries, %s-%s apart", *cfg.Retry.Limit, cfg.Retry.MinDelay, cfg.Retry.MaxDelay),
	}
	if cfg.Fallbacks != nil && len(cfg.Fallbacks.Read) > 0 {
		summary["read fallbacks"] = strings.Join(cfg.Fallbacks.Read, ", ")
	}
	if cfg.Records != nil {
		summary["records"] = cfg.Records.Namespace
	}
	return summary
}
