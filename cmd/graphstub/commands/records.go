package commands

import (
	"fmt"
	"strings"

	"github.com/dyluth/nodegraph/internal/config"
	"github.com/dyluth/nodegraph/internal/printer"
	"github.com/dyluth/nodegraph/internal/recordview"
	"github.com/dyluth/nodegraph/pkg/records"
	"github.com/spf13/cobra"
)

var (
	recordsConfig    string
	recordsFormat    string
	recordsMinNumber int64
	recordsMaxNumber int64
	recordsWhere     []string
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect the active_record store",
	Long: `Inspect the Redis store that serves the active_record layer, using the
records section of a client configuration.

Examples:
  graphstub records list person --config nodegraph.yml
  graphstub records list person --where team=eng* --output jsonl
  graphstub records get person-12 --config nodegraph.yml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var recordsListCmd = &cobra.Command{
	Use:   "list TYPE",
	Short: "List the records of a node type",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordsList,
}

var recordsGetCmd = &cobra.Command{
	Use:   "get NODE_ID",
	Short: "Show the record behind a node id",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordsGet,
}

func init() {
	recordsCmd.PersistentFlags().StringVarP(&recordsConfig, "config", "c", "nodegraph.yml", "Client configuration file")
	recordsListCmd.Flags().StringVarP(&recordsFormat, "output", "o", "default", "Output format: default or jsonl")
	recordsListCmd.Flags().Int64Var(&recordsMinNumber, "min", 0, "Lowest record number to show")
	recordsListCmd.Flags().Int64Var(&recordsMaxNumber, "max", 0, "Highest record number to show")
	recordsListCmd.Flags().StringSliceVar(&recordsWhere, "where", nil, "field=glob filter (repeatable)")

	recordsCmd.AddCommand(recordsListCmd)
	recordsCmd.AddCommand(recordsGetCmd)
	rootCmd.AddCommand(recordsCmd)
}

func openRecordStore(cmd *cobra.Command) (*records.Store, error) {
	cfg, err := config.Load(recordsConfig)
	if err != nil {
		return nil, printer.ErrorWithContext("Invalid client configuration", err.Error(), map[string]string{"File": recordsConfig}, nil)
	}
	if cfg.Records == nil {
		return nil, printer.Error(
			"No record store configured",
			fmt.Sprintf("%s has no records section.", recordsConfig),
			[]string{"Add records.redis_url and records.namespace to the configuration"},
		)
	}

	store, err := records.NewStoreFromURL(cfg.Records.RedisURL, cfg.Records.Namespace)
	if err != nil {
		return nil, printer.Error("Cannot open record store", err.Error(), nil)
	}
	if err := store.Ping(cmd.Context()); err != nil {
		store.Close()
		return nil, printer.ErrorWithContext(
			"Record store unreachable",
			err.Error(),
			map[string]string{"Redis": cfg.Records.RedisURL},
			nil,
		)
	}
	return store, nil
}

func runRecordsList(cmd *cobra.Command, args []string) error {
	format := recordview.OutputFormat(recordsFormat)
	if format != recordview.OutputFormatDefault && format != recordview.OutputFormatJSONL {
		return printer.Error("Invalid output format", fmt.Sprintf("Unknown format '%s'.", recordsFormat), []string{"Use --output default or --output jsonl"})
	}

	filters := &recordview.FilterCriteria{MinNumber: recordsMinNumber, MaxNumber: recordsMaxNumber}
	for _, w := range recordsWhere {
		name, glob, ok := strings.Cut(w, "=")
		if !ok || name == "" {
			return printer.Error("Invalid filter", fmt.Sprintf("'%s' is not of the form field=glob.", w), nil)
		}
		if filters.Fields == nil {
			filters.Fields = make(map[string]string)
		}
		filters.Fields[name] = glob
	}

	store, err := openRecordStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := recordview.ListRecords(cmd.Context(), store, args[0], format, filters, cmd.OutOrStdout()); err != nil {
		return printer.Error("Cannot list records", err.Error(), nil)
	}
	return nil
}

func runRecordsGet(cmd *cobra.Command, args []string) error {
	store, err := openRecordStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := recordview.GetRecord(cmd.Context(), store, args[0], cmd.OutOrStdout()); err != nil {
		if recordview.IsNotFound(err) {
			return printer.Error("Record not found", err.Error(), nil)
		}
		return printer.Error("Cannot read record", err.Error(), nil)
	}
	return nil
}
