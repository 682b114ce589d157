package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/dyluth/nodegraph/internal/config"
	"github.com/dyluth/nodegraph/internal/metrics"
	"github.com/dyluth/nodegraph/internal/printer"
	"github.com/dyluth/nodegraph/pkg/nodegraph"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var (
	probeConfig string
	probeBulk   bool
)

var probeCmd = &cobra.Command{
	Use:   "probe PATH...",
	Short: "Read paths through a configured client",
	Long: `Read one or more paths using the routing, fallback and retry settings of a
client configuration, then print the transport metrics collected.

With --bulk every path is read in a single bulk scope.

Examples:
  graphstub probe --config nodegraph.yml /people
  graphstub probe --config nodegraph.yml --bulk /person-1/data/profile /person-2/data/profile`,
	Args: cobra.MinimumNArgs(1),
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().StringVarP(&probeConfig, "config", "c", "nodegraph.yml", "Client configuration file")
	probeCmd.Flags().BoolVar(&probeBulk, "bulk", false, "Read all paths in one bulk scope")
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(probeConfig)
	if err != nil {
		return printer.ErrorWithContext("Invalid client configuration", err.Error(), map[string]string{"File": probeConfig}, nil)
	}

	registry := prometheus.NewRegistry()
	collector, err := metrics.NewCollector(registry, "")
	if err != nil {
		return printer.Error("Cannot set up metrics", err.Error(), nil)
	}
	client, closeFn, err := cfg.NewClient(nodegraph.WithHooks(collector))
	if err != nil {
		return printer.Error("Cannot create client", err.Error(), nil)
	}
	defer closeFn()

	results, err := probe(cmd.Context(), client, args, probeBulk)
	if err != nil {
		return probeError(err)
	}
	for i, path := range args {
		encoded, _ := json.MarshalIndent(results[i], "", "  ")
		printer.Step("%s\n", path)
		printer.Info("%s\n", encoded)
	}

	return printMetrics(registry)
}

func probe(ctx context.Context, client *nodegraph.Client, paths []string, bulk bool) ([]any, error) {
	if bulk {
		return client.BulkRead(ctx, nil, func(ctx context.Context) error {
			for _, path := range paths {
				if _, err := client.ReadGraph(ctx, path, nil); err != nil {
					return err
				}
			}
			return nil
		})
	}

	results := make([]any, len(paths))
	for i, path := range paths {
		value, err := client.ReadGraph(ctx, path, nil)
		if err != nil {
			return nil, err
		}
		results[i] = value
	}
	return results, nil
}

func probeError(err error) error {
	var gerr *nodegraph.Error
	if !errors.As(err, &gerr) {
		return printer.Error("Probe failed", err.Error(), nil)
	}
	details := map[string]string{
		"Kind": gerr.Kind.String(),
		"URL":  gerr.Cause.URL,
	}
	if gerr.StatusCode != 0 {
		details["Status"] = fmt.Sprintf("%d", gerr.StatusCode)
	}
	if gerr.Cause.Body != nil {
		body, _ := json.Marshal(gerr.Cause.Body)
		details["Body"] = string(body)
	}
	return printer.ErrorWithContext("Probe failed", gerr.Message, details, nil)
}

func printMetrics(registry *prometheus.Registry) error {
	families, err := registry.Gather()
	if err != nil {
		return printer.Error("Cannot gather metrics", err.Error(), nil)
	}

	values := make(map[string]string)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := mf.GetName()
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			sort.Strings(labels)
			if len(labels) > 0 {
				name += fmt.Sprintf("%v", labels)
			}
			switch {
			case m.GetCounter() != nil:
				values[name] = fmt.Sprintf("%g", m.GetCounter().GetValue())
			case m.GetHistogram() != nil:
				values[name] = fmt.Sprintf("count=%d sum=%g", m.GetHistogram().GetSampleCount(), m.GetHistogram().GetSampleSum())
			}
		}
	}
	printer.Step("metrics\n")
	printer.KeyValues(values)
	return nil
}
