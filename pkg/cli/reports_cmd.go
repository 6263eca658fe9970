package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-insights/pkg/analytics"
	"github.com/ekaya-inc/ekaya-insights/pkg/queries"
	"github.com/ekaya-inc/ekaya-insights/pkg/requestctx"
	"github.com/ekaya-inc/ekaya-insights/pkg/services"
	"github.com/ekaya-inc/ekaya-insights/pkg/sql"
)

func newReportsCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Inspect and render the report catalog without a backend",
	}
	cmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")

	cmd.AddCommand(newReportsListCmd(&output))
	cmd.AddCommand(newReportsRenderCmd(&output))

	return cmd
}

func newReportsListCmd(output *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog, err := queries.Load()
			if err != nil {
				return fmt.Errorf("failed to load report catalog: %w", err)
			}

			reports := catalog.List()
			if *output == "json" {
				return printJSON(cmd.OutOrStdout(), reports)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "NAME\tDIALECT\tPARAMS\tDESCRIPTION")
			for _, t := range reports {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Name, t.Dialect, paramSummary(t), t.Description)
			}
			return tw.Flush()
		},
	}
}

func newReportsRenderCmd(output *string) *cobra.Command {
	var (
		params         []string
		timezone       string
		filterInternal bool
		filterFree     bool
		lenient        bool
	)

	cmd := &cobra.Command{
		Use:   "render NAME",
		Short: "Print the query a report would run",
		Long: "Render a report with the given parameters and print the final query " +
			"exactly as it would be sent to PostgreSQL or the analytics service.",
		Example: "  ekaya-insights reports render signups_by_day --param since=2024-01-01 --tz Europe/Berlin",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseParams(params)
			if err != nil {
				return err
			}
			if !requestctx.IsAllowedTimezone(timezone) {
				return fmt.Errorf("unsupported timezone %q", timezone)
			}

			var internal, free *bool
			if cmd.Flags().Changed("filter-internal") {
				internal = requestctx.Bool(filterInternal)
			}
			if cmd.Flags().Changed("filter-free") {
				free = requestctx.Bool(filterFree)
			}
			ctx := requestctx.WithScope(cmd.Context(), requestctx.NewScope(timezone, internal, free))

			svc, err := newOfflineReportService(!lenient)
			if err != nil {
				return err
			}

			rendered, err := svc.Render(ctx, args[0], values)
			if err != nil {
				return err
			}

			if *output == "json" {
				return printJSON(cmd.OutOrStdout(), rendered)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered.Query)
			return err
		},
	}

	cmd.Flags().StringArrayVar(&params, "param", nil, "Report parameter as key=value (repeatable)")
	cmd.Flags().StringVar(&timezone, "tz", requestctx.DefaultTimezone, "Timezone for date bucketing")
	cmd.Flags().BoolVar(&filterInternal, "filter-internal", true, "Exclude internal users")
	cmd.Flags().BoolVar(&filterFree, "filter-free", true, "Exclude free email domains")
	cmd.Flags().BoolVar(&lenient, "lenient", false, "Leave unresolved placeholders in place instead of failing")

	return cmd
}

// newOfflineReportService renders reports with no database or analytics backend.
func newOfflineReportService(strict bool) (services.ReportService, error) {
	catalog, err := queries.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load report catalog: %w", err)
	}

	logger := zap.NewNop()
	cfg := sql.RendererConfig{Strict: strict}
	return services.NewReportService(
		catalog,
		sql.NewRenderer(cfg, logger),
		analytics.NewRenderer(cfg, logger),
		nil,
		nil,
		nil,
		logger,
	), nil
}

func parseParams(raw []string) (map[string]any, error) {
	params := make(map[string]any, len(raw))
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid --param %q: expected key=value", kv)
		}
		params[strings.TrimSpace(key)] = value
	}
	return params, nil
}

func paramSummary(t *queries.Template) string {
	if len(t.Params) == 0 {
		return "-"
	}
	names := make([]string, 0, len(t.Params))
	for name, p := range t.Params {
		if p.Required {
			name += "*"
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return strings.Join(names, ",")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
