package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	app "github.com/ahrav/analysis-armada/internal/app/analysis"
	domain "github.com/ahrav/analysis-armada/internal/domain/analysis"
)

func newServicesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "services",
		Short: "List and manage registered analysis services",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List every registered service and its record",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd, opts, func(a *application) error {
					return listServices(cmd, a.registry)
				})
			},
		},
		&cobra.Command{
			Use:   "show <service>",
			Short: "Show a service's definition and public configuration",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, opts, func(a *application) error {
					return showService(cmd, a.registry, args[0])
				})
			},
		},
		newToggleCmd(opts, "enable", "Enable a service", func(r *app.Registry, cmd *cobra.Command, name string) error {
			return r.SetEnabled(cmd.Context(), name, true)
		}),
		newToggleCmd(opts, "disable", "Disable a service", func(r *app.Registry, cmd *cobra.Command, name string) error {
			return r.SetEnabled(cmd.Context(), name, false)
		}),
		newTriageToggleCmd(opts),
		newConfigureCmd(opts),
	)
	return cmd
}

func newToggleCmd(opts *rootOptions, use, short string, fn func(*app.Registry, *cobra.Command, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <service>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *application) error {
				return fn(a.registry, cmd, args[0])
			})
		},
	}
}

func newTriageToggleCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-triage <service> <true|false>",
		Short: "Choose whether a service runs during triage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := strconv.ParseBool(args[1])
			if err != nil {
				return fmt.Errorf("invalid triage value %q: %w", args[1], err)
			}
			return withApp(cmd, opts, func(a *application) error {
				return a.registry.SetTriage(cmd.Context(), args[0], on)
			})
		},
	}
}

func newConfigureCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "configure <service> key=value...",
		Short: "Update a service's stored configuration",
		Long: `Update a service's stored configuration. Values are parsed by the
option's type: list options split on newlines or commas, select options take
1-based choice indexes.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("%s requires a service and at least one key=value", cmd.CommandPath())
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(a *application) error {
				return a.registry.UpdateConfig(cmd.Context(), args[0], values)
			})
		},
	}
}

func listServices(cmd *cobra.Command, registry *app.Registry) error {
	records, err := registry.Records(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tVERSION\tSTATUS\tENABLED\tTRIAGE\tDESCRIPTION")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\t%s\n",
			rec.Name, rec.Version, rec.Status, registry.IsEnabled(rec), rec.RunOnTriage, rec.Description)
	}
	return w.Flush()
}

func showService(cmd *cobra.Command, registry *app.Registry, name string) error {
	svc, err := registry.Service(name)
	if err != nil {
		return err
	}
	rec, err := registry.Record(cmd.Context(), name)
	if err != nil {
		return err
	}
	def := svc.Definition()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n%s\n\n", def.Name, def.Version, def.Description)
	fmt.Fprintf(out, "supported types: %s\n", strings.Join(def.SupportedTypes, ", "))
	if len(def.RequiredFields) > 0 {
		fmt.Fprintf(out, "required fields: %s\n", strings.Join(def.RequiredFields, ", "))
	}
	fmt.Fprintf(out, "rerunnable: %t  distributed: %t  status: %s\n\n", def.Rerunnable, def.Distributed, rec.Status)

	return writeOptions(out, def, def.PublicConfig(rec.Config))
}

// writeOptions prints every public option with its printable stored value.
func writeOptions(out io.Writer, def domain.Definition, public domain.Config) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OPTION\tTYPE\tVALUE\tCHOICES")
	for _, opt := range def.DefaultConfig {
		v, ok := public[opt.Name()]
		if !ok {
			continue
		}
		printable, err := opt.FormatValue(v, true)
		if err != nil {
			printable = v
		}
		var choices []string
		for i, c := range opt.EnumerateChoices() {
			choices = append(choices, fmt.Sprintf("%d=%s", i, c))
		}
		fmt.Fprintf(w, "%s\t%s\t%v\t%s\n", opt.Name(), opt.Type(), printable, strings.Join(choices, " "))
	}
	return w.Flush()
}

// parseAssignments turns key=value arguments into raw config values. Comma
// separated values become lists so list and multi_select options can be set
// from one argument.
func parseAssignments(args []string) (map[string]any, error) {
	values := make(map[string]any, len(args))
	for _, arg := range args {
		key, val, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid assignment %q, want key=value", arg)
		}
		if strings.Contains(val, ",") {
			parts := strings.Split(val, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			values[key] = parts
			continue
		}
		values[key] = val
	}
	return values, nil
}
