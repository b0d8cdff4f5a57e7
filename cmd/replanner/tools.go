package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mohammad-safakhou/replanner/config"
	"github.com/mohammad-safakhou/replanner/internal/capability"
	"github.com/mohammad-safakhou/replanner/internal/tools"
	"github.com/spf13/cobra"
)

func toolsCMD(cfgPath *string) *cobra.Command {
	var check bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tool catalogue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			cat, closeFn, err := tools.NewCatalogue(cfg.Tools, nil)
			if err != nil {
				return err
			}
			defer closeFn()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			header := "NAME\tCATEGORY\tENABLED\tPARAMETERS"
			if check {
				header += "\tHEALTH"
			}
			fmt.Fprintln(w, header)
			for d, t := range cat.Tools() {
				row := fmt.Sprintf("%s\t%s\t%t\t%s", d.Name, d.Category, d.Enabled, paramList(d))
				if check {
					row += "\t" + probe(cmd.Context(), t, timeout)
				}
				fmt.Fprintln(w, row)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "probe tool backends")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "per-probe timeout")
	return cmd
}

func paramList(d capability.Descriptor) string {
	if len(d.RequiredParameters) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(d.RequiredParameters))
	for _, p := range d.RequiredParameters {
		name := p.Name
		if !p.Required {
			name += "?"
		}
		parts = append(parts, name)
	}
	return strings.Join(parts, ",")
}

func probe(ctx context.Context, t capability.Tool, timeout time.Duration) string {
	hc, ok := t.(capability.HealthChecker)
	if !ok {
		return "n/a"
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := hc.CheckHealth(ctx); err != nil {
		return "down: " + err.Error()
	}
	return "ok"
}
