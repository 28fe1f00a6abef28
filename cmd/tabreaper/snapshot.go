package main

import (
	"github.com/spf13/cobra"

	"github.com/srodi/tabreaper/pkg/collector/memory"
	"github.com/srodi/tabreaper/pkg/collector/tabs"
	"github.com/srodi/tabreaper/pkg/config"
	"github.com/srodi/tabreaper/pkg/report"
	"github.com/srodi/tabreaper/pkg/snapshot"
)

func newSnapshotCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Correlate tabs with renderers once and print the result",
		Long:  "Builds a single snapshot from the tab log and the memory source. Nothing is killed and no report file is written.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			doc, err := takeSnapshot(cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				data, err := report.Encode(doc)
				if err != nil {
					return err
				}
				_, err = out.Write(append(data, '\n'))
				return err
			}
			return report.RenderTable(out, doc)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report document instead of a table")
	return cmd
}

func takeSnapshot(cfg config.Config) (report.Document, error) {
	tabList, err := tabs.LogFile(cfg.Sources.TabLog).Tabs()
	if err != nil {
		return report.Document{}, err
	}
	mem, closeMem, err := openMemorySource(cfg.Sources)
	if err != nil {
		return report.Document{}, err
	}
	defer closeMem()
	samples, err := mem.Samples()
	if err != nil {
		return report.Document{}, err
	}
	snap := snapshot.Build(tabList, samples, memory.ProcFS(cfg.Sources.ProcRoot).Cmdline)
	return report.Build(snap, nil), nil
}
