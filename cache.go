package main

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/leeineian/melody/proc"
	"github.com/leeineian/melody/sys"
	"github.com/spf13/cobra"
)

func newCacheCommand() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the audio cache without starting the bot",
	}

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show cached file count and size",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openCache()
			if err != nil {
				return err
			}
			size, n, err := store.Size()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d file(s), %s\n", store.Root(), n, sys.FormatBytes(size))
			return nil
		},
	})

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List cached files, oldest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openCache()
			if err != nil {
				return err
			}
			entries, err := store.Entries()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderCacheTable(entries, time.Now()))
			return nil
		},
	})

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete every cached audio file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openCache()
			if err != nil {
				return err
			}
			report, err := store.ClearAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d file(s), freed %s\n", report.Removed, sys.FormatBytes(report.Freed))
			return nil
		},
	})

	return cacheCmd
}

func renderCacheTable(entries []proc.CacheEntry, now time.Time) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"ID", "Size", "Age"})

	var total int64
	for _, e := range entries {
		total += e.Size
		tw.AppendRow(table.Row{e.ID, sys.FormatBytes(e.Size), sys.FormatUptime(now.Sub(e.ModTime))})
	}
	tw.AppendFooter(table.Row{fmt.Sprintf("%d file(s)", len(entries)), sys.FormatBytes(total), ""})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight, AlignFooter: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
	})
	return tw.Render()
}

func openCache() (*proc.CacheStore, error) {
	cfg, err := sys.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf(sys.MsgConfigFailedToLoad, err)
	}
	sys.InitLogger(true, false)
	store := proc.NewCacheStore(cfg.AudioCacheDir, nil)
	if err := store.EnsureRoot(); err != nil {
		return nil, err
	}
	return store, nil
}
