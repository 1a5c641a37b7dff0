package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nicktill/wavetrend/pkg/export"
	"github.com/nicktill/wavetrend/pkg/synth"
	"github.com/nicktill/wavetrend/pkg/waveform"
)

var importSource string

var importCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Restore a record backup into the configured store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		res, err := export.NewImporter(store).ImportFromJSON(cmd.Context(), f, importSource)
		if err != nil {
			return err
		}
		for _, e := range res.Errors {
			log.WithField("source", res.SourceID).Warn(e)
		}
		log.WithFields(logrus.Fields{
			"source":  res.SourceID,
			"records": res.RecordsImported,
			"batches": res.BatchesWritten,
			"range":   res.TimeRange,
		}).Info("import finished")
		return nil
	},
}

var synthOpts = synth.Defaults(1440)

var synthCmd = &cobra.Command{
	Use:   "synth <source>",
	Short: "Write synthetic three-phase records into the configured store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		layout, err := waveform.ParseLayout(cfg.Pipeline.Layout)
		if err != nil {
			return err
		}
		opts := synthOpts
		opts.Layout = layout
		if opts.Start == 0 {
			opts.Start = time.Now().Add(-time.Duration(opts.Count) * time.Duration(opts.Interval) * time.Millisecond).UnixMilli()
		}

		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		recs := synth.Generate(opts)
		if err := store.Put(cmd.Context(), args[0], recs); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"source": args[0], "records": len(recs), "layout": layout}).Info("synthetic records written")
		return nil
	},
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the sources of the configured store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		infos, err := store.ListSources(cmd.Context())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SOURCE\tRECORDS\tOLDEST\tNEWEST")
		for _, info := range infos {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", info.ID, info.Count,
				time.UnixMilli(info.Oldest).UTC().Format(time.RFC3339),
				time.UnixMilli(info.Newest).UTC().Format(time.RFC3339))
		}
		return tw.Flush()
	},
}

func init() {
	importCmd.Flags().StringVarP(&importSource, "source", "s", "", "target source (default: the source named in the file)")

	synthCmd.Flags().IntVarP(&synthOpts.Count, "count", "n", synthOpts.Count, "number of records")
	synthCmd.Flags().Int64Var(&synthOpts.Start, "start", 0, "first timestamp in ms (default: count intervals before now)")
	synthCmd.Flags().Int64Var(&synthOpts.Interval, "interval", synthOpts.Interval, "record interval in ms")
	synthCmd.Flags().IntVar(&synthOpts.Channels, "channels", synthOpts.Channels, "active channels (1-6)")
	synthCmd.Flags().IntVar(&synthOpts.Samples, "samples", synthOpts.Samples, "samples per record")
	synthCmd.Flags().Float64Var(&synthOpts.Noise, "noise", 0, "relative noise amplitude")
	synthCmd.Flags().IntVar(&synthOpts.EmptyEvery, "empty-every", 0, "make every Nth record empty")
	synthCmd.Flags().IntVar(&synthOpts.GapEvery, "gap-every", 0, "insert a gap before every Nth record")
	synthCmd.Flags().Int64Var(&synthOpts.GapDuration, "gap", 30*60*1000, "gap length in ms")
	synthCmd.Flags().Int64Var(&synthOpts.Seed, "seed", 1, "noise seed")
}
