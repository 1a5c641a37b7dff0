package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nicktill/wavetrend/pkg/downsample"
	"github.com/nicktill/wavetrend/pkg/export"
	"github.com/nicktill/wavetrend/pkg/pipeline"
	"github.com/nicktill/wavetrend/pkg/segment"
	"github.com/nicktill/wavetrend/pkg/server"
)

var (
	trendFormat string
	trendOut    string
	trendBucket string
)

var trendCmd = &cobra.Command{
	Use:   "trend <source>",
	Short: "Build the trend of one source and write it as JSON or CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTrend(cmd.Context(), args[0])
	},
}

func init() {
	trendCmd.Flags().StringVarP(&trendFormat, "format", "f", "csv", "output format (csv, json)")
	trendCmd.Flags().StringVarP(&trendOut, "out", "o", "-", "output file, - for stdout")
	trendCmd.Flags().StringVarP(&trendBucket, "bucket", "b", "raw", "downsample bucket (raw, 1m, 5m, 1h or a duration)")
}

func runTrend(ctx context.Context, sourceID string) error {
	if trendFormat != "csv" && trendFormat != "json" {
		return fmt.Errorf("unknown format %q", trendFormat)
	}
	bucket, err := downsample.ParseResolution(trendBucket)
	if err != nil {
		return err
	}

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	pcfg, err := server.PipelineConfig(cfg.Pipeline)
	if err != nil {
		return err
	}
	pcfg.Logger = log
	pcfg.Callbacks.OnProgress = func(id string, pct float64) {
		log.WithFields(logrus.Fields{"source": id, "progress": fmt.Sprintf("%.1f%%", pct)}).Debug("progress")
	}

	p := pipeline.New(store, pcfg)
	defer p.Close()

	if err := p.Begin(sourceID); err != nil {
		return err
	}
	if err := p.Wait(ctx); err != nil {
		return err
	}

	snap := p.Snapshot()
	if snap.State != pipeline.Done {
		return fmt.Errorf("trend of %s ended in state %s: %s", sourceID, snap.State, snap.Error)
	}

	points := snap.Points
	if bucket > 0 {
		points = downsample.Averages(downsample.Series(points, bucket, pcfg.Segment.TimestampUnit))
	}

	var w io.Writer = os.Stdout
	if trendOut != "-" {
		f, err := os.Create(trendOut)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", trendOut, err)
		}
		defer f.Close()
		w = f
	}

	var res *export.ExportResult
	if trendFormat == "json" {
		res, err = export.TrendToJSON(w, sourceID, points, snap.Result)
	} else {
		res, err = export.TrendToCSV(w, sourceID, points)
	}
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"source":   sourceID,
		"points":   res.Exported,
		"range":    res.TimeRange,
		"segments": len(resultOrEmpty(snap.Result).Segments),
		"gaps":     len(resultOrEmpty(snap.Result).Gaps),
		"skipped":  snap.Stats.Skipped,
	}).Info("trend written")
	return nil
}

func resultOrEmpty(r *segment.Result) segment.Result {
	if r == nil {
		return segment.Result{}
	}
	return *r
}
