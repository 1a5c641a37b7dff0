package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nicktill/wavetrend/pkg/reduce"
	"github.com/nicktill/wavetrend/pkg/trend"
	"github.com/nicktill/wavetrend/pkg/waveform"
)

var decodeJSON bool

var decodeCmd = &cobra.Command{
	Use:   "decode <source> <timestamp>",
	Short: "Decode one record and print per-channel statistics",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ts, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", args[1], err)
		}
		return runDecode(cmd.Context(), args[0], ts)
	},
}

func init() {
	decodeCmd.Flags().BoolVar(&decodeJSON, "json", false, "print the decoded signals as JSON")
}

type channelStats struct {
	Name string  `json:"name"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	RMS  float64 `json:"rms"`
	Peak float64 `json:"peak"`
}

func runDecode(ctx context.Context, sourceID string, ts int64) error {
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := store.FetchByTimestamp(ctx, sourceID, ts)
	if err != nil {
		return err
	}
	fallback, err := store.Calibration(ctx, sourceID)
	if err != nil {
		return err
	}
	layout, err := waveform.ParseLayout(cfg.Pipeline.Layout)
	if err != nil {
		return err
	}

	m, err := rec.Decode(layout, fallback)
	if errors.Is(err, waveform.ErrEmptySignal) {
		fmt.Printf("record %d of %s has no samples\n", ts, sourceID)
		return nil
	}
	if err != nil {
		return err
	}

	rms := reduce.RMS.Reduce(m)
	peak := reduce.PeakHalfAmplitude.Reduce(m)
	stats := make([]channelStats, m.Channels)
	for j := range stats {
		name := fmt.Sprintf("CH%d", j)
		if j < trend.MaxChannels {
			name = trend.ChannelNames[j]
		}
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, v := range m.Channel(j) {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		stats[j] = channelStats{Name: name, Min: lo, Max: hi, RMS: rms[j], Peak: peak[j]}
	}

	if decodeJSON {
		signals := make([][]float64, m.Channels)
		for j := range signals {
			signals[j] = m.Channel(j)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"source_id": sourceID,
			"timestamp": rec.Timestamp,
			"mask":      rec.Mask.String(),
			"samples":   m.Samples,
			"channels":  stats,
			"signals":   signals,
		})
	}

	fmt.Printf("source %s  timestamp %d  mask %s  samples %d\n\n", sourceID, rec.Timestamp, rec.Mask, m.Samples)
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANNEL\tMIN\tMAX\tRMS\tPEAK/2")
	for _, s := range stats {
		fmt.Fprintf(tw, "%s\t%.3f\t%.3f\t%.3f\t%.3f\n", s.Name, s.Min, s.Max, s.RMS, s.Peak)
	}
	return tw.Flush()
}
