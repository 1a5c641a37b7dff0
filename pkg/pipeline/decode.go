package pipeline

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nicktill/wavetrend/pkg/record"
	"github.com/nicktill/wavetrend/pkg/trend"
	"github.com/nicktill/wavetrend/pkg/waveform"
)

type chunkResult struct {
	points  []trend.Point
	decoded int
	empty   int
	skipped int
}

// decodeChunk decodes and reduces recs on a bounded worker pool. Each worker
// writes its own slot so the output keeps the input order.
func (p *Pipeline) decodeChunk(ctx context.Context, recs []record.Record, cal waveform.Calibration, log logrus.FieldLogger) (chunkResult, error) {
	points := make([]trend.Point, len(recs))
	errs := make([]error, len(recs))

	var g errgroup.Group
	g.SetLimit(p.cfg.DecodeWorkers)
	for i := range recs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec := recs[i]
			m, err := rec.Decode(p.cfg.Layout, cal)
			switch {
			case errors.Is(err, waveform.ErrEmptySignal):
				points[i] = trend.NaNPoint(rec.Timestamp)
				errs[i] = err
			case err != nil:
				errs[i] = err
			default:
				points[i] = trend.Point{
					Timestamp: rec.Timestamp,
					Values:    p.cfg.Strategy.ReduceTo(m, trend.MaxChannels),
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return chunkResult{}, err
	}

	res := chunkResult{points: make([]trend.Point, 0, len(recs))}
	for i, err := range errs {
		switch {
		case err == nil:
			res.decoded++
		case errors.Is(err, waveform.ErrEmptySignal):
			res.empty++
		default:
			res.skipped++
			log.WithFields(logrus.Fields{
				logrus.ErrorKey: err,
				"timestamp":     recs[i].Timestamp,
			}).Warn("skipping undecodable record")
			continue
		}
		res.points = append(res.points, points[i])
	}
	return res, nil
}
