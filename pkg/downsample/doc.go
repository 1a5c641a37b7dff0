/*
Package downsample reduces a long trend series to fixed-width time buckets
for plotting.

A month of one-minute records is about 43,000 points per channel, more than a
chart can show. Bucketing keeps the shape of the trend while cutting the
point count:

	Raw (1 point/min)     → 43,200 points
	5-minute buckets      →  8,640 points
	1-hour buckets        →    720 points

# Bucket Structure

Each bucket keeps four values per channel:

	type Aggregate struct {
	    Sum   float64 // total of the valid values
	    Count uint64  // number of valid values
	    Min   float64 // smallest value (sags)
	    Max   float64 // largest value (swells)
	}

NaN values (missing channels, empty records) are skipped, so a bucket whose
channel had no valid data has Count 0 and an Average of NaN. A bucket with
no points at all is not emitted, which keeps gaps visible to the segmenter.

# Usage Example

	snap := p.Snapshot()
	buckets := downsample.Series(snap.Points, 5*time.Minute, time.Millisecond)
	points := downsample.Averages(buckets)
*/
package downsample
