package server

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nicktill/wavetrend/pkg/config"
)

// GarbageCollector is a store that can reclaim disk space
type GarbageCollector interface {
	RunGC(discardRatio float64) error
}

// RunStoreGC runs value log garbage collection every interval until ctx is
// done. Badger returns an error when there was nothing to rewrite, so errors
// are only logged at debug level.
func RunStoreGC(ctx context.Context, gc GarbageCollector, interval time.Duration, log logrus.FieldLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log = log.WithField("task", "gc")
	log.WithField("interval", interval.String()).Info("store GC scheduler started")

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			err := gc.RunGC(config.BadgerGCDiscardRatio)
			elapsed := time.Since(start).Round(time.Millisecond).String()
			if err != nil {
				log.WithFields(logrus.Fields{logrus.ErrorKey: err, "elapsed": elapsed}).Debug("GC finished without rewrite")
			} else {
				log.WithField("elapsed", elapsed).Info("GC reclaimed disk space")
			}
		case <-ctx.Done():
			log.Info("stopping store GC scheduler")
			return
		}
	}
}
