package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"collection-tracker/internal/metrics"
	"collection-tracker/internal/model"
	"collection-tracker/internal/session"
	"collection-tracker/internal/throttle"
)

type LocationWriter interface {
	UpdateLocation(ctx context.Context, lat, lon float64) error
}

// LocationReporter pushes the collector's own fixes to the backend, at most
// once per throttle interval. A failed write is dropped; the next allowed fix
// supersedes it.
type LocationReporter struct {
	client    LocationWriter
	throttler *throttle.Throttler
	session   *session.Session
	metrics   *metrics.Metrics
	logger    logrus.FieldLogger
	now       func() time.Time
}

func NewLocationReporter(client LocationWriter, throttler *throttle.Throttler, sess *session.Session, m *metrics.Metrics, logger logrus.FieldLogger) *LocationReporter {
	return &LocationReporter{
		client:    client,
		throttler: throttler,
		session:   sess,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

func (r *LocationReporter) OnPosition(ctx context.Context, pos model.GeoPosition) {
	if !r.session.IsCollector() {
		return
	}
	now := r.now()
	if !r.throttler.ShouldSend(now) {
		r.metrics.Report("throttled")
		return
	}

	if err := r.client.UpdateLocation(ctx, pos.Latitude, pos.Longitude); err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"latitude":  pos.Latitude,
			"longitude": pos.Longitude,
		}).Warn("failed to update collector location")
		r.metrics.Report("error")
		return
	}

	r.throttler.MarkSent(now)
	r.metrics.Report("sent")
	r.logger.WithFields(logrus.Fields{
		"latitude":  pos.Latitude,
		"longitude": pos.Longitude,
	}).Debug("collector location sent")
}
