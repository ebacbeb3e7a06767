package backup

import (
	"context"

	"github.com/TacoronteRiveroCristian/backup-influxdb/internal/influx"
)

// WatermarkStore resolves the per-field resume timestamp. The destination
// database itself is the store: nothing is cached in memory and nothing is
// persisted locally, so a crash can never leave the watermark ahead of the
// data. Each lookup filters on the field being non-null, which keeps one
// field's watermark untouched by writes of its neighbors on the same
// measurement, even at identical timestamps.
type WatermarkStore struct {
	dest *influx.Client
}

// NewWatermarkStore creates a watermark store over the destination endpoint.
func NewWatermarkStore(dest *influx.Client) *WatermarkStore {
	return &WatermarkStore{dest: dest}
}

// ResumeTime returns the timestamp of the newest non-null value of the field
// on the destination, or false when the field has never been written there.
// Callers resume with a strict time > bound, so the returned timestamp itself
// is never copied twice.
func (s *WatermarkStore) ResumeTime(ctx context.Context, db, measurement, field string) (int64, bool, error) {
	return s.dest.LastFieldWriteTime(ctx, db, measurement, field)
}
