package catalog

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/TacoronteRiveroCristian/backup-influxdb/internal/config"
	"github.com/TacoronteRiveroCristian/backup-influxdb/internal/influx"
	"github.com/TacoronteRiveroCristian/backup-influxdb/internal/util"
	"github.com/TacoronteRiveroCristian/backup-influxdb/internal/validation"
)

// FieldRef identifies one (database, measurement, field) unit. It is both
// the unit of parallelism and the unit of watermarking. Native carries the
// concrete source type so values keep it on the destination.
type FieldRef struct {
	Database    string
	Measurement string
	Field       string
	Type        influx.FieldType
	Native      influx.NativeType
}

func (r FieldRef) String() string {
	return fmt.Sprintf("%s.%s.%s", r.Database, r.Measurement, r.Field)
}

// Catalog enumerates the fields of a source database and applies the
// configured measurement, field, type and obsolescence filters.
type Catalog struct {
	source *influx.Client
	cfg    *config.Config
	logger *zap.Logger
	now    func() time.Time
}

// New creates a catalog over the source endpoint.
func New(source *influx.Client, cfg *config.Config, logger *zap.Logger) *Catalog {
	return &Catalog{
		source: source,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Fields returns the field refs to back up for a database, sorted by
// (measurement, field) so diagnostics are reproducible, plus the refs the
// obsolescence filter dropped so they can be reported as skipped.
func (c *Catalog) Fields(ctx context.Context, db string) (active, obsolete []FieldRef, err error) {
	measurements, err := c.source.Measurements(ctx, db)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list measurements of %s: %w", db, err)
	}

	var threshold time.Duration
	if c.cfg.Options.FieldObsoleteThreshold != "" {
		threshold, err = util.ParseDuration(c.cfg.Options.FieldObsoleteThreshold)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid field_obsolete_threshold: %w", err)
		}
	}

	for _, measurement := range measurements {
		if err := validation.ValidateMeasurementName(measurement); err != nil {
			c.logger.Warn("Skipping measurement with invalid name",
				zap.String("database", db),
				zap.Error(err))
			continue
		}
		if !c.cfg.ShouldBackupMeasurement(measurement) {
			c.logger.Debug("Measurement filtered out",
				zap.String("database", db),
				zap.String("measurement", measurement))
			continue
		}

		keys, err := c.source.FieldKeys(ctx, db, measurement)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to list field keys of %s.%s: %w", db, measurement, err)
		}

		for _, key := range keys {
			if !c.cfg.ShouldBackupField(measurement, key.Field, string(key.Type)) {
				continue
			}

			ref := FieldRef{
				Database:    db,
				Measurement: measurement,
				Field:       key.Field,
				Type:        key.Type,
				Native:      key.Native,
			}

			if threshold > 0 {
				stale, err := c.isObsolete(ctx, ref, threshold)
				if err != nil {
					return nil, nil, err
				}
				if stale {
					obsolete = append(obsolete, ref)
					continue
				}
			}

			active = append(active, ref)
		}
	}

	sortRefs(active)
	sortRefs(obsolete)

	c.logger.Info("Field catalog built",
		zap.String("database", db),
		zap.Int("fields", len(active)),
		zap.Int("obsolete", len(obsolete)))

	return active, obsolete, nil
}

// isObsolete reports whether the field's newest source write is older than
// the threshold. A field with no source data at all is also obsolete. The
// judgment is made against the source, so a field that once was active and
// has gone silent stops being copied even if late points arrive.
func (c *Catalog) isObsolete(ctx context.Context, ref FieldRef, threshold time.Duration) (bool, error) {
	last, found, err := c.source.LastFieldWriteTime(ctx, ref.Database, ref.Measurement, ref.Field)
	if err != nil {
		return false, fmt.Errorf("failed to check obsolescence of %s: %w", ref, err)
	}
	if !found {
		c.logger.Debug("Field has no source data, treating as obsolete",
			zap.String("field_ref", ref.String()))
		return true, nil
	}

	cutoff := c.now().Add(-threshold).UnixNano()
	if last < cutoff {
		c.logger.Debug("Field is obsolete",
			zap.String("field_ref", ref.String()),
			zap.Time("last_write", time.Unix(0, last).UTC()),
			zap.Duration("threshold", threshold))
		return true, nil
	}
	return false, nil
}

func sortRefs(refs []FieldRef) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Measurement != refs[j].Measurement {
			return refs[i].Measurement < refs[j].Measurement
		}
		return refs[i].Field < refs[j].Field
	})
}
