package backup

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/TacoronteRiveroCristian/backup-influxdb/internal/util/workerpool"
)

func TestReportCountsAndTotals(t *testing.T) {
	r := &Report{
		Workers:  2,
		WallTime: 10 * time.Second,
		Outcomes: []workerpool.Outcome{
			{Status: workerpool.StatusSuccess, RecordsRead: 100, RecordsWritten: 100, Duration: 8 * time.Second, WorkerTag: "T01"},
			{Status: workerpool.StatusSuccess, RecordsRead: 50, RecordsWritten: 50, Duration: 6 * time.Second, WorkerTag: "T02"},
			{Status: workerpool.StatusSkipped, WorkerTag: "T01"},
			{Status: workerpool.StatusFailed, RecordsRead: 10, RecordsWritten: 5, Duration: 2 * time.Second, WorkerTag: "T02", Err: errors.New("boom")},
		},
	}

	success, skipped, failed := r.Counts()
	assert.Equal(t, 2, success)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, r.FailedCount())
	assert.Equal(t, int64(160), r.RecordsRead())
	assert.Equal(t, int64(155), r.RecordsWritten())
	assert.Equal(t, 2, r.WorkersUsed())
}

func TestReportEfficiency(t *testing.T) {
	r := &Report{
		Workers:  2,
		WallTime: 10 * time.Second,
		Outcomes: []workerpool.Outcome{
			{Status: workerpool.StatusSuccess, Duration: 8 * time.Second},
			{Status: workerpool.StatusSuccess, Duration: 6 * time.Second},
		},
	}

	// (8s + 6s) / (10s x 2 workers) = 70%
	assert.InDelta(t, 70.0, r.Efficiency(), 0.001)
}

func TestReportEfficiencyDegenerate(t *testing.T) {
	r := &Report{}
	assert.Equal(t, 0.0, r.Efficiency())
	assert.Equal(t, time.Duration(0), r.AverageJobDuration())
}

func TestReportAverageJobDurationIgnoresSkipped(t *testing.T) {
	r := &Report{
		Outcomes: []workerpool.Outcome{
			{Status: workerpool.StatusSuccess, Duration: 4 * time.Second},
			{Status: workerpool.StatusSuccess, Duration: 2 * time.Second},
			{Status: workerpool.StatusSkipped},
		},
	}
	assert.Equal(t, 3*time.Second, r.AverageJobDuration())
}
