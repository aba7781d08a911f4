package mvstore

import (
	"time"

	"github.com/ValentinKolb/mvkv/lib/db/util"
	vm "github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
)

// Process wide counters, exposed in Prometheus format by the server
var (
	commitsTotal       = vm.GetOrCreateCounter("mvkv_commits_total")
	mergesTotal        = vm.GetOrCreateCounter("mvkv_merge_commits_total")
	foreignTotal       = vm.GetOrCreateCounter("mvkv_foreign_commits_total")
	mergedRowsTotal    = vm.GetOrCreateCounter("mvkv_merged_rows_total")
	vacuumPassesTotal  = vm.GetOrCreateCounter("mvkv_vacuum_passes_total")
	vacuumRowsTotal    = vm.GetOrCreateCounter("mvkv_vacuum_rows_deleted_total")
	vacuumErrorsTotal  = vm.GetOrCreateCounter("mvkv_vacuum_errors_total")
	rollbacksTotal     = vm.GetOrCreateCounter("mvkv_phase_one_rollbacks_total")
	corruptionsTotal   = vm.GetOrCreateCounter("mvkv_corruptions_total")
	commitDuration     = vm.GetOrCreateHistogram("mvkv_commit_duration_seconds")
	vacuumPassDuration = vm.GetOrCreateHistogram("mvkv_vacuum_pass_duration_seconds")
)

// storeMetrics is the per store registry reported by GetInfo
type storeMetrics struct {
	registry    gometrics.Registry
	commits     gometrics.Timer
	merges      gometrics.Meter
	vacuumPass  gometrics.Timer
	vacuumRows  gometrics.Meter
	valueSizes  *util.SizeHistogram
	readTxnWait gometrics.Timer
}

func newStoreMetrics() *storeMetrics {
	r := gometrics.NewRegistry()
	return &storeMetrics{
		registry:    r,
		commits:     gometrics.GetOrRegisterTimer("commits", r),
		merges:      gometrics.GetOrRegisterMeter("merged_rows", r),
		vacuumPass:  gometrics.GetOrRegisterTimer("vacuum_passes", r),
		vacuumRows:  gometrics.GetOrRegisterMeter("vacuum_rows", r),
		valueSizes:  util.NewSizeHistogram(),
		readTxnWait: gometrics.GetOrRegisterTimer("read_txn_wait", r),
	}
}

func (m *storeMetrics) commitDone(start time.Time) {
	m.commits.UpdateSince(start)
	commitsTotal.Inc()
	commitDuration.UpdateDuration(start)
}

func (m *storeMetrics) vacuumDone(start time.Time, rows int) {
	m.vacuumPass.UpdateSince(start)
	m.vacuumRows.Mark(int64(rows))
	vacuumPassesTotal.Inc()
	vacuumRowsTotal.Add(rows)
	vacuumPassDuration.UpdateDuration(start)
}

// MetricsInfo is the metrics part of Info
type MetricsInfo struct {
	Commits          int64   `json:"commits"`
	CommitMeanMillis float64 `json:"commit_mean_ms"`
	MergedRows       int64   `json:"merged_rows"`
	VacuumPasses     int64   `json:"vacuum_passes"`
	VacuumRows       int64   `json:"vacuum_rows_deleted"`
	ValueSizeMean    int     `json:"value_size_mean"`
	ValueSizeP99     int     `json:"value_size_p99"`
	ReadWaitMeanMs   float64 `json:"read_wait_mean_ms"`
}

func (m *storeMetrics) snapshot() MetricsInfo {
	return MetricsInfo{
		Commits:          m.commits.Count(),
		CommitMeanMillis: m.commits.Mean() / float64(time.Millisecond),
		MergedRows:       m.merges.Count(),
		VacuumPasses:     m.vacuumPass.Count(),
		VacuumRows:       m.vacuumRows.Count(),
		ValueSizeMean:    m.valueSizes.AverageSize(),
		ValueSizeP99:     m.valueSizes.GetPercentileEstimate(99),
		ReadWaitMeanMs:   m.readTxnWait.Mean() / float64(time.Millisecond),
	}
}
