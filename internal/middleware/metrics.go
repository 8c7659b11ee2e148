package middleware

import (
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
)

// Metrics stores application metrics
type Metrics struct {
	RequestsTotal      uint64
	RequestsInProgress uint64
	RequestsSuccess    uint64
	RequestsFailed     uint64
	JobsTotal          uint64
	JobsRunning        uint64
	JobsDone           uint64
	JobsFailed         uint64
	SandboxesSwept     uint64
	StartTime          time.Time
}

var globalMetrics = &Metrics{
	StartTime: time.Now(),
}

func IncrementRequests()      { atomic.AddUint64(&globalMetrics.RequestsTotal, 1) }
func IncrementInProgress()    { atomic.AddUint64(&globalMetrics.RequestsInProgress, 1) }
func DecrementInProgress()    { atomic.AddUint64(&globalMetrics.RequestsInProgress, ^uint64(0)) }
func IncrementSuccess()       { atomic.AddUint64(&globalMetrics.RequestsSuccess, 1) }
func IncrementFailed()        { atomic.AddUint64(&globalMetrics.RequestsFailed, 1) }
func AddSandboxesSwept(n int) { atomic.AddUint64(&globalMetrics.SandboxesSwept, uint64(n)) }

// JobMetrics feeds pipeline job lifecycle events into the global counters.
type JobMetrics struct{}

func (JobMetrics) JobStarted() {
	atomic.AddUint64(&globalMetrics.JobsTotal, 1)
	atomic.AddUint64(&globalMetrics.JobsRunning, 1)
}

func (JobMetrics) JobFinished(failed bool) {
	atomic.AddUint64(&globalMetrics.JobsRunning, ^uint64(0))
	if failed {
		atomic.AddUint64(&globalMetrics.JobsFailed, 1)
	} else {
		atomic.AddUint64(&globalMetrics.JobsDone, 1)
	}
}

// GetMetrics returns current metrics
func GetMetrics() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"requests_total":       atomic.LoadUint64(&globalMetrics.RequestsTotal),
		"requests_in_progress": atomic.LoadUint64(&globalMetrics.RequestsInProgress),
		"requests_success":     atomic.LoadUint64(&globalMetrics.RequestsSuccess),
		"requests_failed":      atomic.LoadUint64(&globalMetrics.RequestsFailed),
		"jobs_total":           atomic.LoadUint64(&globalMetrics.JobsTotal),
		"jobs_running":         atomic.LoadUint64(&globalMetrics.JobsRunning),
		"jobs_done":            atomic.LoadUint64(&globalMetrics.JobsDone),
		"jobs_failed":          atomic.LoadUint64(&globalMetrics.JobsFailed),
		"sandboxes_swept":      atomic.LoadUint64(&globalMetrics.SandboxesSwept),
		"uptime_seconds":       time.Since(globalMetrics.StartTime).Seconds(),
		"memory": map[string]interface{}{
			"alloc_bytes":       m.Alloc,
			"total_alloc_bytes": m.TotalAlloc,
			"sys_bytes":         m.Sys,
			"num_gc":            m.NumGC,
		},
		"goroutines": runtime.NumGoroutine(),
	}
}

// MetricsMiddleware tracks request metrics
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		IncrementRequests()
		IncrementInProgress()
		defer DecrementInProgress()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		if wrapped.statusCode >= 200 && wrapped.statusCode < 400 {
			IncrementSuccess()
		} else {
			IncrementFailed()
		}
	})
}

// MetricsHandler returns metrics as JSON
func MetricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(GetMetrics())
}
