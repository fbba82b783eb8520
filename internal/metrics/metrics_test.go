package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if jobsTotal == nil || activeJobs == nil || sessionsTotal == nil ||
		deferredJobsTotal == nil || httpRequestsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObservations(t *testing.T) {
	Init()

	ObserveJob("COMPLETED", 42*time.Second)
	if got := testutil.ToFloat64(jobsTotal.WithLabelValues("COMPLETED")); got < 1 {
		t.Fatalf("jobs counter not incremented: %v", got)
	}

	IncActiveJobs()
	if got := testutil.ToFloat64(activeJobs); got < 1 {
		t.Fatalf("active jobs gauge not incremented: %v", got)
	}
	DecActiveJobs()

	ObserveSession("opened")
	if got := testutil.ToFloat64(sessionsTotal.WithLabelValues("opened")); got < 1 {
		t.Fatalf("sessions counter not incremented: %v", got)
	}

	before := testutil.ToFloat64(deferredJobsTotal)
	ObserveDeferral()
	if got := testutil.ToFloat64(deferredJobsTotal); got != before+1 {
		t.Fatalf("deferral counter not incremented: %v", got)
	}

	ObserveHTTPRequest("POST", "/v1/jobs", 202, 10*time.Millisecond)
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "202")); got < 1 {
		t.Fatalf("http counter not incremented: %v", got)
	}
}
