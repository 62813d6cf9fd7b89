package metrics

import (
	"errors"
	"testing"
	"time"
)

type recorder struct {
	counters map[string]float64
	observed []float64
	flushed  int
}

func (r *recorder) IncCounter(name string, delta float64, labels Labels) {
	r.counters[name+"/"+labels["status"]+labels["kind"]] += delta
}

func (r *recorder) ObserveHistogram(name string, value float64, labels Labels) {
	r.observed = append(r.observed, value)
}

func (r *recorder) Flush() error {
	r.flushed++
	return nil
}

func TestRecordStepAndRows(t *testing.T) {
	rec := &recorder{counters: map[string]float64{}}
	SetBackend(rec)
	defer SetBackend(nil)

	RecordStep("pipeline", "clean", nil, 2*time.Second)
	RecordStep("pipeline", "clean", errors.New("boom"), time.Second)
	RecordRow("pipeline", "cleaned", 10)
	RecordRow("pipeline", "cleaned", 0)

	if got := rec.counters[StepTotal+"/success"]; got != 1 {
		t.Errorf("success steps = %v, want 1", got)
	}
	if got := rec.counters[StepTotal+"/failure"]; got != 1 {
		t.Errorf("failure steps = %v, want 1", got)
	}
	if got := rec.counters[RowsTotal+"/cleaned"]; got != 10 {
		t.Errorf("cleaned rows = %v, want 10", got)
	}
	if len(rec.observed) != 2 || rec.observed[0] != 2 {
		t.Errorf("observed = %v, want [2 1]", rec.observed)
	}
	if err := Flush(); err != nil || rec.flushed != 1 {
		t.Errorf("Flush() error = %v, flushed = %d", err, rec.flushed)
	}
}

func TestNopBackendIsDefault(t *testing.T) {
	SetBackend(nil)
	RecordStep("harvest", "category", nil, time.Millisecond)
	if err := Flush(); err != nil {
		t.Errorf("Flush() on nop backend error = %v", err)
	}
}
