package metrics

import (
	"reflect"
	"testing"
)

type recordingBackend struct {
	counters   map[string]float64
	histograms map[string][]float64
}

func (r *recordingBackend) IncCounter(name string, delta float64, labels Labels) {
	r.counters[name+"/"+labels["table"]] += delta
}

func (r *recordingBackend) ObserveHistogram(name string, value float64, labels Labels) {
	r.histograms[name] = append(r.histograms[name], value)
}

func (r *recordingBackend) Flush() error { return nil }

func TestFacadeRoutesToInstalledBackend(t *testing.T) {
	rec := &recordingBackend{
		counters:   map[string]float64{},
		histograms: map[string][]float64{},
	}
	SetBackend(rec)
	t.Cleanup(func() { SetBackend(nopBackend{}) })

	IncCounter("sync_rows_total", 2, Labels{"table": "dim_film"})
	IncCounter("sync_rows_total", 3, Labels{"table": "dim_film"})
	ObserveHistogram("sync_step_duration_seconds", 0.5, Labels{"step": "dim_film"})
	if err := Flush(); err != nil {
		t.Fatal(err)
	}

	if got := rec.counters["sync_rows_total/dim_film"]; got != 5 {
		t.Errorf("counter = %v, want 5", got)
	}
	if got := rec.histograms["sync_step_duration_seconds"]; !reflect.DeepEqual(got, []float64{0.5}) {
		t.Errorf("histogram = %v, want [0.5]", got)
	}
}

func TestSetBackendIgnoresNil(t *testing.T) {
	SetBackend(nil)

	// The nop default stays installed and every call is a no-op.
	IncCounter("sync_rows_total", 1, nil)
	ObserveHistogram("sync_step_duration_seconds", 1, nil)
	if err := Flush(); err != nil {
		t.Fatal(err)
	}
}
