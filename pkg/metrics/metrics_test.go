// Unit tests for the metrics collection
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestCounterBasic(t *testing.T) {
	c := NewCounter("test_counter", "A test counter")

	if v := c.Get(nil); v != 0 {
		t.Errorf("expected initial value 0, got %d", v)
	}
	c.Inc(nil)
	c.Add(nil, 10)
	if v := c.Get(nil); v != 11 {
		t.Errorf("expected 11, got %d", v)
	}
}

func TestCounterWithLabels(t *testing.T) {
	c := NewCounter("decisions_total", "Decisions")
	send := Labels{"decision": "send"}
	drop := Labels{"decision": "drop"}

	c.Inc(send)
	c.Inc(send)
	c.Inc(drop)

	if v := c.Get(send); v != 2 {
		t.Errorf("send: expected 2, got %d", v)
	}
	if v := c.Get(drop); v != 1 {
		t.Errorf("drop: expected 1, got %d", v)
	}

	var sb strings.Builder
	c.Write(&sb)
	want := "# HELP decisions_total Decisions\n" +
		"# TYPE decisions_total counter\n" +
		"decisions_total{decision=\"drop\"} 1\n" +
		"decisions_total{decision=\"send\"} 2\n"
	if sb.String() != want {
		t.Errorf("unexpected output:\n%s", sb.String())
	}
}

func TestCounterConcurrent(t *testing.T) {
	c := NewCounter("concurrent_total", "Concurrent")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Inc(Labels{"k": "v"})
			}
		}()
	}
	wg.Wait()
	if v := c.Get(Labels{"k": "v"}); v != 5000 {
		t.Errorf("expected 5000, got %d", v)
	}
}

func TestGauge(t *testing.T) {
	g := NewGauge("test_gauge", "A gauge")
	g.Set(nil, 5)
	g.Inc(nil)
	g.Dec(nil)
	g.Add(nil, 0.5)
	if v := g.Get(nil); v != 5.5 {
		t.Errorf("expected 5.5, got %v", v)
	}
	g.SetBool(nil, false)
	if v := g.Get(nil); v != 0 {
		t.Errorf("expected 0, got %v", v)
	}

	var sb strings.Builder
	g.Write(&sb)
	if !strings.Contains(sb.String(), "test_gauge 0\n") {
		t.Errorf("unexpected output:\n%s", sb.String())
	}
}

func TestHistogram(t *testing.T) {
	h := NewHistogram("test_seconds", "A histogram", []float64{1, 0.1})
	h.Observe(nil, 0.0625)
	h.Observe(nil, 0.5)
	h.Observe(nil, 4)

	if c := h.Count(nil); c != 3 {
		t.Errorf("expected count 3, got %d", c)
	}

	var sb strings.Builder
	h.Write(&sb)
	out := sb.String()
	for _, line := range []string{
		`test_seconds_bucket{le="0.1"} 1`,
		`test_seconds_bucket{le="1"} 2`,
		`test_seconds_bucket{le="+Inf"} 3`,
		`test_seconds_sum 4.5625`,
		`test_seconds_count 3`,
	} {
		if !strings.Contains(out, line+"\n") {
			t.Errorf("missing %q in:\n%s", line, out)
		}
	}
}

func TestLabelEscaping(t *testing.T) {
	l := Labels{"object": "a\"b\\c\nd"}
	if got, want := l.String(), `{object="a\"b\\c\nd"}`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(NewCounter("x", "x")); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(NewGauge("x", "x")); err == nil {
		t.Error("expected duplicate registration to fail")
	}
	if r.Get("x").Type() != TypeCounter {
		t.Error("expected the first registration to win")
	}
}

func TestCancelMetricsHandler(t *testing.T) {
	m := NewCancelMetrics()
	m.CommandsForwarded.Add(nil, 3)
	m.ObjectsKnown.Set(nil, 2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("unexpected content type %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "cancelobject_commands_forwarded_total 3\n") {
		t.Errorf("missing forwarded counter:\n%s", body)
	}
	if !strings.Contains(body, "cancelobject_objects 2\n") {
		t.Errorf("missing objects gauge:\n%s", body)
	}

	rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/metrics", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}
