package poller

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// vectorServer serves a fixed sequence of version vectors, one per request,
// repeating the last entry once the sequence is exhausted.
type vectorServer struct {
	mu      sync.Mutex
	vectors []string
	served  int
}

func (s *vectorServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		s.mu.Lock()
		i := s.served
		if i >= len(s.vectors) {
			i = len(s.vectors) - 1
		}
		s.served++
		body := s.vectors[i]
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func vector(graphs, assistants, schemas, threads int64) string {
	return fmt.Sprintf(`{"graphs":%d,"assistants":%d,"schemas":%d,"threads":%d}`,
		graphs, assistants, schemas, threads)
}

func drainSignals(p *Poller) []Signal {
	var out []Signal
	for {
		select {
		case s, ok := <-p.Signals():
			if !ok {
				return out
			}
			out = append(out, s)
		default:
			return out
		}
	}
}

func TestTick_SignalsOnlyOnIncreases(t *testing.T) {
	server := &vectorServer{vectors: []string{
		vector(1, 1, 1, 1),
		vector(1, 1, 1, 1),
		vector(2, 1, 1, 1),
		vector(2, 1, 1, 3),
	}}
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	p := New(ts.URL, nil, func() string { return "token" }, time.Minute, discardLogger())

	for i := 0; i < 4; i++ {
		p.tick(context.Background())
	}

	got := drainSignals(p)
	want := []Signal{
		{Family: FamilyGraphs, From: 1, To: 2},
		{Family: FamilyThreads, From: 1, To: 3},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d signals %v, want %d", len(got), got, len(want))
	}
	for i, s := range got {
		if s != want[i] {
			t.Errorf("signal[%d] = %+v, want %+v", i, s, want[i])
		}
	}

	last := p.Last()
	if last == nil || last.Graphs != 2 || last.Threads != 3 {
		t.Errorf("Last() = %+v, want the final vector", last)
	}
}

func TestTick_FirstObservationIsSilent(t *testing.T) {
	server := &vectorServer{vectors: []string{vector(9, 9, 9, 9)}}
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	p := New(ts.URL, nil, func() string { return "token" }, time.Minute, discardLogger())
	p.tick(context.Background())

	if got := drainSignals(p); len(got) != 0 {
		t.Errorf("got %d signals %v on the first tick, want none", len(got), got)
	}
	if p.Last() == nil {
		t.Error("Last() = nil, want the baseline vector recorded")
	}
}

func TestTick_SkippedWithoutToken(t *testing.T) {
	requests := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	p := New(ts.URL, nil, func() string { return "" }, time.Minute, discardLogger())
	p.tick(context.Background())

	if requests != 0 {
		t.Errorf("endpoint received %d requests, want 0 without a session", requests)
	}
}

func TestTick_FailureSwallowed(t *testing.T) {
	responses := []func(http.ResponseWriter){
		func(w http.ResponseWriter) { _, _ = w.Write([]byte(vector(1, 1, 1, 1))) },
		func(w http.ResponseWriter) { w.WriteHeader(http.StatusBadGateway) },
		func(w http.ResponseWriter) { _, _ = w.Write([]byte(vector(2, 1, 1, 1))) },
	}
	served := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		responses[served](w)
		served++
	}))
	defer ts.Close()

	p := New(ts.URL, nil, func() string { return "token" }, time.Minute, discardLogger())

	p.tick(context.Background()) // baseline (1,1,1,1)
	p.tick(context.Background()) // 502, swallowed
	p.tick(context.Background()) // (2,1,1,1)

	got := drainSignals(p)
	if len(got) != 1 || got[0].Family != FamilyGraphs {
		t.Fatalf("got signals %v, want a single graphs signal after the failed tick", got)
	}
}

func TestStartStop(t *testing.T) {
	server := &vectorServer{vectors: []string{vector(1, 1, 1, 1)}}
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	p := New(ts.URL, nil, func() string { return "token" }, 10*time.Millisecond, discardLogger())
	p.Start(context.Background())

	deadline := time.After(2 * time.Second)
	for p.Last() == nil {
		select {
		case <-deadline:
			t.Fatal("poller never completed a tick")
		case <-time.After(5 * time.Millisecond):
		}
	}

	p.Stop()

	if _, ok := <-p.Signals(); ok {
		t.Error("Signals() still open after Stop")
	}

	server.mu.Lock()
	served := server.served
	server.mu.Unlock()
	time.Sleep(50 * time.Millisecond)
	server.mu.Lock()
	after := server.served
	server.mu.Unlock()
	if after != served {
		t.Errorf("endpoint received %d requests after Stop", after-served)
	}
}
