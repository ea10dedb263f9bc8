package main

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/pithecene-io/streamrun/metrics"
)

// startDebugServer serves the worker's current metrics.Snapshot as JSON
// at GET /snapshot, for `inspect`/`stats` to poll. It returns immediately;
// the server runs until the process exits.
func startDebugServer(addr string, collector *metrics.Collector) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("debug server: listen %q: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/snapshot", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(collector.Snapshot())
	})

	srv := &http.Server{Handler: mux}
	go func() { _ = srv.Serve(ln) }()
	return srv, nil
}

// fetchSnapshot polls a running worker's debug endpoint for its current
// metrics.Snapshot.
func fetchSnapshot(addr string) (metrics.Snapshot, error) {
	resp, err := http.Get(fmt.Sprintf("http://%s/snapshot", addr))
	if err != nil {
		return metrics.Snapshot{}, fmt.Errorf("fetch snapshot from %q: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return metrics.Snapshot{}, fmt.Errorf("fetch snapshot from %q: status %s", addr, resp.Status)
	}

	var snap metrics.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return metrics.Snapshot{}, fmt.Errorf("decode snapshot from %q: %w", addr, err)
	}
	return snap, nil
}
