package ws

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"dronecraft.ai/internal/protocol"
)

// Register mounts the websocket endpoint and the read-only HTTP endpoints.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/ws", s.Handler())
	mux.HandleFunc("/v1/jobs", s.jobsHandler)
	mux.HandleFunc("/v1/metrics", s.metricsJSONHandler)
	mux.HandleFunc("/metrics", s.metricsTextHandler)
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
}

func (s *Server) jobsHandler(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(struct {
		WorldID string              `json:"world_id"`
		Tick    uint64              `json:"tick"`
		Jobs    []protocol.JobEntry `json:"jobs"`
	}{
		WorldID: s.sched.ID(),
		Tick:    s.sched.CurrentTick(),
		Jobs:    jobEntries(s.sched.JobViews()),
	})
}

func (s *Server) metricsJSONHandler(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(s.sched.Metrics())
}

// metricsTextHandler writes a minimal Prometheus exposition.
func (s *Server) metricsTextHandler(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
	m := s.sched.Metrics()
	id := s.sched.ID()
	tick := s.sched.CurrentTick()
	if m.Tick != 0 {
		tick = m.Tick
	}

	fmt.Fprintf(rw, "# HELP dronecraft_tick Current scheduler tick.\n")
	fmt.Fprintf(rw, "# TYPE dronecraft_tick gauge\n")
	fmt.Fprintf(rw, "dronecraft_tick{world=%q} %d\n", id, tick)

	fmt.Fprintf(rw, "# HELP dronecraft_dirty_coords Coordinates awaiting reconciliation.\n")
	fmt.Fprintf(rw, "# TYPE dronecraft_dirty_coords gauge\n")
	fmt.Fprintf(rw, "dronecraft_dirty_coords{world=%q} %d\n", id, m.Dirty)

	fmt.Fprintf(rw, "# HELP dronecraft_intents Tracked intent coordinates.\n")
	fmt.Fprintf(rw, "# TYPE dronecraft_intents gauge\n")
	fmt.Fprintf(rw, "dronecraft_intents{world=%q} %d\n", id, m.Tracked)

	fmt.Fprintf(rw, "# HELP dronecraft_jobs Registered jobs by class.\n")
	fmt.Fprintf(rw, "# TYPE dronecraft_jobs gauge\n")
	for _, k := range sortedKeys(m.Jobs) {
		fmt.Fprintf(rw, "dronecraft_jobs{world=%q,kind=%q} %d\n", id, k, m.Jobs[k])
	}
	fmt.Fprintf(rw, "dronecraft_jobs_assigned{world=%q} %d\n", id, m.Assigned)

	fmt.Fprintf(rw, "# HELP dronecraft_drones Active drones by state.\n")
	fmt.Fprintf(rw, "# TYPE dronecraft_drones gauge\n")
	for _, k := range sortedKeys(m.DroneStates) {
		fmt.Fprintf(rw, "dronecraft_drones{world=%q,state=%q} %d\n", id, k, m.DroneStates[k])
	}
	fmt.Fprintf(rw, "dronecraft_drones_retired_total{world=%q} %d\n", id, m.Retired)

	fmt.Fprintf(rw, "# HELP dronecraft_step_ms Last tick step duration in milliseconds.\n")
	fmt.Fprintf(rw, "# TYPE dronecraft_step_ms gauge\n")
	fmt.Fprintf(rw, "dronecraft_step_ms{world=%q} %.3f\n", id, m.StepMS)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
