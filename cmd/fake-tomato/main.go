// fake-tomato is a development stand-in for the tomato instrument server.
// It accepts payload submissions, walks each job through the queued,
// running and completed states on a timer, and serves synthetic snapshot
// documents in the instrument's raw measurement format. Useful for
// exercising the monitor daemon without hardware.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"k8s.io/klog/v2"
)

// job is one submitted payload and its simulated lifecycle.
type job struct {
	ID        string    `json:"jobid"`
	Name      string    `json:"jobname"`
	Payload   string    `json:"-"`
	Submitted time.Time `json:"submitted"`
	Cancelled bool      `json:"-"`
}

// server holds the in-memory job table and the simulation parameters.
type server struct {
	mu   sync.RWMutex
	jobs map[string]*job

	// queueDelay is how long a job sits queued before it starts.
	queueDelay time.Duration
	// runDuration is how long a job runs before completing.
	runDuration time.Duration
	// recordEvery is the sample spacing of generated data.
	recordEvery time.Duration
}

// status derives the ketchup status code from the job's age.
func (s *server) status(j *job) string {
	if j.Cancelled {
		return "cd"
	}
	age := time.Since(j.Submitted)
	switch {
	case age < s.queueDelay:
		return "qw"
	case age < s.queueDelay+s.runDuration:
		return "r"
	default:
		return "c"
	}
}

type submitRequest struct {
	JobName string `json:"jobname"`
	Payload string `json:"payload"`
}

func (s *server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Payload == "" {
		http.Error(w, "payload is required", http.StatusBadRequest)
		return
	}

	j := &job{
		ID:        uuid.New().String(),
		Name:      req.JobName,
		Payload:   req.Payload,
		Submitted: time.Now(),
	}

	s.mu.Lock()
	s.jobs[j.ID] = j
	s.mu.Unlock()

	klog.InfoS("Accepted job", "jobID", j.ID, "jobName", j.Name)
	writeJSON(w, http.StatusCreated, map[string]string{"jobid": j.ID})
}

func (s *server) handleQueue(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type row struct {
		JobID   string `json:"jobid"`
		JobName string `json:"jobname"`
		Status  string `json:"status"`
	}
	rows := make([]row, 0, len(s.jobs))
	for _, j := range s.jobs {
		rows = append(rows, row{JobID: j.ID, JobName: j.Name, Status: s.status(j)})
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	j, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobid":     j.ID,
		"jobname":   j.Name,
		"status":    s.status(j),
		"submitted": j.Submitted.Format(time.RFC3339),
	})
}

func (s *server) handleCancel(w http.ResponseWriter, r *http.Request) {
	j, ok := s.lookup(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	j.Cancelled = true
	s.mu.Unlock()

	klog.InfoS("Cancelled job", "jobID", j.ID)
	w.WriteHeader(http.StatusNoContent)
}

// handleSnapshot returns a synthetic measurement document covering the
// samples recorded so far. Voltage follows a sine and current a cosine of
// elapsed time, so the trace alternates between charge and discharge the
// way a real cycling protocol does.
func (s *server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	j, ok := s.lookup(w, r)
	if !ok {
		return
	}

	started := j.Submitted.Add(s.queueDelay)
	elapsed := time.Since(started)
	if elapsed <= 0 {
		http.Error(w, "job has not started yet", http.StatusNotFound)
		return
	}
	if elapsed > s.runDuration {
		elapsed = s.runDuration
	}

	writeJSON(w, http.StatusOK, measurementDoc(started, elapsed, s.recordEvery))
}

func (s *server) lookup(w http.ResponseWriter, r *http.Request) (*job, bool) {
	id := mux.Vars(r)["id"]
	s.mu.RLock()
	j, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, fmt.Sprintf("no job %q", id), http.StatusNotFound)
		return nil, false
	}
	return j, true
}

// measurementDoc builds a raw-format document with one step. Each sample
// carries nominal value, deviation and unit per quantity, matching what the
// instrument writes.
func measurementDoc(started time.Time, elapsed, recordEvery time.Duration) map[string]interface{} {
	n := int(elapsed/recordEvery) + 1
	samples := make([]interface{}, 0, n)
	for k := 0; k < n; k++ {
		t := float64(k) * recordEvery.Seconds()
		uts := float64(started.Unix()) + t
		samples = append(samples, map[string]interface{}{
			"uts": uts,
			"raw": map[string]interface{}{
				"Ewe": map[string]interface{}{"n": 3.7 + 0.3*math.Sin(t/60), "s": 0.001, "u": "V"},
				"I":   map[string]interface{}{"n": 0.005 * math.Cos(t/60), "s": 0.0001, "u": "A"},
			},
		})
	}

	return map[string]interface{}{
		"steps": []interface{}{
			map[string]interface{}{"data": samples},
		},
		"metadata": map[string]interface{}{
			"provenance": "fake-tomato",
			"started":    started.Format(time.RFC3339),
		},
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		klog.ErrorS(err, "Failed to encode response")
	}
}

func main() {
	var (
		addr        string
		queueDelay  time.Duration
		runDuration time.Duration
		recordEvery time.Duration
	)
	flag.StringVar(&addr, "addr", ":8555", "The address the server binds to")
	flag.DurationVar(&queueDelay, "queue-delay", 5*time.Second, "How long jobs stay queued before starting")
	flag.DurationVar(&runDuration, "run-duration", 10*time.Minute, "How long jobs run before completing")
	flag.DurationVar(&recordEvery, "record-every", time.Second, "Sample spacing of generated measurements")
	klog.InitFlags(nil)
	flag.Parse()

	srv := &server{
		jobs:        make(map[string]*job),
		queueDelay:  queueDelay,
		runDuration: runDuration,
		recordEvery: recordEvery,
	}

	r := mux.NewRouter()
	r.HandleFunc("/jobs", srv.handleSubmit).Methods("POST")
	r.HandleFunc("/jobs", srv.handleQueue).Methods("GET")
	r.HandleFunc("/jobs/{id}", srv.handleStatus).Methods("GET")
	r.HandleFunc("/jobs/{id}", srv.handleCancel).Methods("DELETE")
	r.HandleFunc("/jobs/{id}/snapshot", srv.handleSnapshot).Methods("GET")
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	httpServer := &http.Server{Addr: addr, Handler: r}
	go func() {
		klog.InfoS("Starting fake instrument server", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			klog.ErrorS(err, "Server failed")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	klog.InfoS("Shutting down", "signal", sig)
	if err := httpServer.Shutdown(context.Background()); err != nil {
		klog.ErrorS(err, "Shutdown failed")
	}
}
