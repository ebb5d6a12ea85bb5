// aurora-monitord watches the tomato scheduler queue and supervises every
// running cycling job: it polls each job's snapshot, evaluates capacity
// retention and cancels jobs whose cells have degraded past the configured
// threshold.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"

	"github.com/EmpaEconversion/aurora-tomato/pkg/aurora/analyzer"
	"github.com/EmpaEconversion/aurora-tomato/pkg/aurora/archive"
	"github.com/EmpaEconversion/aurora-tomato/pkg/aurora/config"
	"github.com/EmpaEconversion/aurora-tomato/pkg/aurora/ketchup"
	"github.com/EmpaEconversion/aurora-tomato/pkg/aurora/monitor"
)

// timeoutRunner bounds every scheduler command with the configured timeout.
type timeoutRunner struct {
	inner   ketchup.Runner
	timeout time.Duration
}

func (r timeoutRunner) Run(ctx context.Context, command string) (ketchup.Result, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return r.inner.Run(ctx, command)
}

// supervisor keeps one monitor goroutine per active job.
type supervisor struct {
	cfg     *config.Config
	client  *ketchup.Client
	fetcher monitor.SnapshotFetcher
	store   *archive.Store

	mu       sync.Mutex
	monitors map[string]*monitor.Monitor
	wg       sync.WaitGroup
}

// reconcile aligns the running monitors with the scheduler queue: new
// running jobs get a monitor, jobs gone from the queue get theirs stopped.
func (s *supervisor) reconcile(ctx context.Context) {
	records, err := s.client.Queue(ctx)
	if err != nil {
		klog.ErrorS(err, "Queue query failed; keeping current monitors")
		return
	}

	active := make(map[string]bool, len(records))
	for _, rec := range records {
		if rec.State != ketchup.StateRunning {
			continue
		}
		active[rec.ID] = true
		s.ensure(ctx, rec)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, m := range s.monitors {
		if active[id] {
			continue
		}
		klog.InfoS("Job left the queue; stopping its monitor", "jobID", id)
		m.Stop()
		if s.store != nil {
			st := m.State()
			s.archiveFinalState(id, st)
		}
		delete(s.monitors, id)
	}
}

func (s *supervisor) ensure(ctx context.Context, rec ketchup.JobRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.monitors[rec.ID]; ok {
		return
	}

	a, err := analyzer.NewCapacityAnalyzer(analyzer.Settings{
		CheckType:         s.cfg.Monitor.CheckType,
		Threshold:         s.cfg.Monitor.Threshold,
		ConsecutiveCycles: s.cfg.Monitor.ConsecutiveCycles,
		KeepLast:          s.cfg.Monitor.KeepLast,
	})
	if err != nil {
		klog.ErrorS(err, "Invalid analyzer settings", "jobID", rec.ID)
		return
	}

	m, err := monitor.New(monitor.Options{
		JobID:    rec.ID,
		Interval: time.Duration(s.cfg.Monitor.PollInterval),
		Fetcher:  s.fetcher,
		Analyzer: a,
		Killer:   s.client,
		Archive:  s.store,
	})
	if err != nil {
		klog.ErrorS(err, "Failed to build monitor", "jobID", rec.ID)
		return
	}

	klog.InfoS("Monitoring job", "jobID", rec.ID, "title", rec.Title)
	s.monitors[rec.ID] = m
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		m.Run(ctx)
	}()
}

func (s *supervisor) archiveFinalState(jobID string, st monitor.State) {
	err := s.store.UpsertJob(archive.JobEntry{
		JobID: jobID,
		State: string(ketchup.StateDone),
	})
	if err != nil {
		klog.ErrorS(err, "Failed to archive final job state", "jobID", jobID)
	}
	klog.V(2).InfoS("Archived final job state", "jobID", jobID, "status", st.Status)
}

func (s *supervisor) shutdown() {
	s.mu.Lock()
	for id, m := range s.monitors {
		klog.V(1).InfoS("Stopping monitor", "jobID", id)
		m.Stop()
	}
	s.monitors = make(map[string]*monitor.Monitor)
	s.mu.Unlock()
	s.wg.Wait()
}

func run() error {
	var (
		configPath string
		dataRoot   string
	)
	flag.StringVar(&configPath, "config", "", "Path to the YAML configuration file (environment variables are used when empty)")
	flag.StringVar(&dataRoot, "data-root", "", "Directory holding one snapshot directory per job id")
	klog.InitFlags(nil)
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if dataRoot == "" {
		return fmt.Errorf("--data-root is required")
	}

	klog.InfoS("Starting aurora monitor daemon",
		"executable", cfg.Ketchup.Executable,
		"shell", cfg.Ketchup.Shell,
		"pollInterval", cfg.Monitor.PollInterval,
		"dataRoot", dataRoot,
		"archive", cfg.Archive.Enabled)

	client, err := ketchup.NewClient(
		ketchup.CommandBuilder{Executable: cfg.Ketchup.Executable, Shell: cfg.Ketchup.Shell},
		timeoutRunner{
			inner:   ketchup.ExecRunner{Shell: cfg.Ketchup.Shell},
			timeout: time.Duration(cfg.Ketchup.CommandTimeout),
		},
	)
	if err != nil {
		return fmt.Errorf("building scheduler client: %w", err)
	}

	var store *archive.Store
	if cfg.Archive.Enabled {
		store, err = archive.Open(cfg.Archive.Path)
		if err != nil {
			return fmt.Errorf("opening archive: %w", err)
		}
		defer store.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup := &supervisor{
		cfg:    cfg,
		client: client,
		fetcher: monitor.FileFetcher{
			Root:     dataRoot,
			Filename: cfg.Monitor.SnapshotFile,
		},
		store:    store,
		monitors: make(map[string]*monitor.Monitor),
	}

	if cfg.Observability.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", cfg.Observability.MetricsPort)
		go func() {
			klog.V(1).InfoS("Starting metrics server", "addr", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				klog.ErrorS(err, "Metrics server failed")
			}
		}()
	}

	if cfg.Observability.HealthCheckEnabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, "ok")
		})
		addr := fmt.Sprintf(":%d", cfg.Observability.HealthCheckPort)
		go func() {
			klog.V(1).InfoS("Starting health server", "addr", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				klog.ErrorS(err, "Health server failed")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	queueTicker := time.NewTicker(time.Duration(cfg.Monitor.PollInterval))
	defer queueTicker.Stop()

	var cleanupCh <-chan time.Time
	if store != nil {
		cleanupTicker := time.NewTicker(24 * time.Hour)
		defer cleanupTicker.Stop()
		cleanupCh = cleanupTicker.C
	}

	sup.reconcile(ctx)

	for {
		select {
		case <-queueTicker.C:
			sup.reconcile(ctx)
		case <-cleanupCh:
			if err := store.Cleanup(time.Duration(cfg.Archive.Retention)); err != nil {
				klog.ErrorS(err, "Archive cleanup failed")
			}
		case sig := <-sigCh:
			klog.InfoS("Received signal, shutting down", "signal", sig)
			cancel()
			sup.shutdown()
			return nil
		}
	}
}

func main() {
	if err := run(); err != nil {
		klog.ErrorS(err, "Monitor daemon failed")
		os.Exit(1)
	}
}
