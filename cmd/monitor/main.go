package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/aigoflow/studio-bridge/internal/services"
)

// workerStatus is one bridge worker as seen from the heartbeat bus.
type workerStatus struct {
	services.HealthStatus
	FirstSeen time.Time
	LastSeen  time.Time
}

// Monitor tracks bridge workers by their heartbeat payloads. Workers are keyed
// by endpoint since each worker owns exactly one browser page.
type Monitor struct {
	nats    *nats.Conn
	subject string

	mu      sync.RWMutex
	workers map[string]*workerStatus
}

func NewMonitor(natsURL, subject string) (*Monitor, error) {
	nc, err := nats.Connect(natsURL, nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Monitor{
		nats:    nc,
		subject: subject,
		workers: make(map[string]*workerStatus),
	}, nil
}

func (m *Monitor) Start(ctx context.Context) error {
	_, err := m.nats.Subscribe(m.subject, func(msg *nats.Msg) {
		var hs services.HealthStatus
		if err := json.Unmarshal(msg.Data, &hs); err != nil {
			log.Printf("Unparseable heartbeat on %s: %v", msg.Subject, err)
			return
		}
		m.record(hs)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to heartbeats: %w", err)
	}

	// Probe for workers that are already up instead of waiting a full
	// heartbeat interval.
	go m.probe()
	go m.markStale(ctx)
	return nil
}

func (m *Monitor) record(hs services.HealthStatus) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[hs.Endpoint]
	if !ok {
		w = &workerStatus{FirstSeen: now}
		m.workers[hs.Endpoint] = w
	}
	w.HealthStatus = hs
	w.LastSeen = now
}

func (m *Monitor) probe() {
	resp, err := m.nats.Request(m.subject+".check", []byte("{}"), 5*time.Second)
	if err != nil {
		return
	}
	var hs services.HealthStatus
	if err := json.Unmarshal(resp.Data, &hs); err != nil {
		return
	}
	m.record(hs)
}

func (m *Monitor) markStale(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			for _, w := range m.workers {
				if time.Since(w.LastSeen) > 2*time.Minute && w.Status != "offline" {
					w.Status = "offline"
				}
			}
			m.mu.Unlock()
		}
	}
}

func (m *Monitor) Workers() []workerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]workerStatus, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}

func (m *Monitor) Close() {
	if m.nats != nil {
		m.nats.Close()
	}
}

func main() {
	var (
		natsURL  = flag.String("nats", "nats://127.0.0.1:4222", "NATS server URL")
		subject  = flag.String("subject", "studio.bridge.health", "heartbeat subject")
		onceMode = flag.Bool("once", false, "probe once, print, and exit")
		interval = flag.Duration("interval", 5*time.Second, "refresh interval in watch mode")
	)
	flag.Parse()

	monitor, err := NewMonitor(*natsURL, *subject)
	if err != nil {
		log.Fatalf("Failed to create monitor: %v", err)
	}
	defer monitor.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := monitor.Start(ctx); err != nil {
		log.Fatalf("Failed to start monitor: %v", err)
	}

	if *onceMode {
		time.Sleep(2 * time.Second)
		printWorkers(monitor.Workers())
		return
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-sigCh:
			return
		case <-ticker.C:
			fmt.Print("\033[2J\033[H")
			fmt.Printf("studio-bridge monitor - %s\n\n", time.Now().Format("15:04:05"))
			printWorkers(monitor.Workers())
		}
	}
}

func printWorkers(workers []workerStatus) {
	if len(workers) == 0 {
		fmt.Println("No bridge workers seen yet (waiting for heartbeats)")
		return
	}

	fmt.Printf("%-28s %-8s %-24s %-7s %-6s %-9s %-10s\n",
		"ENDPOINT", "STATUS", "MODEL", "MODELS", "QUEUE", "SOURCE", "LAST_SEEN")
	for _, w := range workers {
		model := w.CurrentModel
		if model == "" {
			model = "-"
		}
		fmt.Printf("%-28s %-8s %-24s %-7d %-6d %-9s %-10s\n",
			w.Endpoint, w.Status, model, w.ModelCount, w.QueueLength,
			w.Source, formatAge(time.Since(w.LastSeen)))
	}
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
}
