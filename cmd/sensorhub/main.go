package main

import (
	"bufio"
	"context"
	_ "embed"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/eldaeon/sensorhub"
)

//go:embed assets/banner.txt
var banner string

func main() {
	if len(os.Args) < 2 {
		fmt.Print(banner)
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		fmt.Print(banner)
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "help", "-h", "--help":
		fmt.Print(banner)
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("sensorhub %s: %v", cmd, err)
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "./config.yaml", "Path to sensorhub configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	flow, err := sensorhub.Conf(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return flow.Run(ctx)
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "./config.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := sensorhub.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	fmt.Printf("config %s looks good: %d device(s), gps=%t, http=%s\n",
		*cfgPath, len(cfg.Devices), cfg.GPS.Enabled, cfg.HTTP.Addr)
	return nil
}

func statsCommand(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	url := fs.String("url", "http://localhost:5000/metrics", "Prometheus metrics endpoint")
	interval := fs.Duration("interval", 2*time.Second, "Refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	fmt.Printf("Streaming metrics from %s (Ctrl+C to stop)\n", *url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := printMetricsSnapshot(ctx, *url); err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
			}
		}
	}
}

// statsMetrics are summed over their labels and printed in this order.
var statsMetrics = []struct{ name, label string }{
	{"sensorhub_samples_written_total", "samples"},
	{"sensorhub_poll_errors_total", "poll_errors"},
	{"sensorhub_reconnects_total", "reconnects"},
	{"sensorhub_gps_nofix_total", "gps_nofix"},
	{"sensorhub_history_frames", "history"},
	{"sensorhub_stream_subscribers", "subscribers"},
	{"sensorhub_export_queue_length", "queue"},
	{"sensorhub_export_dropped_total", "dropped"},
}

func printMetricsSnapshot(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	totals, err := sumMetrics(resp.Body)
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", time.Now().Format(time.RFC3339))
	for _, m := range statsMetrics {
		fmt.Fprintf(&b, " %s=%g", m.label, totals[m.name])
	}
	fmt.Println(b.String())
	return nil
}

// sumMetrics reads Prometheus text exposition and sums every sensorhub_
// sample by metric name.
func sumMetrics(r io.Reader) (map[string]float64, error) {
	totals := make(map[string]float64)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "sensorhub_") {
			continue
		}
		name, rest, ok := strings.Cut(line, " ")
		if i := strings.IndexByte(line, '{'); i >= 0 {
			name = line[:i]
			if j := strings.LastIndexByte(line, '}'); j > i {
				rest, ok = strings.TrimSpace(line[j+1:]), true
			}
		}
		if !ok {
			continue
		}
		var value float64
		if _, err := fmt.Sscanf(rest, "%g", &value); err == nil {
			totals[name] += value
		}
	}
	return totals, scanner.Err()
}

func printUsage() {
	names := make([]string, 0, len(statsMetrics))
	for _, m := range statsMetrics {
		names = append(names, m.label)
	}
	sort.Strings(names)
	fmt.Printf(`sensorhub CLI

Usage:
  sensorhub <command> [flags]

Commands:
  run        Start acquisition, the REST/WebSocket API and the export sinks
  validate   Load and validate a config file without starting the runtime
  stats      Poll the Prometheus metrics endpoint and print live counters (%s)

Examples:
  sensorhub run -config ./config.yaml
  sensorhub validate -config ./config.yaml
  sensorhub stats -url http://localhost:5000/metrics -interval 1s
`, strings.Join(names, ", "))
}
