package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/razedotbot/solana-ui-sub003/healthmon"
	"github.com/razedotbot/solana-ui-sub003/logutils"
	"github.com/razedotbot/solana-ui-sub003/params"
	"github.com/razedotbot/solana-ui-sub003/rpcpool"
)

var (
	endpointsFile = flag.String("endpoints", "endpoints.json", "Path to the endpoint list (JSON array)")
	watch         = flag.Bool("watch", false, "Keep monitoring and reprint on every pass")
	interval      = flag.Duration("interval", time.Minute, "Monitor interval in watch mode")
	verbose       = flag.Bool("v", false, "Verbose logging")
)

func main() {
	flag.Parse()

	if *verbose {
		logger, _ := zap.NewDevelopment()
		logutils.SetZapLogger(logger)
	}

	endpoints, err := loadEndpoints(*endpointsFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "poolcheck: %v\n", err)
		os.Exit(1)
	}

	cfg := params.NewConfigWithDefaults()
	cfg.Monitor.Interval = *interval
	prober := healthmon.NewProber(cfg.Probe)

	ctx := context.Background()
	if !*watch {
		printResults(endpoints, prober.CheckAll(ctx, endpoints))
		return
	}

	pool, err := rpcpool.NewPool(endpoints, cfg.Pool)
	if err != nil {
		fmt.Fprintf(os.Stderr, "poolcheck: %v\n", err)
		os.Exit(1)
	}

	monitor := healthmon.NewMonitor(pool, prober, endpoints, cfg.Monitor)
	updates := monitor.Subscribe()
	monitor.Start(ctx)
	defer monitor.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case <-updates:
			eps := monitor.Endpoints()
			results := make(map[string]healthmon.Result, len(eps))
			for _, ep := range eps {
				results[ep.URL] = healthmon.Result{Latency: ep.Latency, Status: ep.Health}
			}
			printResults(eps, results)
		case <-sigCh:
			return
		}
	}
}

func loadEndpoints(path string) ([]rpcpool.Endpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var endpoints []rpcpool.Endpoint
	if err := json.Unmarshal(data, &endpoints); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i := range endpoints {
		if endpoints[i].State == "" {
			endpoints[i].State = rpcpool.StateActive
		}
		if endpoints[i].Health == "" {
			endpoints[i].Health = rpcpool.HealthUnknown
		}
	}
	return endpoints, nil
}

func printResults(endpoints []rpcpool.Endpoint, results map[string]healthmon.Result) {
	sorted := make([]rpcpool.Endpoint, len(endpoints))
	copy(sorted, endpoints)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tURL\tPRIORITY\tWEIGHT\tSTATE\tSTATUS\tLATENCY")
	for _, ep := range sorted {
		res, ok := results[ep.URL]
		status, latency := string(ep.Health), "-"
		if ok {
			status = string(res.Status)
			if res.Latency == rpcpool.LatencyInfinite {
				latency = "inf"
			} else {
				latency = res.Latency.Round(time.Millisecond).String()
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			ep.DisplayName(), ep.URL, ep.Priority, ep.Weight, ep.State, status, latency)
	}
	_ = w.Flush()
}
