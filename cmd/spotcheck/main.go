// Command spotcheck performs a single fetch against the parking API and prints the
// readings, the latest count per sensor and its availability tier.
// With -watch it instead follows a running server's live feed.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/afroash/parking-monitor/internal/client"
	"github.com/afroash/parking-monitor/internal/config"
	"github.com/afroash/parking-monitor/internal/dashboard"
	"github.com/afroash/parking-monitor/internal/ingest"
	"github.com/afroash/parking-monitor/internal/models"
	"github.com/afroash/parking-monitor/internal/server"
)

func main() {
	configPath := flag.String("config", "configs/server.yaml", "path to config file")
	window := flag.Duration("since", time.Hour, "how far back to request readings")
	start := flag.Int64("start", 0, "fixed startDate in epoch seconds (overrides -since)")
	watch := flag.String("watch", "", "websocket URL of a running server, e.g. ws://localhost:8081/ws")
	flag.Parse()

	if *watch != "" {
		watchFeed(*watch)
		return
	}

	cfg, err := config.LoadAppConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	since := time.Now().Add(-*window)
	if *start > 0 {
		since = time.Unix(*start, 0)
	}

	api := ingest.NewClient(ingest.ClientConfig{
		BaseURL: cfg.Upstream.BaseURL,
		APIKey:  cfg.Upstream.APIKey,
		Timeout: cfg.Upstream.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Upstream.Timeout+5*time.Second)
	defer cancel()

	table, stats, err := api.Fetch(ctx, since)
	if err != nil {
		log.Fatalf("Fetch failed: %v", err)
	}

	if err := render(os.Stdout, table, stats, cfg.Sensors); err != nil {
		log.Fatalf("Failed to write output: %v", err)
	}
}

// watchFeed prints the summary of every snapshot pushed by a running server
func watchFeed(url string) {
	logger := config.NewLogger(config.LoggingConfig{Level: "warn", Format: "text"}, os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	conn := client.NewConnection(client.ConnectionConfig{URL: url}, func(d server.DashboardData) {
		renderSummary(os.Stdout, d)
	}, logger)
	conn.Run(ctx)
	conn.Close()
}

// renderSummary prints one line per sensor from a pushed snapshot
func renderSummary(out io.Writer, d server.DashboardData) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	stamp := "never"
	if d.LastSuccess != nil {
		stamp = d.LastSuccess.Local().Format(time.TimeOnly)
	}
	fmt.Fprintf(w, "-- updated %s, %d readings held\n", stamp, d.RowCount)
	if d.LastError != "" {
		fmt.Fprintf(w, "-- last fetch failed: %s\n", d.LastError)
	}
	for _, m := range d.Markers {
		spots := "?"
		if m.Spots != nil {
			spots = fmt.Sprintf("%d", *m.Spots)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", m.Name, spots, m.Tier)
	}
	return w.Flush()
}

// render prints the fetched table followed by the current state of every sensor
func render(out io.Writer, table models.ReadingTable, stats ingest.ParseStats, registry models.Registry) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintf(w, "records: %d\taccepted: %d\tdropped: %d\n\n", stats.Records, stats.Accepted, stats.Dropped)

	fmt.Fprintln(w, "TIMESTAMP\tSENSOR\tSPOTS")
	for _, r := range table {
		fmt.Fprintf(w, "%s\t%s\t%d\n", r.Timestamp.UTC().Format(time.RFC3339), registry.DisplayName(r.SensorID), r.Spots)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "SENSOR\tID\tSPOTS\tTIER")
	for _, m := range dashboard.BuildMapMarkers(models.Latest(table), registry) {
		spots := "?"
		if m.Spots != nil {
			spots = fmt.Sprintf("%d", *m.Spots)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Name, m.SensorID, spots, m.Tier)
	}

	return w.Flush()
}
