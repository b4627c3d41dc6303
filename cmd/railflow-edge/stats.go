package main

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	statsURL      string
	statsInterval time.Duration
)

// statsColumns are printed in this order.
var statsColumns = []struct {
	metric string
	label  string
}{
	{"railflow_sessions_total", "sessions"},
	{"railflow_patches_written_total", "patches"},
	{"railflow_rows_emitted_total", "emitted"},
	{"railflow_rows_finalized_total", "forced"},
	{"railflow_wheel_pending", "wheel_pending"},
	{"railflow_journal_queue_length", "queue"},
	{"railflow_wal_size_bytes", "wal_bytes"},
	{"railflow_feed_dropped_total", "feed_dropped"},
}

var statsCmd = &cobra.Command{
	Use:     "stats",
	Short:   "Poll the Prometheus metrics endpoint and print live counters",
	Example: `  railflow-edge stats --url http://localhost:9100/metrics --interval 1s`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		client := &http.Client{Timeout: 5 * time.Second}
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Streaming metrics from %s (Ctrl+C to stop)\n", statsURL)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				values, err := scrape(client, statsURL)
				if err != nil {
					fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
					continue
				}
				fmt.Fprintln(out, formatStats(time.Now(), values))
			}
		}
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsURL, "url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	statsCmd.Flags().DurationVar(&statsInterval, "interval", 2*time.Second, "Refresh interval")
}

func scrape(client *http.Client, url string) (map[string]float64, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics reads unlabelled railflow_* samples from the text exposition format.
func parseMetrics(r io.Reader) (map[string]float64, error) {
	values := make(map[string]float64)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "railflow_") {
			continue
		}
		name, raw, ok := strings.Cut(line, " ")
		if !ok || strings.Contains(name, "{") {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			continue
		}
		values[name] = v
	}
	return values, scanner.Err()
}

func formatStats(now time.Time, values map[string]float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", now.Format(time.RFC3339))
	for _, c := range statsColumns {
		fmt.Fprintf(&b, " %s=%g", c.label, values[c.metric])
	}
	return b.String()
}
