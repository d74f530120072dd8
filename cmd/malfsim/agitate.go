package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/MRamiBalles/malfunction-engine/internal/events"
	"github.com/MRamiBalles/malfunction-engine/internal/network"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/logger"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/random"
)

// agitateConfig describes one stream load run against a live server.
type agitateConfig struct {
	URL      string
	Clients  int
	Churn    time.Duration // interval between subscription changes, 0 keeps the first one
	Duration time.Duration
	Entities []string // pool for random entity filters, empty means no filter
	Seed     uint64
}

// agitateStats is shared by every client goroutine.
type agitateStats struct {
	Connected    int64
	Received     int64
	Resubscribed int64
	Errors       int64

	mu     sync.Mutex
	byType map[events.EventType]int64
	lags   []time.Duration
}

func (s *agitateStats) record(e events.Event, at time.Time) {
	atomic.AddInt64(&s.Received, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byType[e.Type]++
	if !e.Timestamp.IsZero() {
		s.lags = append(s.lags, at.Sub(e.Timestamp))
	}
}

var (
	agitateURL      string
	agitateClients  int
	agitateChurn    time.Duration
	agitateDuration time.Duration
	agitateEntities []string
	agitateSeed     uint64
	agitateOut      string
)

var agitateCmd = &cobra.Command{
	Use:   "agitate",
	Short: "Load-test the live event stream with many WebSocket subscribers",
	Long: `agitate opens many WebSocket subscribers against a running server. Each one keeps
changing its subscription filter while counting the events it receives and how long
they took to arrive.`,
	RunE: runAgitate,
}

func init() {
	agitateCmd.Flags().StringVar(&agitateURL, "url", "ws://localhost:8080/ws", "WebSocket endpoint")
	agitateCmd.Flags().IntVar(&agitateClients, "clients", 50, "Concurrent subscribers")
	agitateCmd.Flags().DurationVar(&agitateChurn, "churn", 2*time.Second, "Interval between subscription changes per client (0 disables)")
	agitateCmd.Flags().DurationVar(&agitateDuration, "duration", time.Minute, "Test duration")
	agitateCmd.Flags().StringSliceVar(&agitateEntities, "entities", nil, "Entity names to draw subscription filters from")
	agitateCmd.Flags().Uint64Var(&agitateSeed, "seed", 1, "Random seed for the filters")
	agitateCmd.Flags().StringVar(&agitateOut, "out", "", "Write the results as JSON to this file")
}

// validate rejects flag combinations agitate cannot run with.
func (cfg agitateConfig) validate() error {
	if cfg.Clients < 1 {
		return errors.New("--clients must be at least 1")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return errors.Wrap(err, "bad --url")
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.Errorf("bad --url %q: scheme must be ws or wss", cfg.URL)
	}
	return nil
}

func runAgitate(cmd *cobra.Command, args []string) error {
	cfg := agitateConfig{
		URL:      agitateURL,
		Clients:  agitateClients,
		Churn:    agitateChurn,
		Duration: agitateDuration,
		Entities: agitateEntities,
		Seed:     agitateSeed,
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	appLogger := logger.NewLogger()
	defer appLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appLogger.Infof("Agitating %s with %d subscriber(s) for %v", cfg.URL, cfg.Clients, cfg.Duration)
	started := time.Now()
	stats := agitate(ctx, cfg, appLogger)
	took := time.Since(started)

	printAgitation(cmd.OutOrStdout(), stats, took)
	if agitateOut == "" {
		return nil
	}
	data, err := json.MarshalIndent(agitationResults(stats, cfg, took), "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode results")
	}
	return errors.Wrapf(os.WriteFile(agitateOut, data, 0o644), "write %s", agitateOut)
}

// agitate runs every subscriber until the duration elapses or ctx ends.
func agitate(ctx context.Context, cfg agitateConfig, log *logger.Logger) *agitateStats {
	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	stats := &agitateStats{byType: make(map[events.EventType]int64)}
	root := random.New(cfg.Seed)

	var wg sync.WaitGroup
	for i := 0; i < cfg.Clients; i++ {
		rng := root.Split()
		wg.Add(1)
		go func() {
			defer wg.Done()
			subscriber(ctx, i, cfg, rng, stats, log)
		}()

		// Stagger connects so the hub's register channel is not flooded.
		select {
		case <-ctx.Done():
		case <-time.After(10 * time.Millisecond):
		}
	}
	wg.Wait()
	return stats
}

func subscriber(ctx context.Context, id int, cfg agitateConfig, rng *random.Source, stats *agitateStats, log *logger.Logger) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		if ctx.Err() == nil {
			log.Warnf("Subscriber %d: dial failed: %v", id, err)
			atomic.AddInt64(&stats.Errors, 1)
		}
		return
	}
	atomic.AddInt64(&stats.Connected, 1)

	// The read loop ends when the deferred close below unblocks it.
	done := make(chan struct{})
	defer func() {
		conn.Close()
		<-done
	}()
	go func() {
		defer close(done)
		for {
			var e events.Event
			if err := conn.ReadJSON(&e); err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					atomic.AddInt64(&stats.Errors, 1)
				}
				return
			}
			stats.record(e, time.Now())
		}
	}()

	if err := conn.WriteJSON(randomSubscription(rng, cfg.Entities)); err != nil {
		atomic.AddInt64(&stats.Errors, 1)
		return
	}
	if cfg.Churn <= 0 {
		select {
		case <-ctx.Done():
		case <-done:
		}
		return
	}

	ticker := time.NewTicker(cfg.Churn)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteJSON(randomSubscription(rng, cfg.Entities)); err != nil {
				atomic.AddInt64(&stats.Errors, 1)
				return
			}
			atomic.AddInt64(&stats.Resubscribed, 1)
		}
	}
}

// randomSubscription draws a filter over a random subset of pool. An empty
// pool, or an empty draw, asks for every entity.
func randomSubscription(rng *random.Source, pool []string) network.Subscription {
	sub := network.Subscription{Action: "subscribe"}
	if len(pool) == 0 {
		return sub
	}
	n := rng.IntN(len(pool) + 1)
	picked := append([]string(nil), pool...)
	rng.Shuffle(len(picked), func(i, j int) { picked[i], picked[j] = picked[j], picked[i] })
	sub.Entities = picked[:n]
	return sub
}

type lagSummary struct {
	Min, Avg, Max time.Duration
}

func (s *agitateStats) lagSummary() (lagSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lags) == 0 {
		return lagSummary{}, false
	}
	out := lagSummary{Min: s.lags[0], Max: s.lags[0]}
	var total time.Duration
	for _, l := range s.lags {
		total += l
		out.Min = min(out.Min, l)
		out.Max = max(out.Max, l)
	}
	out.Avg = total / time.Duration(len(s.lags))
	return out, true
}

func printAgitation(out io.Writer, s *agitateStats, took time.Duration) {
	fmt.Fprintln(out, titleStyle.Render("Event stream load"))
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Connected\t%s\n", humanize.Comma(atomic.LoadInt64(&s.Connected)))
	fmt.Fprintf(tw, "Received\t%s\n", humanize.Comma(atomic.LoadInt64(&s.Received)))
	fmt.Fprintf(tw, "Resubscribed\t%s\n", humanize.Comma(atomic.LoadInt64(&s.Resubscribed)))
	fmt.Fprintf(tw, "Errors\t%s\n", humanize.Comma(atomic.LoadInt64(&s.Errors)))
	if secs := took.Seconds(); secs > 0 {
		fmt.Fprintf(tw, "Throughput\t%s events/s\n", humanize.FtoaWithDigits(float64(atomic.LoadInt64(&s.Received))/secs, 2))
	}
	if lag, ok := s.lagSummary(); ok {
		fmt.Fprintf(tw, "Delivery lag\tmin %v  avg %v  max %v\n", lag.Min, lag.Avg, lag.Max)
	}
	tw.Flush()

	s.mu.Lock()
	types := make([]events.EventType, 0, len(s.byType))
	for t := range s.byType {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	if len(types) > 0 {
		fmt.Fprintln(out, sectionStyle.Render("By type"))
		tw = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, t := range types {
			fmt.Fprintf(tw, "%s\t%s\n", t, humanize.Comma(s.byType[t]))
		}
		tw.Flush()
	}
	s.mu.Unlock()
}

func agitationResults(s *agitateStats, cfg agitateConfig, took time.Duration) map[string]interface{} {
	s.mu.Lock()
	byType := make(map[string]int64, len(s.byType))
	for t, n := range s.byType {
		byType[string(t)] = n
	}
	s.mu.Unlock()

	res := map[string]interface{}{
		"connected":    atomic.LoadInt64(&s.Connected),
		"received":     atomic.LoadInt64(&s.Received),
		"resubscribed": atomic.LoadInt64(&s.Resubscribed),
		"errors":       atomic.LoadInt64(&s.Errors),
		"by_type":      byType,
		"elapsed":      took.String(),
		"config": map[string]interface{}{
			"clients":  cfg.Clients,
			"churn":    cfg.Churn.String(),
			"duration": cfg.Duration.String(),
		},
	}
	if lag, ok := s.lagSummary(); ok {
		res["lag_ms"] = map[string]float64{
			"min": float64(lag.Min) / float64(time.Millisecond),
			"avg": float64(lag.Avg) / float64(time.Millisecond),
			"max": float64(lag.Max) / float64(time.Millisecond),
		}
	}
	return res
}
