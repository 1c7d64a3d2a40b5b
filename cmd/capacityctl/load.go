package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"sort"
	"sync"
	"text/tabwriter"
	"time"

	"rsvp/pkg/logger"
	"rsvp/pkg/model"

	"github.com/spf13/pflag"
)

type loadFlags struct {
	commonFlags
	requesters  int
	concurrency int
	open        int
	retries     int
	prefix      string
}

type loadResult struct {
	label    string
	attempts int
	latency  time.Duration
}

func runLoad(ctx context.Context, args []string) error {
	var f loadFlags
	fs := pflag.NewFlagSet("load", pflag.ContinueOnError)
	f.register(fs)
	fs.IntVarP(&f.requesters, "requesters", "n", 100, "number of distinct requesters")
	fs.IntVarP(&f.concurrency, "concurrency", "c", 32, "requests in flight")
	fs.IntVar(&f.open, "open", 0, "publish the event with this capacity first (0 keeps the current state)")
	fs.IntVar(&f.retries, "retries", 5, "client retries for retryable rejections")
	fs.StringVar(&f.prefix, "prefix", "load", "requester ID prefix")

	ok, err := parse(fs, args)
	if !ok || err != nil {
		return err
	}
	if err := f.validate(); err != nil {
		return err
	}
	if f.requesters <= 0 || f.concurrency <= 0 {
		return fmt.Errorf("--requesters and --concurrency must be positive")
	}

	log := f.logger()
	client := &apiClient{baseURL: f.baseURL, http: f.httpClient()}

	if f.open > 0 {
		snap, err := withTimeout(ctx, f.timeout, func(ctx context.Context) (*model.CapacityResponse, error) {
			return client.publish(ctx, f.eventID, f.open)
		})
		if err != nil {
			return err
		}
		log.Info("Event published", "event_id", snap.EventID, "capacity", snap.Capacity, "version", snap.Version)
	}

	before, err := withTimeout(ctx, f.timeout, func(ctx context.Context) (*model.CapacityResponse, error) {
		return client.capacity(ctx, f.eventID)
	})
	if err != nil {
		return err
	}

	start := time.Now()
	results := fire(ctx, client, &f, log)
	elapsed := time.Since(start)

	after, err := withTimeout(ctx, f.timeout, func(ctx context.Context) (*model.CapacityResponse, error) {
		return client.capacity(ctx, f.eventID)
	})
	if err != nil {
		return err
	}

	confirmed := report(results, elapsed)
	fmt.Printf("\ncapacity %d, occupied %d -> %d, version %d -> %d\n",
		after.Capacity, before.Occupied, after.Occupied, before.Version, after.Version)

	if after.Occupied > after.Capacity {
		return fmt.Errorf("oversold: occupied %d exceeds capacity %d", after.Occupied, after.Capacity)
	}
	if before.Occupied+confirmed != after.Occupied {
		log.Warn("Occupancy moved by a different amount than this run confirmed; other writers may be active",
			"confirmed", confirmed,
			"delta", after.Occupied-before.Occupied,
		)
	}
	return nil
}

func fire(ctx context.Context, client *apiClient, f *loadFlags, log *logger.Logger) []loadResult {
	jobs := make(chan int)
	results := make([]loadResult, f.requesters)

	var wg sync.WaitGroup
	for range f.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = reserveWithRetry(ctx, client, f, fmt.Sprintf("%s-%d", f.prefix, i), log)
			}
		}()
	}

	for i := range f.requesters {
		select {
		case jobs <- i:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()
	return results
}

func reserveWithRetry(ctx context.Context, client *apiClient, f *loadFlags, requester string, log *logger.Logger) loadResult {
	start := time.Now()
	for attempt := 1; ; attempt++ {
		r, err := withTimeout(ctx, f.timeout, func(ctx context.Context) (reply, error) {
			return client.reserve(ctx, f.eventID, requester)
		})

		var label string
		retryable := false
		switch {
		case err != nil:
			label, retryable = "transport error", true
			log.Debug("Reservation request failed", "requester", requester, "attempt", attempt, "error", err)
		case r.failed():
			label, retryable = r.Code, r.Retryable
		case r.Reason != model.ReasonNone:
			label = string(r.Status) + "/" + string(r.Reason)
		default:
			label = string(r.Status)
		}

		if !retryable || attempt > f.retries || ctx.Err() != nil {
			return loadResult{label: label, attempts: attempt, latency: time.Since(start)}
		}

		backoff := time.Duration(10*attempt)*time.Millisecond + rand.N(10*time.Millisecond)
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
	}
}

// report prints outcome counts and returns how many reservations this run
// confirmed.
func report(results []loadResult, elapsed time.Duration) int {
	counts := make(map[string]int)
	retried := 0
	latencies := make([]time.Duration, 0, len(results))
	for _, r := range results {
		if r.label == "" {
			continue
		}
		counts[r.label]++
		if r.attempts > 1 {
			retried++
		}
		latencies = append(latencies, r.latency)
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	labels := make([]string, 0, len(counts))
	for label := range counts {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "OUTCOME\tCOUNT")
	for _, label := range labels {
		fmt.Fprintf(w, "%s\t%d\n", label, counts[label])
	}
	_ = w.Flush()

	fmt.Printf("\n%d requests in %s, %d retried", len(latencies), elapsed.Round(time.Millisecond), retried)
	if n := len(latencies); n > 0 {
		fmt.Printf(", p50 %s, p99 %s", latencies[n/2].Round(time.Microsecond), latencies[(n*99)/100].Round(time.Microsecond))
	}
	fmt.Println()

	return counts[string(model.OutcomeConfirmed)]
}

func withTimeout[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}
