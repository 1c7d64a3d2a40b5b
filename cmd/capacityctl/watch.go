package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rsvp/pkg/model"
	"rsvp/pkg/subscription"

	"github.com/spf13/pflag"
)

func runWatch(ctx context.Context, args []string) error {
	var f commonFlags
	var maxBackoff time.Duration
	fs := pflag.NewFlagSet("watch", pflag.ContinueOnError)
	f.register(fs)
	fs.DurationVar(&maxBackoff, "max-backoff", subscription.DefaultBackoff.Max, "upper bound on the reconnect delay")

	ok, err := parse(fs, args)
	if !ok || err != nil {
		return err
	}
	if err := f.validate(); err != nil {
		return err
	}

	log := f.logger()
	client := f.httpClient()
	backoff := subscription.DefaultBackoff
	backoff.Max = maxBackoff

	manager := subscription.NewManager(f.eventID,
		&subscription.SSETransport{BaseURL: f.baseURL, Client: client},
		&subscription.HTTPReader{BaseURL: f.baseURL, Client: client},
		subscription.WithBackoff(backoff),
		subscription.WithLogger(log),
		subscription.OnStateChange(func(from, to subscription.State) {
			fmt.Printf("%s  [%s -> %s]\n", time.Now().Format(time.TimeOnly), from, to)
		}),
		subscription.OnUpdate(printFact),
	)

	err = manager.Run(ctx)
	attaches, resyncs := manager.Stats()
	log.Info("Watch stopped", "attaches", attaches, "resyncs", resyncs)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printFact(fact model.CapacityChangeFact) {
	line := fmt.Sprintf("%s  v%-6d %d/%d occupied, %d left",
		time.Now().Format(time.TimeOnly), fact.Version, fact.Occupied, fact.Capacity, fact.Remaining)
	if fact.Status != "" && fact.Status != model.EventPublished {
		line += " (" + string(fact.Status) + ")"
	}
	fmt.Println(line)
}
