package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/chatkool/chat-app/loadtest/client"
	"github.com/chatkool/chat-app/loadtest/stats"
)

// runSaturate opens the requested number of connections over the ramp-up
// period, binds each to its own identity and holds them open, counting
// connections the server drops.
func runSaturate(args []string) {
	fs := flag.NewFlagSet("saturate", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	connections := fs.Int("connections", 1000, "Number of connections to open")
	rampUp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration")
	hold := fs.Duration("hold", 30*time.Second, "Hold duration after all connections are open")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous connection attempts during ramp-up")
	fs.Parse(args)

	fmt.Printf("Saturate test: %d connections to %s (ramp=%s, hold=%s, concurrency=%d)\n",
		*connections, *url, *rampUp, *hold, *concurrency)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	clients := connectAll(ctx, *url, "s", *connections, *rampUp, *concurrency, collector)
	defer func() {
		for _, c := range clients {
			c.Close()
		}
	}()

	fmt.Printf("\n--- Hold phase (%s, %d open) ---\n", *hold, len(clients))
	select {
	case <-ctx.Done():
	case <-time.After(*hold):
	}

	for _, c := range clients {
		select {
		case <-c.Done():
			collector.Inc("dropped")
		default:
		}
	}
	collector.Report()
}

// connectAll dials n clients at an even pace across rampUp and returns the
// ones that bound successfully.
func connectAll(ctx context.Context, url, prefix string, n int, rampUp time.Duration, concurrency int, collector *stats.Collector) []*client.Client {
	interval := rampUp / time.Duration(max(n, 1))
	if interval <= 0 {
		interval = time.Millisecond
	}

	var (
		mu      sync.Mutex
		clients = make([]*client.Client, 0, n)
		wg      sync.WaitGroup
		sem     = make(chan struct{}, max(concurrency, 1))
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			wg.Wait()
			return clients
		case <-ticker.C:
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			c, err := client.Dial(dialCtx, url, identity(prefix, i))
			if err != nil {
				collector.AddError()
				return
			}
			collector.AddConnect(c.GetMetrics().ConnectLatency)

			mu.Lock()
			clients = append(clients, c)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	fmt.Printf("Connected %d/%d (errors=%d)\n", len(clients), n, collector.ErrorCount())
	return clients
}
