package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/chatkool/chat-app/loadtest/client"
	"github.com/chatkool/chat-app/loadtest/stats"
)

const latencyPrefix = "lt:"

// chatter tracks when one client got matched.
type chatter struct {
	c       *client.Client
	matched chan struct{}
	once    sync.Once
}

// runChat drives the full chat lifecycle for 2*pairs clients: bind,
// find_match, exchange timestamped messages for chat-duration, end_chat.
// Partners are whoever the server picks, including personas when the
// handoff delay passes first.
func runChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	pairs := fs.Int("pairs", 100, "Number of user pairs")
	rampUp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration for connection creation")
	chatDuration := fs.Duration("chat-duration", 30*time.Second, "How long each pair chats")
	msgInterval := fs.Duration("msg-interval", 2*time.Second, "Interval between messages per user")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous connection attempts during ramp-up")
	matchTimeout := fs.Duration("match-timeout", 30*time.Second, "Timeout waiting for match_found")
	fs.Parse(args)

	fmt.Printf("Chat test: %d pairs to %s (ramp=%s, chat=%s, interval=%s)\n",
		*pairs, *url, *rampUp, *chatDuration, *msgInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()

	fmt.Println("\n--- Phase 1: Connect all users ---")
	clients := connectAll(ctx, *url, "c", *pairs*2, *rampUp, *concurrency, collector)
	defer func() {
		for _, c := range clients {
			c.Close()
		}
	}()

	chatters := make([]*chatter, len(clients))
	for i, c := range clients {
		chatters[i] = watch(c, collector)
	}

	fmt.Println("\n--- Phase 2: Match ---")
	var wg sync.WaitGroup
	for _, ch := range chatters {
		wg.Add(1)
		go func(ch *chatter) {
			defer wg.Done()
			start := time.Now()
			if err := ch.c.Send(map[string]string{"type": client.TypeFindMatch}); err != nil {
				collector.AddError()
				return
			}
			select {
			case <-ch.matched:
				collector.AddMatchLatency(time.Since(start))
			case <-time.After(*matchTimeout):
				collector.Inc("match_timeouts")
			case <-ctx.Done():
			}
		}(ch)
	}
	wg.Wait()

	fmt.Println("\n--- Phase 3: Chat ---")
	deadline := time.Now().Add(*chatDuration)
	for _, ch := range chatters {
		wg.Add(1)
		go func(ch *chatter) {
			defer wg.Done()
			ticker := time.NewTicker(*msgInterval)
			defer ticker.Stop()
			for time.Now().Before(deadline) {
				select {
				case <-ctx.Done():
					return
				case <-ch.c.Done():
					return
				case <-ticker.C:
				}
				if err := ch.c.Chat(latencyPrefix + strconv.FormatInt(time.Now().UnixNano(), 10)); err != nil {
					collector.AddError()
					return
				}
			}
		}(ch)
	}
	wg.Wait()

	fmt.Println("\n--- Phase 4: End chats ---")
	for _, ch := range chatters {
		_ = ch.c.Send(map[string]string{"type": client.TypeEndChat})
	}
	time.Sleep(time.Second)

	collector.Report()
}

// watch installs the handlers that record match and relay outcomes for c.
func watch(c *client.Client, collector *stats.Collector) *chatter {
	ch := &chatter{c: c, matched: make(chan struct{})}

	c.On(client.TypeMatchFound, func(raw json.RawMessage) {
		var m struct {
			Partner string `json:"partner"`
		}
		if json.Unmarshal(raw, &m) != nil {
			return
		}
		if !strings.HasPrefix(m.Partner, "lt-") {
			collector.Inc("persona_matches")
		}
		ch.once.Do(func() { close(ch.matched) })
	})

	c.On(client.TypeMessage, func(raw json.RawMessage) {
		var m struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		}
		if json.Unmarshal(raw, &m) != nil {
			return
		}
		content := m.Message.Content
		if !strings.HasPrefix(content, latencyPrefix) {
			collector.Inc("persona_messages")
			return
		}
		ns, err := strconv.ParseInt(strings.TrimPrefix(content, latencyPrefix), 10, 64)
		if err != nil {
			return
		}
		collector.AddMsgLatency(time.Since(time.Unix(0, ns)))
	})

	c.On(client.TypePartnerLeft, func(json.RawMessage) { collector.Inc("partner_left") })
	c.On(client.TypeChatEnded, func(json.RawMessage) { collector.Inc("chat_ended") })
	c.On(client.TypeError, func(raw json.RawMessage) {
		var m struct {
			Reason string `json:"reason"`
		}
		if json.Unmarshal(raw, &m) == nil {
			collector.Inc("error_" + m.Reason)
		}
	})
	return ch
}
