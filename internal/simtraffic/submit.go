package simtraffic

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// submitEvents submits events concurrently using worker pools.
func submitEvents(ctx context.Context, config *Config, events []Event, stats *Stats) error {
	log.Printf("📤 Submitting %d events with %d workers...", len(events), config.Workers)

	client := newHTTPClient(config.Timeout)
	url := config.BaseURL + "/events"

	// Counters for statistics
	var (
		accepted  int64
		duplicate int64
		failed    int64
		submitted int64
	)

	// Progress reporting
	var lastReport time.Time
	reportInterval := 1 * time.Second

	// Create worker pool
	eventChan := make(chan Event, config.Workers*WorkerChannelMultiplier)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for event := range eventChan {
				select {
				case <-ctx.Done():
					return
				default:
					result := submitSingleEvent(ctx, client, url, event)

					// Update counters
					atomic.AddInt64(&submitted, 1)
					switch result {
					case "accepted":
						atomic.AddInt64(&accepted, 1)
					case "duplicate":
						atomic.AddInt64(&duplicate, 1)
					case "failed":
						atomic.AddInt64(&failed, 1)
					}

					// Progress reporting
					if time.Since(lastReport) >= reportInterval {
						lastReport = time.Now()
						total := atomic.LoadInt64(&submitted)
						acc := atomic.LoadInt64(&accepted)
						dup := atomic.LoadInt64(&duplicate)
						fail := atomic.LoadInt64(&failed)

						if config.Verbose {
							log.Printf("📊 Progress: %d/%d submitted (accepted: %d, duplicate: %d, failed: %d)",
								total, len(events), acc, dup, fail)
						} else {
							fmt.Printf("\r📤 Submitted: %d/%d (accepted: %d, duplicate: %d, failed: %d)",
								total, len(events), acc, dup, fail)
						}
					}
				}
			}
		}()
	}

	// Send events to workers
	go func() {
		defer close(eventChan)
		for _, event := range events {
			select {
			case <-ctx.Done():
				return
			case eventChan <- event:
			}
		}
	}()

	// Wait for all workers to complete
	wg.Wait()

	// Final progress report
	if !config.Verbose {
		fmt.Println() // New line after progress indicator
	}

	// Update stats
	stats.EventsSubmitted = int(atomic.LoadInt64(&submitted))
	stats.EventsAccepted = int(atomic.LoadInt64(&accepted))
	stats.EventsDuplicate = int(atomic.LoadInt64(&duplicate))
	stats.EventsFailed = int(atomic.LoadInt64(&failed))

	log.Printf(`✅ Event submission completed:
   Accepted: %d
   Duplicate: %d
   Failed: %d
`, stats.EventsAccepted, stats.EventsDuplicate, stats.EventsFailed)

	return nil
}

// submitSingleEvent submits a single event and returns the result.
func submitSingleEvent(ctx context.Context, client *HTTPClient, url string, event Event) string {
	resp, err := client.Post(ctx, url, event)
	if err != nil {
		return "failed"
	}

	body, err := readResponseBody(resp)
	if err != nil {
		return "failed"
	}

	switch resp.StatusCode {
	case StatusAccepted:
		return "accepted"
	case StatusOK:
		// OK means the engine already saw this event ID.
		var ack AckResponse
		if err := json.Unmarshal(body, &ack); err == nil && ack.Duplicate {
			return "duplicate"
		}
		return "duplicate"
	default:
		// Includes 429 backpressure rejections.
		return "failed"
	}
}
