package simtraffic

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// assignSubjects retrieves variant assignments for all exposed subjects concurrently.
// The returned map is keyed by subject ID.
func assignSubjects(ctx context.Context, config *Config, journeys []journey, stats *Stats) (map[string]Assignment, error) {
	// Collect the subjects that reach the experiment surface.
	subjectIDs := make([]string, 0, len(journeys))
	for _, j := range journeys {
		if j.Exposed {
			subjectIDs = append(subjectIDs, j.SubjectID)
		}
	}

	log.Printf("🎯 Assigning %d exposed subjects with %d workers...", len(subjectIDs), config.Workers)

	client := newHTTPClient(config.Timeout)

	assignments := make([]Assignment, len(subjectIDs))
	var (
		retrieved int64
		failed    int64
	)

	// Progress reporting
	var lastReport time.Time
	reportInterval := 1 * time.Second

	// Create worker pool
	subjectChan := make(chan int, config.Workers*WorkerChannelMultiplier)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for index := range subjectChan {
				select {
				case <-ctx.Done():
					return
				default:
					subjectID := subjectIDs[index]
					assignment, err := retrieveAssignment(ctx, client, config.BaseURL, config.ExperimentID, subjectID)

					if err != nil {
						atomic.AddInt64(&failed, 1)
						if config.Verbose {
							log.Printf("⚠️  Failed to assign %s: %v", subjectID, err)
						}
					} else {
						assignments[index] = assignment
						atomic.AddInt64(&retrieved, 1)
					}

					// Progress reporting
					if time.Since(lastReport) >= reportInterval {
						lastReport = time.Now()
						total := atomic.LoadInt64(&retrieved) + atomic.LoadInt64(&failed)
						log.Printf("🎯 Assignments: %d/%d retrieved (failed: %d)",
							total, len(subjectIDs), atomic.LoadInt64(&failed))
					}
				}
			}
		}()
	}

	// Send indices to workers
	go func() {
		defer close(subjectChan)
		for i := range subjectIDs {
			select {
			case <-ctx.Done():
				return
			case subjectChan <- i:
			}
		}
	}()

	wg.Wait()

	stats.AssignmentsMade = int(atomic.LoadInt64(&retrieved))

	bySubject := make(map[string]Assignment, len(assignments))
	for _, a := range assignments {
		if a.SubjectID != "" {
			bySubject[a.SubjectID] = a
		}
	}

	log.Printf("✅ Assignment completed: %d retrieved, %d failed",
		stats.AssignmentsMade, int(atomic.LoadInt64(&failed)))

	return bySubject, nil
}

// retrieveAssignment fetches one subject's variant assignment.
func retrieveAssignment(ctx context.Context, client *HTTPClient, baseURL, experimentID, subjectID string) (Assignment, error) {
	url := baseURL + "/assign/" + experimentID + "/" + subjectID

	resp, err := client.Get(ctx, url)
	if err != nil {
		return Assignment{}, fmt.Errorf("failed to request assignment: %w", err)
	}

	if resp.StatusCode != StatusOK {
		_, _ = readResponseBody(resp)
		return Assignment{}, fmt.Errorf("assignment request failed with status: %d", resp.StatusCode)
	}

	var assignment Assignment
	if err := decodeResponse(resp, &assignment); err != nil {
		return Assignment{}, err
	}
	return assignment, nil
}
