package worker_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/upliftlab/uplift/internal/adapters/mq/queue"
	"github.com/upliftlab/uplift/internal/adapters/mq/worker"
	"github.com/upliftlab/uplift/internal/adapters/repository"
	"github.com/upliftlab/uplift/internal/domain/assign"
	"github.com/upliftlab/uplift/internal/domain/experiment"
	"github.com/upliftlab/uplift/internal/domain/funnel"
	"github.com/upliftlab/uplift/internal/domain/model"
	"github.com/upliftlab/uplift/pkg/logger"
)

func init() {
	// Initialize logging for tests
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

type fixture struct {
	buffer   *queue.RingBuffer
	tracker  *funnel.Tracker
	registry *experiment.Registry
	agg      *worker.Aggregator
	expID    string
}

func newFixture(ctx context.Context, start bool) *fixture {
	registry := experiment.NewRegistry()
	created, err := registry.Create(ctx, experiment.Experiment{
		Name:              "checkout-copy",
		GoalMetric:        "purchase",
		TrafficAllocation: 100,
		Variants: []experiment.Variant{
			{ID: "control", Name: "Control", TrafficShare: 50},
			{ID: "b", Name: "Variant B", TrafficShare: 50},
		},
	})
	if err != nil {
		panic(err)
	}
	if start {
		if _, err := registry.Start(ctx, created.ID); err != nil {
			panic(err)
		}
	}

	buffer := queue.NewRingBuffer(queue.WithCapacity(10_000))
	tracker := funnel.NewTracker()
	assigner := assign.New(registry, repository.NewShardStore())

	return &fixture{
		buffer:   buffer,
		tracker:  tracker,
		registry: registry,
		agg:      worker.NewAggregator(buffer, tracker, assigner, registry),
		expID:    created.ID,
	}
}

// runAndStop starts the drain loop and immediately shuts it down; Shutdown
// performs a final sweep, so everything appended beforehand gets routed.
func (f *fixture) runAndStop(ctx context.Context) error {
	go f.agg.Run(ctx)
	return f.agg.Shutdown(ctx)
}

func TestAggregator(t *testing.T) {
	ctx := context.Background()
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	Convey("Given buffered funnel-step events", t, func() {
		f := newFixture(ctx, true)
		for i := 0; i < 50; i++ {
			f.buffer.Append(ctx, model.Event{
				SubjectID: fmt.Sprintf("s-%d", i),
				Kind:      model.KindFunnelStep,
				StepID:    "landing",
				TS:        ts,
			})
		}

		Convey("When the aggregator drains", func() {
			So(f.runAndStop(ctx), ShouldBeNil)

			Convey("Then every observation lands in the tracker", func() {
				So(f.tracker.Size(), ShouldEqual, 50)
				So(f.buffer.Len(ctx), ShouldEqual, 0)
			})
		})
	})

	Convey("Given exposure and conversion traffic", t, func() {
		f := newFixture(ctx, true)
		for i := 0; i < 200; i++ {
			subject := fmt.Sprintf("s-%d", i)
			f.buffer.Append(ctx, model.Event{
				SubjectID:    subject,
				Kind:         model.KindExposure,
				ExperimentID: f.expID,
				TS:           ts,
			})
			if i < 40 {
				f.buffer.Append(ctx, model.Event{
					SubjectID:    subject,
					Kind:         model.KindConversion,
					ExperimentID: f.expID,
					TS:           ts,
				})
			}
		}

		Convey("When the aggregator drains", func() {
			So(f.runAndStop(ctx), ShouldBeNil)

			Convey("Then per-variant tallies cover the population", func() {
				counts, err := f.registry.Counts(ctx, f.expID)
				So(err, ShouldBeNil)

				var visitors, conversions int64
				for _, c := range counts {
					So(c.Conversions, ShouldBeLessThanOrEqualTo, c.Visitors)
					visitors += c.Visitors
					conversions += c.Conversions
				}
				So(visitors, ShouldEqual, 200)
				So(conversions, ShouldEqual, 40)
			})
		})
	})

	Convey("Given duplicate exposures for one subject", t, func() {
		f := newFixture(ctx, true)
		for i := 0; i < 5; i++ {
			f.buffer.Append(ctx, model.Event{
				SubjectID:    "s-1",
				Kind:         model.KindExposure,
				ExperimentID: f.expID,
				TS:           ts,
			})
		}

		Convey("When the aggregator drains", func() {
			So(f.runAndStop(ctx), ShouldBeNil)

			Convey("Then the subject is counted once", func() {
				counts, err := f.registry.Counts(ctx, f.expID)
				So(err, ShouldBeNil)

				var visitors int64
				for _, c := range counts {
					visitors += c.Visitors
				}
				So(visitors, ShouldEqual, 1)
			})
		})
	})

	Convey("Given a conversion without a prior exposure", t, func() {
		f := newFixture(ctx, true)
		f.buffer.Append(ctx, model.Event{
			SubjectID:    "ghost",
			Kind:         model.KindConversion,
			ExperimentID: f.expID,
			TS:           ts,
		})

		Convey("When the aggregator drains", func() {
			So(f.runAndStop(ctx), ShouldBeNil)

			Convey("Then no variant is credited", func() {
				counts, err := f.registry.Counts(ctx, f.expID)
				So(err, ShouldBeNil)
				for _, c := range counts {
					So(c.Conversions, ShouldEqual, 0)
				}
			})
		})
	})

	Convey("Given exposures against a draft experiment", t, func() {
		f := newFixture(ctx, false)
		f.buffer.Append(ctx, model.Event{
			SubjectID:    "s-1",
			Kind:         model.KindExposure,
			ExperimentID: f.expID,
			TS:           ts,
		})

		Convey("When the aggregator drains", func() {
			So(f.runAndStop(ctx), ShouldBeNil)

			Convey("Then nothing is counted", func() {
				counts, err := f.registry.Counts(ctx, f.expID)
				So(err, ShouldBeNil)
				for _, c := range counts {
					So(c.Visitors, ShouldEqual, 0)
				}
			})
		})
	})

	Convey("Given exposures against an unknown experiment", t, func() {
		f := newFixture(ctx, true)
		f.buffer.Append(ctx, model.Event{
			SubjectID:    "s-1",
			Kind:         model.KindExposure,
			ExperimentID: "nope",
			TS:           ts,
		})
		f.buffer.Append(ctx, model.Event{
			SubjectID: "s-1",
			Kind:      model.KindPageView,
			TS:        ts,
		})

		Convey("When the aggregator drains", func() {
			Convey("Then the batch completes without error", func() {
				So(f.runAndStop(ctx), ShouldBeNil)
				So(f.buffer.Len(ctx), ShouldEqual, 0)
			})
		})
	})

	Convey("Given a ticking aggregator", t, func() {
		f := newFixture(ctx, true)
		agg := worker.NewAggregator(f.buffer, f.tracker, assign.New(f.registry, repository.NewShardStore()), f.registry,
			worker.WithDrainInterval(5*time.Millisecond),
			worker.WithBatchSize(10),
		)

		Convey("When events arrive while it runs", func() {
			go agg.Run(ctx)
			for i := 0; i < 100; i++ {
				f.buffer.Append(ctx, model.Event{
					SubjectID: fmt.Sprintf("s-%d", i),
					Kind:      model.KindFunnelStep,
					StepID:    "landing",
					TS:        ts,
				})
			}

			Convey("Then the buffer empties within a few ticks", func() {
				deadline := time.After(2 * time.Second)
				for f.tracker.Size() < 100 {
					select {
					case <-deadline:
						t.Fatal("aggregator did not drain in time")
					case <-time.After(5 * time.Millisecond):
					}
				}
				So(agg.Shutdown(ctx), ShouldBeNil)
				So(f.tracker.Size(), ShouldEqual, 100)
			})
		})
	})
}
