package assign_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	repository "github.com/upliftlab/uplift/internal/adapters/repository"
	assign "github.com/upliftlab/uplift/internal/domain/assign"
	experiment "github.com/upliftlab/uplift/internal/domain/experiment"
)

func newFixture(ctx context.Context, allocation float64, shares ...float64) (*experiment.Registry, *assign.Assigner, string) {
	r := experiment.NewRegistry()
	variants := make([]experiment.Variant, len(shares))
	for i, share := range shares {
		id := fmt.Sprintf("v%d", i)
		if i == 0 {
			id = "control"
		}
		variants[i] = experiment.Variant{
			ID:           id,
			Name:         id,
			TrafficShare: share,
			Changes:      map[string]any{"headline": id},
		}
	}
	exp, _ := r.Create(ctx, experiment.Experiment{
		ID:                "exp-1",
		Name:              "headline-test",
		GoalMetric:        "signup",
		TrafficAllocation: allocation,
		Variants:          variants,
	})
	a := assign.New(r, repository.NewShardStore())
	return r, a, exp.ID
}

func TestAssignStability(t *testing.T) {
	ctx := context.Background()

	Convey("Given a running 50/50 experiment", t, func() {
		r, a, id := newFixture(ctx, 100, 50, 50)
		r.Start(ctx, id)

		Convey("When assigning the same subject repeatedly", func() {
			first, err := a.Assign(ctx, id, "subj-1")
			So(err, ShouldBeNil)

			Convey("Then every call returns the identical variant", func() {
				for i := 0; i < 50; i++ {
					got, err := a.Assign(ctx, id, "subj-1")
					So(err, ShouldBeNil)
					So(got.VariantID, ShouldEqual, first.VariantID)
				}
			})
		})

		Convey("When many goroutines race the first assignment", func() {
			results := make([]string, 32)
			var wg sync.WaitGroup
			for i := range results {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					got, _ := a.Assign(ctx, id, "racer")
					results[i] = got.VariantID
				}(i)
			}
			wg.Wait()

			Convey("Then all observers agree", func() {
				for _, v := range results[1:] {
					So(v, ShouldEqual, results[0])
				}
			})
		})

		Convey("When traffic shares are edited mid-run", func() {
			assigned, _ := a.Assign(ctx, id, "subj-1")
			r.UpdateTrafficShares(ctx, id, map[string]float64{"control": 90, "v1": 10})

			Convey("Then existing assignments are unchanged", func() {
				got, err := a.Assign(ctx, id, "subj-1")
				So(err, ShouldBeNil)
				So(got.VariantID, ShouldEqual, assigned.VariantID)
			})
		})

		Convey("When the experiment pauses", func() {
			assigned, _ := a.Assign(ctx, id, "subj-1")
			r.Pause(ctx, id)

			Convey("Then recorded subjects keep their variant", func() {
				got, err := a.Assign(ctx, id, "subj-1")
				So(err, ShouldBeNil)
				So(got.VariantID, ShouldEqual, assigned.VariantID)
			})

			Convey("Then new subjects fall back to control", func() {
				got, err := a.Assign(ctx, id, "subj-new")
				So(errors.Is(err, assign.ErrExperimentNotActive), ShouldBeTrue)
				So(got.Fallback, ShouldBeTrue)
				So(got.VariantID, ShouldEqual, "control")
			})
		})
	})

	Convey("Given a draft experiment", t, func() {
		_, a, id := newFixture(ctx, 100, 50, 50)

		Convey("When assignment is requested", func() {
			got, err := a.Assign(ctx, id, "subj-1")

			Convey("Then the caller gets the control fallback", func() {
				So(errors.Is(err, assign.ErrExperimentNotActive), ShouldBeTrue)
				So(got.Fallback, ShouldBeTrue)
				So(got.VariantID, ShouldEqual, "control")
			})
		})
	})

	Convey("Given an unknown experiment", t, func() {
		r := experiment.NewRegistry()
		a := assign.New(r, repository.NewShardStore())

		Convey("When assignment is requested", func() {
			got, err := a.Assign(ctx, "ghost", "subj-1")

			Convey("Then the error surfaces with a fallback marker", func() {
				So(errors.Is(err, experiment.ErrNotFound), ShouldBeTrue)
				So(got.Fallback, ShouldBeTrue)
			})
		})
	})
}

func TestTrafficConservation(t *testing.T) {
	ctx := context.Background()

	Convey("Given a running 20/30/50 experiment at full allocation", t, func() {
		r, a, id := newFixture(ctx, 100, 20, 30, 50)
		r.Start(ctx, id)

		Convey("When assigning a large synthetic population", func() {
			const population = 20000
			counts := map[string]int{}
			for i := 0; i < population; i++ {
				got, err := a.Assign(ctx, id, fmt.Sprintf("subject-%d", i))
				So(err, ShouldBeNil)
				counts[got.VariantID]++
			}

			Convey("Then empirical shares converge to the configured split", func() {
				So(float64(counts["control"])/population, ShouldAlmostEqual, 0.20, 0.02)
				So(float64(counts["v1"])/population, ShouldAlmostEqual, 0.30, 0.02)
				So(float64(counts["v2"])/population, ShouldAlmostEqual, 0.50, 0.02)
			})
		})
	})

	Convey("Given a running experiment at 40% allocation", t, func() {
		r, a, id := newFixture(ctx, 40, 50, 50)
		r.Start(ctx, id)

		Convey("When assigning a large synthetic population", func() {
			const population = 20000
			inExperiment := 0
			for i := 0; i < population; i++ {
				got, err := a.Assign(ctx, id, fmt.Sprintf("subject-%d", i))
				So(err, ShouldBeNil)
				if !got.Fallback {
					inExperiment++
				}
			}

			Convey("Then roughly 40% of subjects enter the experiment", func() {
				So(float64(inExperiment)/population, ShouldAlmostEqual, 0.40, 0.02)
			})
		})
	})
}
