package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	service "github.com/upliftlab/uplift/internal/app"
	"github.com/upliftlab/uplift/internal/domain/experiment"
	"github.com/upliftlab/uplift/internal/domain/model"
	"github.com/upliftlab/uplift/internal/domain/types"
	"github.com/upliftlab/uplift/pkg/logger"
)

func init() {
	// Initialize logging for tests
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func newService(ctx context.Context, opts ...service.Option) *service.Service {
	base := []service.Option{
		service.WithDrainInterval(5 * time.Millisecond),
		service.WithFindingScanInterval(time.Hour),
	}
	svc := service.New(append(base, opts...)...)
	if err := svc.Start(ctx); err != nil {
		panic(err)
	}
	return svc
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRecordEvent(t *testing.T) {
	ctx := context.Background()

	Convey("Given a running service", t, func() {
		svc := newService(ctx)
		defer svc.Stop()

		Convey("When recording a valid event", func() {
			outcome := svc.RecordEvent(ctx, model.Event{
				EventID:   "e-1",
				SubjectID: "s-1",
				Kind:      model.KindPageView,
			})

			Convey("Then it is accepted", func() {
				So(outcome, ShouldEqual, model.RecordAccepted)
			})

			Convey("Then replaying the same event id is a duplicate", func() {
				So(svc.RecordEvent(ctx, model.Event{
					EventID:   "e-1",
					SubjectID: "s-1",
					Kind:      model.KindPageView,
				}), ShouldEqual, model.RecordDuplicate)
			})
		})

		Convey("When recording malformed events", func() {
			Convey("Then they are rejected as invalid", func() {
				So(svc.RecordEvent(ctx, model.Event{Kind: model.KindPageView}),
					ShouldEqual, model.RecordInvalid)
				So(svc.RecordEvent(ctx, model.Event{SubjectID: "s", Kind: "bogus"}),
					ShouldEqual, model.RecordInvalid)
				So(svc.RecordEvent(ctx, model.Event{SubjectID: "s", Kind: model.KindFunnelStep}),
					ShouldEqual, model.RecordInvalid)
				So(svc.RecordEvent(ctx, model.Event{SubjectID: "s", Kind: model.KindExposure}),
					ShouldEqual, model.RecordInvalid)
			})
		})

		Convey("When two events differ only in content-derived ids", func() {
			first := svc.RecordEvent(ctx, model.Event{
				SubjectID: "s-2", Kind: model.KindFunnelStep, StepID: "landing",
				TS: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			})
			second := svc.RecordEvent(ctx, model.Event{
				SubjectID: "s-2", Kind: model.KindFunnelStep, StepID: "signup",
				TS: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			})

			Convey("Then both are accepted", func() {
				So(first, ShouldEqual, model.RecordAccepted)
				So(second, ShouldEqual, model.RecordAccepted)
			})
		})
	})

	Convey("Given a stopped service", t, func() {
		svc := newService(ctx)
		svc.Stop()

		Convey("When recording an event", func() {
			outcome := svc.RecordEvent(ctx, model.Event{
				EventID: "e-9", SubjectID: "s-9", Kind: model.KindPageView,
			})

			Convey("Then it is rejected, and the id stays retryable", func() {
				So(outcome, ShouldEqual, model.RecordRejected)
			})
		})
	})
}

func TestReports(t *testing.T) {
	ctx := context.Background()

	Convey("Given a service with funnel and experiment traffic", t, func() {
		svc := newService(ctx,
			service.WithFunnelSteps([]string{"landing", "signup", "activation"}),
			service.WithSlowStepThreshold(time.Millisecond),
		)
		defer svc.Stop()

		exp, err := svc.CreateExperiment(ctx, experiment.Experiment{
			Name:              "checkout-copy",
			GoalMetric:        "purchase",
			TrafficAllocation: 100,
			Variants: []experiment.Variant{
				{ID: "control", Name: "Control", TrafficShare: 50},
				{ID: "b", Name: "Variant B", TrafficShare: 50},
			},
		})
		So(err, ShouldBeNil)
		_, err = svc.StartExperiment(ctx, exp.ID)
		So(err, ShouldBeNil)

		now := time.Now()

		// Funnel: 100 land, 10 sign up a minute later.
		for i := 0; i < 100; i++ {
			subject := fmt.Sprintf("f-%d", i)
			svc.RecordEvent(ctx, model.Event{
				SubjectID: subject, Kind: model.KindFunnelStep, StepID: "landing", TS: now,
			})
			if i < 10 {
				svc.RecordEvent(ctx, model.Event{
					SubjectID: subject, Kind: model.KindFunnelStep, StepID: "signup",
					TS: now.Add(time.Minute),
				})
			}
		}

		// Experiment: conversion odds rigged per assigned variant.
		for i := 0; i < 2000; i++ {
			subject := fmt.Sprintf("e-%d", i)
			a, aerr := svc.Assign(ctx, exp.ID, subject)
			So(aerr, ShouldBeNil)

			svc.RecordEvent(ctx, model.Event{
				SubjectID: subject, Kind: model.KindExposure, ExperimentID: exp.ID, TS: now,
			})
			convert := i%25 == 0
			if a.VariantID == "b" {
				convert = i%8 == 0
			}
			if convert {
				svc.RecordEvent(ctx, model.Event{
					SubjectID: subject, Kind: model.KindConversion, ExperimentID: exp.ID, TS: now,
				})
			}
		}

		waitFor(t, func() bool {
			got, gerr := svc.GetExperiment(ctx, exp.ID)
			if gerr != nil {
				return false
			}
			var visitors int64
			for _, v := range got.Variants {
				visitors += v.Visitors
			}
			return visitors == 2000
		})

		Convey("When requesting the funnel report", func() {
			report, rerr := svc.FunnelReport(ctx, 24*time.Hour)

			Convey("Then counts and friction flags line up", func() {
				So(rerr, ShouldBeNil)
				So(report.Steps, ShouldHaveLength, 3)
				So(report.Steps[0].Visitors, ShouldEqual, 100)
				So(report.Steps[0].Conversions, ShouldEqual, 10)
				So(report.Steps[0].FrictionPoints, ShouldNotBeEmpty)
			})
		})

		Convey("When requesting the experiment report", func() {
			report, rerr := svc.ExperimentReport(ctx, exp.ID)

			Convey("Then the rigged variant wins decisively", func() {
				So(rerr, ShouldBeNil)
				So(report.IsSignificant, ShouldBeTrue)
				So(report.WinnerVariantID, ShouldEqual, "b")
				So(report.Variants, ShouldHaveLength, 2)
				So(report.Variants[0].IsControl, ShouldBeTrue)

				var visitors int64
				for _, v := range report.Variants {
					So(v.Conversions, ShouldBeLessThanOrEqualTo, v.Visitors)
					visitors += v.Visitors
				}
				So(visitors, ShouldEqual, 2000)
			})
		})

		Convey("When requesting recommendations", func() {
			recs, rerr := svc.Recommendations(ctx)

			Convey("Then funnel and experiment findings are merged, ranked", func() {
				So(rerr, ShouldBeNil)
				So(len(recs), ShouldBeGreaterThanOrEqualTo, 2)

				sources := make(map[string]bool)
				for i, rec := range recs {
					sources[rec.Source] = true
					So(rec.Score, ShouldAlmostEqual, rec.Impact*rec.Confidence)
					if i > 0 {
						So(rec.Score, ShouldBeLessThanOrEqualTo, recs[i-1].Score)
					}
				}
				So(sources["funnel"], ShouldBeTrue)
				So(sources["experiment"], ShouldBeTrue)
			})
		})

		Convey("When requesting stats", func() {
			got := svc.GetStats()

			Convey("Then the snapshot covers the components", func() {
				So(got["started"], ShouldBeTrue)
				So(got["experiments"], ShouldEqual, 1)
				So(got["runningExperiments"], ShouldEqual, 1)
				So(got["assignmentRecords"], ShouldEqual, 2000)
			})
		})
	})
}

func TestOverflowAlert(t *testing.T) {
	ctx := context.Background()

	Convey("Given a service with a tiny buffer and a slow drain", t, func() {
		svc := newService(ctx,
			service.WithBufferCapacity(4),
			service.WithDrainInterval(time.Hour),
		)
		defer svc.Stop()

		Convey("When ingest outruns the buffer", func() {
			for i := 0; i < 10; i++ {
				svc.RecordEvent(ctx, model.Event{
					EventID:   fmt.Sprintf("e-%d", i),
					SubjectID: "s",
					Kind:      model.KindPageView,
				})
			}

			Convey("Then a single overflow alert is emitted", func() {
				var a types.Alert
				select {
				case a = <-svc.Alerts():
				case <-time.After(time.Second):
					t.Fatal("no alert received")
				}
				So(a.Kind, ShouldEqual, service.AlertBufferOverflow)
				So(a.Severity, ShouldEqual, types.SeverityCritical)
				So(a.Message, ShouldContainSubstring, "1 events dropped so far")

				select {
				case extra := <-svc.Alerts():
					t.Fatalf("unexpected second alert: %+v", extra)
				case <-time.After(50 * time.Millisecond):
				}
			})
		})
	})

	Convey("Given a service whose overflow alerts are never throttled", t, func() {
		svc := newService(ctx,
			service.WithBufferCapacity(4),
			service.WithDrainInterval(time.Hour),
			service.WithAlertCooldowns(map[string]time.Duration{
				service.AlertBufferOverflow: time.Nanosecond,
			}),
		)
		defer svc.Stop()

		Convey("When ingest keeps outrunning the buffer", func() {
			for i := 0; i < 10; i++ {
				svc.RecordEvent(ctx, model.Event{
					EventID:   fmt.Sprintf("e-%d", i),
					SubjectID: "s",
					Kind:      model.KindPageView,
				})
			}

			var messages []string
		drained:
			for {
				select {
				case a := <-svc.Alerts():
					messages = append(messages, a.Message)
				default:
					break drained
				}
			}

			Convey("Then the alert reports the running drop total, not the per-event count", func() {
				So(len(messages), ShouldBeGreaterThan, 1)
				// 10 events into a 4-slot buffer evict 6; the last alert
				// carries the full tally.
				So(messages[len(messages)-1], ShouldContainSubstring, "6 events dropped so far")
			})
		})
	})
}
