package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsOptions(t *testing.T) {
	Convey("Given metrics options", t, func() {
		Convey("When creating options", func() {
			namespaceOpt := WithNamespace("test-namespace")
			registryOpt := WithRegistry(prometheus.NewRegistry())

			Convey("Then they should be valid functions", func() {
				So(namespaceOpt, ShouldNotBeNil)
				So(registryOpt, ShouldNotBeNil)
			})
		})
	})
}

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a fresh registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithRegistry(registry))

			Convey("Then it should be created successfully", func() {
				So(manager, ShouldNotBeNil)
			})

			Convey("Then its metric families should register", func() {
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				// Counters start unobserved; gauges and histograms register up front.
				So(families, ShouldNotBeEmpty)
			})
		})

		Convey("When creating with a custom namespace", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("custom"),
				WithRegistry(registry),
			)

			Convey("Then it should be created successfully", func() {
				So(manager, ShouldNotBeNil)
			})
		})
	})
}

func TestGlobalRecorders(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording across every helper", func() {
			record := func() {
				RecordEventIngested("funnel_step")
				RecordEventDuplicate()
				RecordEventsDropped(3)
				RecordEventInvalid()
				UpdateBufferSize(10)
				UpdateBufferCapacity(100)
				UpdateBufferUtilization(0.1)
				RecordDrainBatch(10)
				RecordAggregationLatency(1.5)
				RecordFunnelAnalysisLatency(2.5)
				RecordAssignmentComputed()
				RecordAssignmentReplayed()
				RecordAssignmentFallback()
				UpdateAssignmentRecords(42)
				UpdateExperimentsRunning(1)
				RecordExperimentCompleted()
				RecordAlertEmitted("buffer_overflow")
				RecordAlertSuppressed("buffer_overflow")
				RecordHTTPRequest("/events", "POST", "202")
				RecordHTTPRequestDuration("/events", "POST", "202", 3.2)
				RecordErrorByComponent("api", "client_error")
			}

			Convey("Then none of them should panic", func() {
				So(record, ShouldNotPanic)
			})

			Convey("Then the registry should expose the recorded families", func() {
				record()
				families, err := GetRegistry().Gather()
				So(err, ShouldBeNil)

				names := make(map[string]bool, len(families))
				for _, f := range families {
					names[f.GetName()] = true
				}
				So(names["uplift_events_ingested_total"], ShouldBeTrue)
				So(names["uplift_buffer_size"], ShouldBeTrue)
				So(names["uplift_alerts_emitted_total"], ShouldBeTrue)
			})
		})
	})
}
