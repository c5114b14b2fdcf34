package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	dedupe "github.com/upliftlab/uplift/internal/domain/dedupe"
)

func TestInMemoryDeduper(t *testing.T) {
	ctx := context.Background()

	Convey("Given a new InMemoryDeduper", t, func() {
		Convey("When recording events", func() {
			d := dedupe.NewInMemoryDeduper()

			Convey("And the event is new", func() {
				seen := d.SeenAndRecord(ctx, "event-1")

				Convey("Then it should return false and record the event", func() {
					So(seen, ShouldBeFalse)
					So(d.Size(), ShouldEqual, 1)
				})
			})

			Convey("And the event was already seen", func() {
				d.SeenAndRecord(ctx, "event-1")
				seen := d.SeenAndRecord(ctx, "event-1")

				Convey("Then it should return true", func() {
					So(seen, ShouldBeTrue)
					So(d.Size(), ShouldEqual, 1)
				})
			})
		})

		Convey("When unrecording an event", func() {
			d := dedupe.NewInMemoryDeduper()
			d.SeenAndRecord(ctx, "event-1")
			d.Unrecord(ctx, "event-1")

			Convey("Then the event can be recorded again", func() {
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord(ctx, "event-1"), ShouldBeFalse)
			})
		})

		Convey("When the bounded cache overflows", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
			for i := 0; i < 5; i++ {
				d.SeenAndRecord(ctx, fmt.Sprintf("event-%d", i))
			}

			Convey("Then the oldest ids are evicted first", func() {
				So(d.Size(), ShouldEqual, 3)
				// event-0 and event-1 were evicted, so they read as unseen.
				So(d.SeenAndRecord(ctx, "event-4"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "event-0"), ShouldBeFalse)
			})
		})

		Convey("When recording concurrently", func() {
			d := dedupe.NewInMemoryDeduper()

			var wg sync.WaitGroup
			var mu sync.Mutex
			recorded := 0
			for w := 0; w < 8; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < 100; i++ {
						if !d.SeenAndRecord(ctx, fmt.Sprintf("event-%d", i)) {
							mu.Lock()
							recorded++
							mu.Unlock()
						}
					}
				}()
			}
			wg.Wait()

			Convey("Then each id is recorded exactly once", func() {
				So(recorded, ShouldEqual, 100)
				So(d.Size(), ShouldEqual, 100)
			})
		})
	})
}
