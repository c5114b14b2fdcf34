package queue_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	queue "github.com/upliftlab/uplift/internal/adapters/mq/queue"
	"github.com/upliftlab/uplift/internal/domain/model"
)

func makeEvent(subject string) model.Event {
	return model.Event{
		EventID:   "evt-" + subject,
		SubjectID: subject,
		Kind:      model.KindPageView,
		TS:        time.Now(),
	}
}

func TestRingBuffer(t *testing.T) {
	ctx := context.Background()

	Convey("Given a new ring buffer", t, func() {
		Convey("When appending below capacity", func() {
			b := queue.NewRingBuffer(queue.WithCapacity(10))

			So(b.Append(ctx, makeEvent("a")), ShouldBeTrue)
			So(b.Append(ctx, makeEvent("b")), ShouldBeTrue)

			Convey("Then all events are buffered in order", func() {
				So(b.Len(ctx), ShouldEqual, 2)
				So(b.Dropped(), ShouldEqual, 0)

				batch := b.Drain(ctx, 10)
				So(batch, ShouldHaveLength, 2)
				So(batch[0].SubjectID, ShouldEqual, "a")
				So(batch[1].SubjectID, ShouldEqual, "b")
				So(b.Len(ctx), ShouldEqual, 0)
			})
		})

		Convey("When the buffer saturates", func() {
			var overflowed int
			b := queue.NewRingBuffer(
				queue.WithCapacity(3),
				queue.WithOverflowFunc(func(dropped int) { overflowed += dropped }),
			)

			for _, s := range []string{"a", "b", "c", "d", "e"} {
				So(b.Append(ctx, makeEvent(s)), ShouldBeTrue)
			}

			Convey("Then the oldest events are evicted and the overflow hook fires", func() {
				So(b.Len(ctx), ShouldEqual, 3)
				So(b.Dropped(), ShouldEqual, 2)
				So(overflowed, ShouldEqual, 2)

				batch := b.Drain(ctx, 10)
				So(batch, ShouldHaveLength, 3)
				So(batch[0].SubjectID, ShouldEqual, "c")
				So(batch[2].SubjectID, ShouldEqual, "e")
			})
		})

		Convey("When draining with a batch limit", func() {
			b := queue.NewRingBuffer(queue.WithCapacity(10))
			for i := 0; i < 7; i++ {
				b.Append(ctx, makeEvent(fmt.Sprintf("s%d", i)))
			}

			Convey("Then batches come out oldest first", func() {
				first := b.Drain(ctx, 3)
				So(first, ShouldHaveLength, 3)
				So(first[0].SubjectID, ShouldEqual, "s0")

				second := b.Drain(ctx, 3)
				So(second[0].SubjectID, ShouldEqual, "s3")
				So(b.Len(ctx), ShouldEqual, 1)
			})

			Convey("Then a non-positive batch yields nothing", func() {
				So(b.Drain(ctx, 0), ShouldBeNil)
			})
		})

		Convey("When the buffer is closed", func() {
			b := queue.NewRingBuffer(queue.WithCapacity(4))
			b.Append(ctx, makeEvent("a"))
			So(b.Close(), ShouldBeNil)

			Convey("Then appends are rejected but remaining events drain", func() {
				So(b.IsClosed(), ShouldBeTrue)
				So(b.Append(ctx, makeEvent("b")), ShouldBeFalse)

				batch := b.Drain(ctx, 10)
				So(batch, ShouldHaveLength, 1)
			})
		})

		Convey("When many producers append concurrently", func() {
			b := queue.NewRingBuffer(queue.WithCapacity(1000))

			var wg sync.WaitGroup
			for p := 0; p < 8; p++ {
				wg.Add(1)
				go func(p int) {
					defer wg.Done()
					for i := 0; i < 100; i++ {
						b.Append(ctx, makeEvent(fmt.Sprintf("p%d-%d", p, i)))
					}
				}(p)
			}
			wg.Wait()

			Convey("Then no events are lost below capacity", func() {
				So(b.Len(ctx), ShouldEqual, 800)
				So(b.Dropped(), ShouldEqual, 0)
			})
		})
	})
}
