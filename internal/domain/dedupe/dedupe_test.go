package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	dedupe "github.com/okian/neurogame/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	ctx := context.Background()

	Convey("Given a new InMemoryDeduper", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(100))

		Convey("When nothing has been recorded", func() {
			Convey("Then no id is seen", func() {
				So(d.Seen(ctx, "event-1"), ShouldBeFalse)
			})
		})

		Convey("When ids are recorded", func() {
			d.Record(ctx, "event-1", "event-2")

			Convey("Then they are seen and others are not", func() {
				So(d.Seen(ctx, "event-1"), ShouldBeTrue)
				So(d.Seen(ctx, "event-2"), ShouldBeTrue)
				So(d.Seen(ctx, "event-3"), ShouldBeFalse)
			})
		})

		Convey("When more ids than the capacity are recorded", func() {
			for i := 0; i < 150; i++ {
				d.Record(ctx, fmt.Sprintf("event-%d", i))
			}

			Convey("Then the most recent ids survive eviction", func() {
				So(d.Seen(ctx, "event-149"), ShouldBeTrue)
				So(d.Seen(ctx, "event-0"), ShouldBeFalse)
			})
		})
	})

	Convey("Given a deduper with a short TTL", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithTTL(20 * time.Millisecond))
		d.Record(ctx, "event-1")

		Convey("When the TTL elapses", func() {
			time.Sleep(50 * time.Millisecond)

			Convey("Then the id is forgotten", func() {
				So(d.Seen(ctx, "event-1"), ShouldBeFalse)
			})
		})
	})

	Convey("Given a disabled deduper", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
		d.Record(ctx, "event-1")

		Convey("Then nothing is ever seen", func() {
			So(d.Seen(ctx, "event-1"), ShouldBeFalse)
		})
	})
}

func TestInMemoryDeduperConcurrent(t *testing.T) {
	Convey("Given concurrent recorders", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper()
		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < 200; i++ {
					id := fmt.Sprintf("w%d-%d", w, i)
					d.Record(ctx, id)
					_ = d.Seen(ctx, id)
				}
			}(w)
		}
		wg.Wait()

		Convey("Then every id is visible afterwards", func() {
			So(d.Seen(ctx, "w0-0"), ShouldBeTrue)
			So(d.Seen(ctx, "w7-199"), ShouldBeTrue)
		})
	})
}
