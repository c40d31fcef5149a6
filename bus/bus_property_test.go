package bus_test

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/loopwire/agentcore/bus"
)

// TestPublishOrderingPerSubscriberProperty verifies that for any sequence
// of published payloads, a single subscriber observes them in the same
// order they were published, per spec.md §8's bus-ordering property.
// Grounded on the teacher's retry_test.go gopter usage style
// (runtime/a2a/retry/retry_test.go).
func TestPublishOrderingPerSubscriberProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("events arrive at a subscriber in publish order", prop.ForAll(
		func(payloads []int) bool {
			b := bus.New()
			sub := b.Subscribe(nil)
			defer sub.Unsubscribe()

			ctx := context.Background()
			for _, p := range payloads {
				b.Publish(ctx, bus.Event{Type: bus.EventMessageCreated, SessionID: "s1", Payload: p})
			}

			for _, want := range payloads {
				select {
				case ev := <-sub.Events():
					if ev.Payload != want {
						return false
					}
				case <-time.After(time.Second):
					return false
				}
			}
			return true
		},
		gen.SliceOfN(20, gen.IntRange(0, 1000)),
	))

	properties.TestingRun(t)
}
