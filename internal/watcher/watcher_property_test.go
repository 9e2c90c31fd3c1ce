//go:build property

package watcher

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestDebouncerProperties checks that a burst of events is delivered as one
// batch holding exactly one event per distinct path.
func TestDebouncerProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(9876)
	parameters.MinSuccessfulTests = 30

	properties := gopter.NewProperties(parameters)

	properties.Property("one event per distinct path", prop.ForAll(
		func(indexes []int) bool {
			if len(indexes) == 0 {
				return true
			}
			d := NewDebouncer(50 * time.Millisecond)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go d.start(ctx)

			distinct := map[string]bool{}
			for _, i := range indexes {
				path := fmt.Sprintf("stylesheets/f%d.sass", i)
				distinct[path] = true
				d.Add(ChangeEvent{Path: path})
			}

			select {
			case batch := <-d.Output():
				if len(batch) != len(distinct) {
					return false
				}
				for i := 1; i < len(batch); i++ {
					if batch[i-1].Path >= batch[i].Path {
						return false
					}
				}
				return true
			case <-time.After(2 * time.Second):
				return false
			}
		},
		gen.SliceOf(gen.IntRange(0, 9)),
	))

	properties.TestingRun(t)
}
