package clock

import (
	"context"
	"time"

	"go.uber.org/fx"
)

// Clock abstracts wall time so grace windows, withdrawal deadlines and
// billing-period checks can be pinned in tests.
type Clock interface {
	Now(ctx context.Context) time.Time
}

type SystemClock struct{}

func (SystemClock) Now(context.Context) time.Time {
	return time.Now().UTC()
}

// Fixed is a test clock frozen at a point in time.
type Fixed struct {
	T time.Time
}

func (f Fixed) Now(context.Context) time.Time {
	return f.T
}

var Module = fx.Module("clock",
	fx.Provide(func() Clock { return SystemClock{} }),
)
