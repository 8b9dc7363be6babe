package provision

import (
	"context"
	"log/slog"
	"time"

	"iepp.org/internal/obs"
)

// step is one action of a saga. compensate, when set, undoes a completed
// step; it runs only if undoIf is nil or reports true. A tolerated step's
// failure is logged and the saga continues.
type step struct {
	name       string
	run        func(ctx context.Context) error
	compensate func(ctx context.Context) error
	undoIf     func() bool
	tolerate   bool
}

// saga runs steps in order. On the first intolerable failure it compensates
// the completed steps in reverse order and returns that failure.
type saga struct {
	steps   []step
	timeout time.Duration
	log     *slog.Logger
}

func (s *saga) run(ctx context.Context) error {
	done := make([]step, 0, len(s.steps))
	for _, st := range s.steps {
		err := st.run(ctx)
		if err == nil {
			done = append(done, st)
			continue
		}
		if st.tolerate {
			s.log.WarnContext(ctx, "provision step failed, continuing", "step", st.name, "error", err)
			continue
		}
		s.compensate(ctx, done)
		return err
	}
	return nil
}

// compensate detaches from the caller's cancellation so an aborted request
// still cleans up after itself.
func (s *saga) compensate(ctx context.Context, done []step) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	for i := len(done) - 1; i >= 0; i-- {
		st := done[i]
		if st.compensate == nil || (st.undoIf != nil && !st.undoIf()) {
			continue
		}
		if err := st.compensate(cctx); err != nil {
			obs.RecordCompensation("failed")
			s.log.ErrorContext(ctx, "provision compensation failed", "step", st.name, "error", err)
			continue
		}
		obs.RecordCompensation("ok")
		s.log.InfoContext(ctx, "provision step compensated", "step", st.name)
	}
}
