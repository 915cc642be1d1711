package worker

import (
	"context"
	"fmt"
	"log/slog"
)

// Stages runs groups of workers side by side and tears them down in order.
// Each stage gets its own context; stage i+1 is cancelled only after every
// worker of stage i has returned. Producers go in earlier stages than the
// consumers they feed, so nothing is handed to a consumer that already quit.
type Stages struct {
	stages [][]Worker
}

// NewStages creates Stages in shutdown order.
func NewStages(stages ...[]Worker) *Stages {
	return &Stages{stages: stages}
}

// Run starts every stage and blocks until ctx is cancelled or any stage
// returns on its own, then stops all stages in order. It returns the first
// error in stage order.
func (s *Stages) Run(ctx context.Context) error {
	type stage struct {
		cancel context.CancelFunc
		done   chan error
	}
	running := make([]stage, len(s.stages))
	ended := make(chan struct{}, len(s.stages))

	for i, workers := range s.stages {
		// Detached from ctx so a stage stops only when its turn comes.
		sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		running[i] = stage{cancel: cancel, done: make(chan error, 1)}
		go func() {
			running[i].done <- NewRunner(workers...).Run(sctx)
			ended <- struct{}{}
		}()
	}

	select {
	case <-ctx.Done():
	case <-ended:
	}

	var first error
	for i, st := range running {
		st.cancel()
		if err := <-st.done; err != nil && first == nil {
			first = fmt.Errorf("stage %d: %w", i, err)
		}
		slog.Debug("stage stopped", "stage", i)
	}
	return first
}
