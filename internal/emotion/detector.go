// Package emotion is the entry point the rest of the backend uses for
// per-frame emotion detection. It hides the worker process behind a call that
// always returns a normalized result.
package emotion

import (
	"context"

	"github.com/intervue/moodline/internal/metrics"
	"github.com/intervue/moodline/internal/types"
	"github.com/intervue/moodline/internal/worker"
)

// Detector answers frame detection and health queries for one worker.
type Detector struct {
	sup *worker.Supervisor
}

// New builds a detector around a fresh supervisor. Call Start to spawn.
func New(cfg worker.Config) *Detector {
	return &Detector{sup: worker.NewSupervisor(cfg)}
}

// NewWithSupervisor wraps an existing supervisor.
func NewWithSupervisor(sup *worker.Supervisor) *Detector {
	return &Detector{sup: sup}
}

// Start spawns the worker (or disables detection if the model is missing).
func (d *Detector) Start() {
	d.sup.Start()
}

// Shutdown stops the worker and settles in-flight requests.
func (d *Detector) Shutdown(ctx context.Context) error {
	return d.sup.Shutdown(ctx)
}

// Supervisor exposes the underlying supervisor.
func (d *Detector) Supervisor() *worker.Supervisor {
	return d.sup
}

// Detect runs one frame through the worker. It never fails: problems are
// reported in Result.Error and Faces is always non-nil.
func (d *Detector) Detect(ctx context.Context, image string) types.Result {
	if d.sup.Disabled() {
		metrics.RecordDetect(metrics.OutcomeDisabled, 0)
		return types.ErrorResult(d.sup.DisabledReason())
	}
	if !d.sup.Alive() {
		metrics.RecordDetect(metrics.OutcomeNotStarted, 0)
		return types.ErrorResult(worker.ErrNotStarted.Error())
	}

	res := d.sup.Channel().Send(ctx, image)
	if res.Faces == nil {
		res.Faces = []types.FaceBox{}
	}
	return res
}

// Health returns a snapshot; it never blocks on the worker.
func (d *Detector) Health() types.Health {
	st := d.sup.Status()
	ch := d.sup.Channel()
	return types.Health{
		ProcessAlive: st.Alive,
		Ready:        st.State.Kind == types.Ready,
		Disabled:     st.State.Kind == types.Disabled,
		Reason:       st.State.Reason,
		ModelPath:    st.ModelPath,
		State:        st.State.Kind.String(),
		Pending:      ch.Pending(),
		Restarts:     st.Restarts,
		DroppedLines: ch.Dropped(),
		LastExitCode: st.LastExit,
	}
}
