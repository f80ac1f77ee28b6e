package stage

import (
	"fmt"
	"time"

	"github.com/kingrea/gtpipe/internal/artifact"
	"github.com/kingrea/gtpipe/internal/gtapp"
	"github.com/kingrea/gtpipe/internal/logging"
	"github.com/kingrea/gtpipe/internal/workspace"
)

// Env carries the shared runtime dependencies of one component's stages.
type Env struct {
	Component string
	Suffix    string
	Workspace *workspace.Workspace
	Artifacts *artifact.Store
	Runner    gtapp.Runner
	Log       *logging.Logger
	Observer  Observer
}

// Validate ensures the environment can run stages.
func (e *Env) Validate() error {
	if e == nil {
		return fmt.Errorf("stage: env is nil")
	}
	if e.Workspace == nil {
		return fmt.Errorf("stage: workspace is required")
	}
	if e.Artifacts == nil {
		return fmt.Errorf("stage: artifact store is required")
	}
	if e.Runner == nil {
		return fmt.Errorf("stage: runner is required")
	}
	return nil
}

// Event describes one stage transition.
type Event struct {
	Component string
	Stage     Info
	Result    Result
	Err       error
	Elapsed   time.Duration
}

// Observer receives stage transitions (progress views, metrics).
type Observer interface {
	StageStarted(Event)
	StageFinished(Event)
}

type multiObserver []Observer

func (m multiObserver) StageStarted(ev Event) {
	for _, o := range m {
		o.StageStarted(ev)
	}
}

func (m multiObserver) StageFinished(ev Event) {
	for _, o := range m {
		o.StageFinished(ev)
	}
}

// Observers fans events out to every non-nil observer.
func Observers(obs ...Observer) Observer {
	out := make(multiObserver, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
