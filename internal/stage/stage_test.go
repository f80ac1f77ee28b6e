package stage

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/kingrea/gtpipe/internal/artifact"
	"github.com/kingrea/gtpipe/internal/gtapp"
	"github.com/kingrea/gtpipe/internal/workspace"
)

// stubRunner records invocations and creates the outfile parameter on disk.
type stubRunner struct {
	calls []string
	fail  error
}

func (r *stubRunner) Run(_ context.Context, tool string, params gtapp.Params) error {
	r.calls = append(r.calls, tool)
	if r.fail != nil {
		return r.fail
	}
	if out, ok := params.Get("outfile"); ok {
		return os.WriteFile(out.(string), []byte(tool), 0o644)
	}
	return nil
}

type recordingObserver struct {
	started  []string
	finished []Status
}

func (o *recordingObserver) StageStarted(ev Event) { o.started = append(o.started, ev.Stage.ID) }
func (o *recordingObserver) StageFinished(ev Event) {
	o.finished = append(o.finished, ev.Result.Status)
}

func newTestEnv(t *testing.T, runner gtapp.Runner) *Env {
	t.Helper()
	ws := workspace.At(t.TempDir())
	return &Env{
		Component: "front",
		Suffix:    "_front",
		Workspace: ws,
		Artifacts: artifact.NewStore(ws),
		Runner:    runner,
	}
}

func selectStage(env *Env, emin *float64) *Tool {
	info := Info{ID: "gtselect", Name: "Event Selection", Version: "1"}
	return NewTool(info, artifact.Events, func() gtapp.Params {
		return gtapp.Params{
			{Key: "outfile", Value: artifact.Events.Path(env.Workspace, env.Suffix)},
			{Key: "emin", Value: *emin},
		}
	})
}

func TestToolSkipsWhenOutputPresent(t *testing.T) {
	runner := &stubRunner{}
	env := newTestEnv(t, runner)
	emin := 100.0
	tool := selectStage(env, &emin)

	res, err := Execute(context.Background(), env, tool)
	if err != nil || res.Status != StatusCompleted {
		t.Fatalf("first run: %+v %v", res, err)
	}
	res, err = Execute(context.Background(), env, tool)
	if err != nil || res.Status != StatusSkipped {
		t.Fatalf("second run: %+v %v", res, err)
	}
	if len(runner.calls) != 1 {
		t.Fatalf("expected one invocation, got %d", len(runner.calls))
	}
	done, err := tool.IsComplete(env)
	if err != nil || !done {
		t.Fatalf("IsComplete = %v %v", done, err)
	}
}

func TestToolSkipsPreexistingOutputWithoutMarker(t *testing.T) {
	runner := &stubRunner{}
	env := newTestEnv(t, runner)
	if err := os.WriteFile(artifact.Events.Path(env.Workspace, env.Suffix), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	emin := 100.0
	res, err := Execute(context.Background(), env, selectStage(env, &emin))
	if err != nil || res.Status != StatusSkipped || len(runner.calls) != 0 {
		t.Fatalf("expected skip without invocation: %+v %v %v", res, err, runner.calls)
	}
}

func TestToolRebuildsWhenParametersChange(t *testing.T) {
	runner := &stubRunner{}
	env := newTestEnv(t, runner)
	emin := 100.0
	tool := selectStage(env, &emin)
	if _, err := Execute(context.Background(), env, tool); err != nil {
		t.Fatalf("first run: %v", err)
	}
	emin = 1000
	if done, _ := tool.IsComplete(env); done {
		t.Fatalf("changed parameters should make the output stale")
	}
	res, err := Execute(context.Background(), env, tool)
	if err != nil || res.Status != StatusCompleted {
		t.Fatalf("rebuild: %+v %v", res, err)
	}
	if len(runner.calls) != 2 {
		t.Fatalf("expected rebuild invocation, got %d", len(runner.calls))
	}
}

func TestPipelineRunsInOrderAndStopsOnFailure(t *testing.T) {
	boom := errors.New("boom")
	runner := &stubRunner{}
	env := newTestEnv(t, runner)
	obs := &recordingObserver{}
	env.Observer = Observers(obs, nil)

	emin := 100.0
	p := NewPipeline()
	p.MustRegister(selectStage(env, &emin))
	p.MustRegister(NewTool(Info{ID: "gtbin", Name: "Bin", Version: "1"}, artifact.CountsCube, func() gtapp.Params {
		return gtapp.Params{{Key: "outfile", Value: artifact.CountsCube.Path(env.Workspace, env.Suffix)}}
	}))
	if err := p.Register(selectStage(env, &emin)); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
	if got := strings.Join(p.IDs(), ","); got != "gtselect,gtbin" {
		t.Fatalf("IDs = %s", got)
	}
	if _, err := p.Run(context.Background(), env); err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.Join(runner.calls, ",") != "gtselect,gtbin" {
		t.Fatalf("calls = %v", runner.calls)
	}
	if len(obs.started) != 2 || obs.finished[1] != StatusCompleted {
		t.Fatalf("observer saw %v %v", obs.started, obs.finished)
	}

	failing := newTestEnv(t, &stubRunner{fail: boom})
	p2 := NewPipeline()
	p2.MustRegister(selectStage(failing, &emin))
	results, err := p2.Run(context.Background(), failing)
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "gtselect") {
		t.Fatalf("expected wrapped failure naming the stage, got %v", err)
	}
	if len(results) != 1 || results[0].Status != StatusFailed {
		t.Fatalf("results = %+v", results)
	}
}

func TestInfoValidate(t *testing.T) {
	if err := (Info{ID: "x", Name: "X"}).Validate(); err == nil {
		t.Fatalf("expected missing version error")
	}
}

func TestToolRebuildsWhenInputContentChanges(t *testing.T) {
	runner := &stubRunner{}
	env := newTestEnv(t, runner)
	model := env.Workspace.Path("fit_front.xml")
	if err := os.WriteFile(model, []byte("<source_library/>"), 0o644); err != nil {
		t.Fatal(err)
	}
	newModelStage := func() *Tool {
		info := Info{ID: "gtmodel", Name: "Model Counts", Version: "1"}
		return NewTool(info, artifact.ModelCube, func() gtapp.Params {
			return gtapp.Params{
				{Key: "srcmdl", Value: model},
				{Key: "outfile", Value: artifact.ModelCube.Path(env.Workspace, env.Suffix)},
			}
		}).WithInputs(model)
	}
	for i := 0; i < 2; i++ {
		if _, err := Execute(context.Background(), env, newModelStage()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if len(runner.calls) != 1 {
		t.Fatalf("unchanged input should skip, got %d calls", len(runner.calls))
	}
	if err := os.WriteFile(model, []byte("<source_library><source/></source_library>"), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := Execute(context.Background(), env, newModelStage())
	if err != nil || res.Status != StatusCompleted || len(runner.calls) != 2 {
		t.Fatalf("rewritten input should rebuild: %+v %v %v", res, err, runner.calls)
	}
	check, err := env.Artifacts.Check(artifact.ModelCube, env.Suffix, newModelStage().Fingerprint())
	if err != nil || check.State != artifact.StateReady || check.Metadata == nil {
		t.Fatalf("check = %+v %v", check, err)
	}
	if len(check.Metadata.Inputs) != 1 || check.Metadata.Inputs[0] != model {
		t.Fatalf("marker inputs = %v", check.Metadata.Inputs)
	}
}
