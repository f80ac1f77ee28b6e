package bridge

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/gtpipe/internal/likelihood"
	"github.com/kingrea/gtpipe/internal/likelihood/liketest"
)

func connect(t *testing.T, backend likelihood.Backend) (*Engine, <-chan error) {
	t.Helper()
	client, server := net.Pipe()
	served := make(chan error, 1)
	go func() {
		served <- Serve(context.Background(), server, server, backend)
		server.Close()
	}()
	engine := Connect(client)
	t.Cleanup(func() { _ = engine.Close() })
	return engine, served
}

func TestEngineRoundTrip(t *testing.T) {
	fake := liketest.New().WithSource("src1", "PowerLaw", liketest.PowerLaw(true)...)
	backend := liketest.NewBackend(fake)
	engine, served := connect(t, backend)
	ctx := context.Background()

	like, err := engine.NewSummed(ctx, "MINUIT")
	require.NoError(t, err)
	comp, err := engine.NewComponent(ctx, likelihood.Observation{Name: "front", SrcMaps: "srcmap_front.fits"})
	require.NoError(t, err)
	assert.Equal(t, "front", comp.Name())
	require.NoError(t, comp.SetEdisp(true))
	require.NoError(t, like.AddComponent(comp))
	require.Len(t, fake.Components, 1)
	assert.True(t, backend.Handles[0].Edisp)

	path := filepath.Join(t.TempDir(), "fit_front.xml")
	require.NoError(t, comp.WriteXML(path))
	assert.Equal(t, []string{path}, backend.Handles[0].XML)

	n, err := like.NumFreeParams()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	names, err := like.SourceNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"src1"}, names)

	spec, err := like.Spectrum("src1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Prefactor", "Index", "Scale"}, spec.ParamNames())

	idx, err := like.ParamIndex("src1", "Index")
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	require.NoError(t, like.SetFree(idx, false))
	require.NoError(t, like.SetParam(0, 2.5, true))
	require.NoError(t, like.SyncSourceParams("src1"))
	assert.Equal(t, []string{"src1"}, fake.Synced)

	norm, err := like.NormParam("src1")
	require.NoError(t, err)
	assert.Equal(t, "Prefactor", norm)

	params, err := like.Params()
	require.NoError(t, err)
	assert.Equal(t, 2.5, params[0].Value)
	assert.False(t, params[1].Free)

	fake.Qualities = []int{3}
	attempt, err := like.Fit(ctx, likelihood.NewOptimizer("MINUIT"), true)
	require.NoError(t, err)
	assert.Equal(t, 3, attempt.Quality)

	_, err = like.ParamIndex("src1", "Missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "like.param_index")

	require.NoError(t, engine.Close())
	require.NoError(t, <-served)
	assert.ErrorIs(t, engine.Call(ctx, MethodNumFree, handleParams{}, nil), ErrClosed)
}

type blockingFit struct {
	*liketest.Fake
	release chan struct{}
}

func (b *blockingFit) Fit(context.Context, likelihood.Optimizer, bool) (likelihood.Attempt, error) {
	<-b.release
	return likelihood.Attempt{Quality: 3}, nil
}

type blockingBackend struct {
	*liketest.Backend
	summed *blockingFit
}

func (b *blockingBackend) NewSummed(context.Context, string) (likelihood.Summed, error) {
	return b.summed, nil
}

func TestCallCancellationClosesEngine(t *testing.T) {
	fake := liketest.New()
	block := &blockingFit{Fake: fake, release: make(chan struct{})}
	t.Cleanup(func() { close(block.release) })
	engine, _ := connect(t, &blockingBackend{Backend: liketest.NewBackend(fake), summed: block})

	like, err := engine.NewSummed(context.Background(), "MINUIT")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = like.Fit(ctx, likelihood.NewOptimizer("MINUIT"), true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.ErrorIs(t, engine.Call(context.Background(), MethodNumFree, handleParams{}, nil), ErrClosed)
}
