package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/kingrea/gtpipe/internal/likelihood"
)

// Engine is a connection to a likelihood engine. It implements
// likelihood.Backend.
type Engine struct {
	mu     sync.Mutex
	enc    *json.Encoder
	dec    *json.Decoder
	conn   io.Closer
	cmd    *exec.Cmd
	next   uint64
	closed bool
}

// Option customizes Start.
type Option func(*exec.Cmd)

// WithStderr forwards the engine's stderr to w.
func WithStderr(w io.Writer) Option {
	return func(cmd *exec.Cmd) {
		cmd.Stderr = w
	}
}

// WithDir sets the engine working directory.
func WithDir(dir string) Option {
	return func(cmd *exec.Cmd) {
		cmd.Dir = dir
	}
}

// WithEnv sets the engine environment.
func WithEnv(env []string) Option {
	return func(cmd *exec.Cmd) {
		cmd.Env = env
	}
}

// Start launches the engine command and connects to its stdio.
func Start(ctx context.Context, command []string, opts ...Option) (*Engine, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("bridge: engine command is required")
	}
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	for _, opt := range opts {
		if opt != nil {
			opt(cmd)
		}
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("bridge: stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("bridge: stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("bridge: start %s: %w", command[0], err)
	}
	e := Connect(struct {
		io.Reader
		io.Writer
		io.Closer
	}{stdout, stdin, stdin})
	e.cmd = cmd
	return e, nil
}

// Connect wraps an established stream.
func Connect(rw io.ReadWriteCloser) *Engine {
	return &Engine{
		enc:  json.NewEncoder(rw),
		dec:  json.NewDecoder(bufio.NewReader(rw)),
		conn: rw,
	}
}

// Call sends one request and decodes the result into out (which may be nil).
// Cancelling ctx tears the connection down, since the engine cannot abandon
// a call halfway.
func (e *Engine) Call(ctx context.Context, method string, params, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("bridge: %s: encode params: %w", method, err)
	}
	e.next++
	req := request{ID: e.next, Method: method, Params: raw}
	done := make(chan error, 1)
	go func() {
		done <- e.roundTrip(req, out)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		e.shutdownLocked()
		<-done
		return fmt.Errorf("bridge: %s: %w", method, ctx.Err())
	}
}

func (e *Engine) roundTrip(req request, out any) error {
	if err := e.enc.Encode(req); err != nil {
		return fmt.Errorf("bridge: %s: send: %w", req.Method, err)
	}
	var resp response
	if err := e.dec.Decode(&resp); err != nil {
		return fmt.Errorf("bridge: %s: receive: %w", req.Method, err)
	}
	if resp.ID != req.ID {
		return fmt.Errorf("bridge: %s: response id %d does not match request %d", req.Method, resp.ID, req.ID)
	}
	if resp.Error != "" {
		return fmt.Errorf("bridge: %s: %s", req.Method, resp.Error)
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("bridge: %s: decode result: %w", req.Method, err)
	}
	return nil
}

// Close asks the engine to exit and releases the connection.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	_ = e.enc.Encode(request{ID: e.next + 1, Method: MethodShutdown})
	err := e.conn.Close()
	e.closed = true
	if e.cmd != nil {
		if waitErr := e.cmd.Wait(); waitErr != nil && err == nil {
			var exitErr *exec.ExitError
			if !errors.As(waitErr, &exitErr) {
				err = waitErr
			}
		}
	}
	return err
}

func (e *Engine) shutdownLocked() {
	e.closed = true
	_ = e.conn.Close()
	if e.cmd != nil && e.cmd.Process != nil {
		_ = e.cmd.Process.Kill()
	}
}

// NewComponent creates a binned analysis handle for obs.
func (e *Engine) NewComponent(ctx context.Context, obs likelihood.Observation) (likelihood.Component, error) {
	var res handleResult
	if err := e.Call(ctx, MethodComponentNew, obs, &res); err != nil {
		return nil, err
	}
	return &component{engine: e, handle: res.Handle, name: obs.Name}, nil
}

// NewSummed creates an empty combined likelihood.
func (e *Engine) NewSummed(ctx context.Context, optimizer string) (likelihood.Summed, error) {
	var res handleResult
	if err := e.Call(ctx, MethodSummedNew, newSummedParams{Optimizer: optimizer}, &res); err != nil {
		return nil, err
	}
	return &summed{engine: e, handle: res.Handle}, nil
}

type component struct {
	engine *Engine
	handle string
	name   string
}

func (c *component) Name() string {
	return c.name
}

func (c *component) WriteXML(path string) error {
	return c.engine.Call(context.Background(), MethodComponentWriteXML, pathParams{Handle: c.handle, Path: path}, nil)
}

func (c *component) SetEdisp(enabled bool) error {
	return c.engine.Call(context.Background(), MethodComponentEdisp, edispParams{Handle: c.handle, Enabled: enabled}, nil)
}

type summed struct {
	engine *Engine
	handle string
}

func (s *summed) call(method string, params, out any) error {
	return s.engine.Call(context.Background(), method, params, out)
}

func (s *summed) AddComponent(c likelihood.Component) error {
	remote, ok := c.(*component)
	if !ok || remote.engine != s.engine {
		return fmt.Errorf("bridge: component %s does not belong to this engine", c.Name())
	}
	return s.call(MethodSummedAdd, addComponentParams{Handle: s.handle, Component: remote.handle}, nil)
}

func (s *summed) NumFreeParams() (int, error) {
	var res countResult
	err := s.call(MethodNumFree, handleParams{Handle: s.handle}, &res)
	return res.Count, err
}

func (s *summed) SourceNames() ([]string, error) {
	var res namesResult
	err := s.call(MethodSourceNames, handleParams{Handle: s.handle}, &res)
	return res.Names, err
}

func (s *summed) Spectrum(source string) (likelihood.Spectrum, error) {
	var res likelihood.Spectrum
	err := s.call(MethodSpectrum, sourceParams{Handle: s.handle, Source: source}, &res)
	return res, err
}

func (s *summed) ParamIndex(source, name string) (int, error) {
	var res indexResult
	err := s.call(MethodParamIndex, paramIndexParams{Handle: s.handle, Source: source, Name: name}, &res)
	return res.Index, err
}

func (s *summed) NormParam(source string) (string, error) {
	var res nameResult
	err := s.call(MethodNormParam, sourceParams{Handle: s.handle, Source: source}, &res)
	return res.Name, err
}

func (s *summed) Params() ([]likelihood.Parameter, error) {
	var res paramsResult
	err := s.call(MethodParams, handleParams{Handle: s.handle}, &res)
	return res.Params, err
}

func (s *summed) SetFree(index int, free bool) error {
	return s.call(MethodSetFree, setParamParams{Handle: s.handle, Index: index, Free: free}, nil)
}

func (s *summed) SetParam(index int, value float64, free bool) error {
	return s.call(MethodSetParam, setParamParams{Handle: s.handle, Index: index, Value: value, Free: free}, nil)
}

func (s *summed) SyncSourceParams(source string) error {
	return s.call(MethodSync, sourceParams{Handle: s.handle, Source: source}, nil)
}

func (s *summed) Fit(ctx context.Context, opt likelihood.Optimizer, covar bool) (likelihood.Attempt, error) {
	var res likelihood.Attempt
	err := s.engine.Call(ctx, MethodFit, fitParams{Handle: s.handle, Optimizer: opt.Name, Covar: covar}, &res)
	return res, err
}
