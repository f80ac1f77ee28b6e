package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/kingrea/gtpipe/internal/likelihood"
)

// Serve answers protocol requests from r on w using backend until the
// stream ends or a shutdown request arrives. It lets any likelihood.Backend
// run behind the process boundary.
func Serve(ctx context.Context, r io.Reader, w io.Writer, backend likelihood.Backend) error {
	s := &server{
		backend:    backend,
		components: map[string]likelihood.Component{},
		summed:     map[string]likelihood.Summed{},
	}
	dec := json.NewDecoder(bufio.NewReader(r))
	enc := json.NewEncoder(w)
	for {
		var req request
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("bridge: serve: decode: %w", err)
		}
		if req.Method == MethodShutdown {
			return nil
		}
		result, err := s.dispatch(ctx, req)
		resp := response{ID: req.ID}
		if err != nil {
			resp.Error = err.Error()
		} else if result != nil {
			raw, encErr := json.Marshal(result)
			if encErr != nil {
				resp.Error = encErr.Error()
			} else {
				resp.Result = raw
			}
		}
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("bridge: serve: encode: %w", err)
		}
	}
}

type server struct {
	backend    likelihood.Backend
	components map[string]likelihood.Component
	summed     map[string]likelihood.Summed
	next       int
}

func (s *server) handle(prefix string) string {
	s.next++
	return prefix + strconv.Itoa(s.next)
}

func (s *server) like(handle string) (likelihood.Summed, error) {
	like, ok := s.summed[handle]
	if !ok {
		return nil, fmt.Errorf("unknown likelihood handle %q", handle)
	}
	return like, nil
}

func (s *server) component(handle string) (likelihood.Component, error) {
	comp, ok := s.components[handle]
	if !ok {
		return nil, fmt.Errorf("unknown component handle %q", handle)
	}
	return comp, nil
}

func (s *server) dispatch(ctx context.Context, req request) (any, error) {
	switch req.Method {
	case MethodComponentNew:
		var obs likelihood.Observation
		if err := decodeParams(req, &obs); err != nil {
			return nil, err
		}
		comp, err := s.backend.NewComponent(ctx, obs)
		if err != nil {
			return nil, err
		}
		h := s.handle("c")
		s.components[h] = comp
		return handleResult{Handle: h}, nil
	case MethodComponentWriteXML:
		var p pathParams
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		comp, err := s.component(p.Handle)
		if err != nil {
			return nil, err
		}
		return nil, comp.WriteXML(p.Path)
	case MethodComponentEdisp:
		var p edispParams
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		comp, err := s.component(p.Handle)
		if err != nil {
			return nil, err
		}
		return nil, comp.SetEdisp(p.Enabled)
	case MethodSummedNew:
		var p newSummedParams
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		like, err := s.backend.NewSummed(ctx, p.Optimizer)
		if err != nil {
			return nil, err
		}
		h := s.handle("s")
		s.summed[h] = like
		return handleResult{Handle: h}, nil
	case MethodSummedAdd:
		var p addComponentParams
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		like, err := s.like(p.Handle)
		if err != nil {
			return nil, err
		}
		comp, err := s.component(p.Component)
		if err != nil {
			return nil, err
		}
		return nil, like.AddComponent(comp)
	}
	return s.dispatchModel(ctx, req)
}

func (s *server) dispatchModel(ctx context.Context, req request) (any, error) {
	var base handleParams
	if err := decodeParams(req, &base); err != nil {
		return nil, err
	}
	like, err := s.like(base.Handle)
	if err != nil {
		return nil, err
	}
	switch req.Method {
	case MethodNumFree:
		n, err := like.NumFreeParams()
		return countResult{Count: n}, err
	case MethodSourceNames:
		names, err := like.SourceNames()
		return namesResult{Names: names}, err
	case MethodSpectrum:
		var p sourceParams
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		return like.Spectrum(p.Source)
	case MethodParamIndex:
		var p paramIndexParams
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		idx, err := like.ParamIndex(p.Source, p.Name)
		return indexResult{Index: idx}, err
	case MethodNormParam:
		var p sourceParams
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		name, err := like.NormParam(p.Source)
		return nameResult{Name: name}, err
	case MethodParams:
		params, err := like.Params()
		return paramsResult{Params: params}, err
	case MethodSetFree:
		var p setParamParams
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		return nil, like.SetFree(p.Index, p.Free)
	case MethodSetParam:
		var p setParamParams
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		return nil, like.SetParam(p.Index, p.Value, p.Free)
	case MethodSync:
		var p sourceParams
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		return nil, like.SyncSourceParams(p.Source)
	case MethodFit:
		var p fitParams
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		return like.Fit(ctx, likelihood.NewOptimizer(p.Optimizer), p.Covar)
	default:
		return nil, fmt.Errorf("unknown method %q", req.Method)
	}
}

func decodeParams(req request, out any) error {
	if len(req.Params) == 0 {
		return fmt.Errorf("%s: params are required", req.Method)
	}
	if err := json.Unmarshal(req.Params, out); err != nil {
		return fmt.Errorf("%s: decode params: %w", req.Method, err)
	}
	return nil
}
