// Package bridge talks to a likelihood engine running in a separate process.
// Requests and responses are single-line JSON objects exchanged over the
// engine's stdin and stdout; calls are strictly sequential.
package bridge

import (
	"encoding/json"
	"errors"

	"github.com/kingrea/gtpipe/internal/likelihood"
)

// Protocol methods.
const (
	MethodComponentNew      = "component.new"
	MethodComponentWriteXML = "component.write_xml"
	MethodComponentEdisp    = "component.set_edisp"
	MethodSummedNew         = "summed.new"
	MethodSummedAdd         = "summed.add_component"
	MethodNumFree           = "like.num_free"
	MethodSourceNames       = "like.source_names"
	MethodSpectrum          = "like.spectrum"
	MethodParamIndex        = "like.param_index"
	MethodNormParam         = "like.norm_param"
	MethodParams            = "like.params"
	MethodSetFree           = "like.set_free"
	MethodSetParam          = "like.set_param"
	MethodSync              = "like.sync"
	MethodFit               = "like.fit"
	MethodShutdown          = "shutdown"
)

// ErrClosed is returned by calls on a closed engine.
var ErrClosed = errors.New("bridge: engine closed")

type request struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type handleParams struct {
	Handle string `json:"handle"`
}

type handleResult struct {
	Handle string `json:"handle"`
}

type newSummedParams struct {
	Optimizer string `json:"optimizer"`
}

type addComponentParams struct {
	Handle    string `json:"handle"`
	Component string `json:"component"`
}

type pathParams struct {
	Handle string `json:"handle"`
	Path   string `json:"path"`
}

type edispParams struct {
	Handle  string `json:"handle"`
	Enabled bool   `json:"enabled"`
}

type sourceParams struct {
	Handle string `json:"handle"`
	Source string `json:"source"`
}

type paramIndexParams struct {
	Handle string `json:"handle"`
	Source string `json:"source"`
	Name   string `json:"name"`
}

type setParamParams struct {
	Handle string  `json:"handle"`
	Index  int     `json:"index"`
	Value  float64 `json:"value"`
	Free   bool    `json:"free"`
}

type fitParams struct {
	Handle    string `json:"handle"`
	Optimizer string `json:"optimizer"`
	Covar     bool   `json:"covar"`
}

type countResult struct {
	Count int `json:"count"`
}

type indexResult struct {
	Index int `json:"index"`
}

type nameResult struct {
	Name string `json:"name"`
}

type namesResult struct {
	Names []string `json:"names"`
}

type paramsResult struct {
	Params []likelihood.Parameter `json:"params"`
}
