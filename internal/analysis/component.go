package analysis

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kingrea/gtpipe/internal/artifact"
	"github.com/kingrea/gtpipe/internal/config"
	"github.com/kingrea/gtpipe/internal/gtapp"
	"github.com/kingrea/gtpipe/internal/likelihood"
	"github.com/kingrea/gtpipe/internal/roi"
	"github.com/kingrea/gtpipe/internal/stage"
	"github.com/kingrea/gtpipe/internal/workspace"
)

const toolVersion = "1"

// Fixed all-sky exposure grid passed to gtexpcube2.
const (
	expCubeNXPix = 360
	expCubeNYPix = 180
	expCubeBinSz = 1.0
	expCubeProj  = "CAR"
)

// Component is one binned analysis: its merged configuration, its view of
// the region, the stages producing its products and, after Setup, its
// likelihood handle.
type Component struct {
	name     string
	cfg      config.Analysis
	region   *roi.Region
	env      *stage.Env
	pipeline *stage.Pipeline
	backend  likelihood.Backend
	handle   likelihood.Component
}

func newComponent(name string, cfg config.Analysis, region *roi.Region, env *stage.Env, backend likelihood.Backend) *Component {
	c := &Component{
		name:    name,
		cfg:     cfg,
		region:  region,
		env:     env,
		backend: backend,
	}
	c.pipeline = stage.NewPipeline()
	c.pipeline.MustRegister(stage.NewTool(stage.Info{
		ID:          "gtselect",
		Name:        "Select Events",
		Description: "cut the event list to the region, energy and time window",
		Version:     toolVersion,
	}, artifact.Events, c.selectParams))
	c.pipeline.MustRegister(stage.NewTool(stage.Info{
		ID:          "gtbin",
		Name:        "Bin Counts",
		Description: "bin selected events into a counts cube",
		Version:     toolVersion,
	}, artifact.CountsCube, c.binParams))
	c.pipeline.MustRegister(stage.NewTool(stage.Info{
		ID:          "gtexpcube2",
		Name:        "Exposure Cube",
		Description: "compute the binned all-sky exposure",
		Version:     toolVersion,
	}, artifact.BinnedExpMap, c.expCubeParams))
	c.pipeline.MustRegister(stage.NewTool(stage.Info{
		ID:          "gtsrcmaps",
		Name:        "Source Maps",
		Description: "compute per-source model maps",
		Version:     toolVersion,
	}, artifact.SourceMaps, c.srcMapsParams))
	return c
}

// Name returns the component key.
func (c *Component) Name() string {
	return c.name
}

// Suffix returns the product file suffix (_<key>).
func (c *Component) Suffix() string {
	return c.env.Suffix
}

// Config returns the merged configuration.
func (c *Component) Config() config.Analysis {
	return c.cfg
}

// Region returns the component's region.
func (c *Component) Region() *roi.Region {
	return c.region
}

// Stages returns the setup stage IDs in execution order.
func (c *Component) Stages() []string {
	return c.pipeline.IDs()
}

// Handle returns the likelihood handle created by Setup (nil before).
func (c *Component) Handle() likelihood.Component {
	return c.handle
}

// Product returns the path of one of the component's products.
func (c *Component) Product(ref artifact.Ref) string {
	return ref.Path(c.env.Workspace, c.env.Suffix)
}

// Setup writes the region model, runs gtselect, gtbin, gtexpcube2 and
// gtsrcmaps (skipping built products) and creates the likelihood handle.
func (c *Component) Setup(ctx context.Context) error {
	srcmdl := c.Product(artifact.SourceModel)
	if err := c.region.WriteXML(srcmdl); err != nil {
		return fmt.Errorf("analysis: %s: %w", c.name, err)
	}
	if _, err := c.pipeline.Run(ctx, c.env); err != nil {
		return fmt.Errorf("analysis: %s: %w", c.name, err)
	}

	c.env.Log.Info("Creating likelihood for %s", c.name)
	handle, err := c.backend.NewComponent(ctx, likelihood.Observation{
		Name:         c.name,
		SrcMaps:      c.Product(artifact.SourceMaps),
		ExpCube:      c.cfg.Selection.LTCube,
		BinnedExpMap: c.Product(artifact.BinnedExpMap),
		IRFs:         c.cfg.IRFs.IRFs,
		SrcModel:     srcmdl,
		Optimizer:    c.cfg.Optimizer.Optimizer,
	})
	if err != nil {
		return fmt.Errorf("analysis: %s: create likelihood: %w", c.name, err)
	}
	if c.cfg.IRFs.EnableEdisp {
		c.env.Log.Info("Enabling energy dispersion")
		if err := handle.SetEdisp(true); err != nil {
			return fmt.Errorf("analysis: %s: enable edisp: %w", c.name, err)
		}
	}
	c.handle = handle
	return nil
}

// GenerateModel runs gtmodel into outfile (default mcube<suffix>.fits) from
// the seed model, or from the model named modelName when set.
func (c *Component) GenerateModel(ctx context.Context, outfile, modelName string) error {
	output := artifact.ModelCube
	if outfile != "" {
		output = output.At(outfile)
	}
	srcmdl := c.Product(artifact.SourceModel)
	if modelName != "" {
		srcmdl = c.ModelPath(modelName)
	}
	tool := stage.NewTool(stage.Info{
		ID:          "gtmodel",
		Name:        "Model Counts",
		Description: "compute the model counts cube",
		Version:     toolVersion,
	}, output, func() gtapp.Params {
		return gtapp.Params{
			{Key: "srcmaps", Value: c.Product(artifact.SourceMaps)},
			{Key: "srcmdl", Value: srcmdl},
			{Key: "bexpmap", Value: c.Product(artifact.BinnedExpMap)},
			{Key: "outfile", Value: output.Path(c.env.Workspace, c.env.Suffix)},
			{Key: "expcube", Value: nonEmpty(c.cfg.Selection.LTCube)},
			{Key: "irfs", Value: c.cfg.IRFs.IRFs},
			{Key: "outtype", Value: "ccube"},
		}
	}).WithInputs(srcmdl)
	if _, err := stage.Execute(ctx, c.env, tool); err != nil {
		return fmt.Errorf("analysis: %s: %w", c.name, err)
	}
	return nil
}

// WriteXML writes the fitted model through the likelihood handle.
func (c *Component) WriteXML(name string) error {
	if c.handle == nil {
		return fmt.Errorf("analysis: %s: %w", c.name, ErrNotSetup)
	}
	path := c.ModelPath(name)
	c.env.Log.Info("Writing %s", path)
	if err := c.handle.WriteXML(path); err != nil {
		return fmt.Errorf("analysis: %s: write xml: %w", c.name, err)
	}
	return nil
}

// ModelPath maps a model name to <name><suffix><ext> (ext defaults to .xml),
// placed under the save directory unless it already points there.
func (c *Component) ModelPath(name string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if ext == "" {
		ext = workspace.ModelExt
	}
	path := base + c.env.Suffix + ext
	if !c.env.Workspace.Contains(path) {
		path = filepath.Join(c.env.Workspace.SaveDir(), path)
	}
	return path
}

func (c *Component) selectParams() gtapp.Params {
	ra, dec := c.region.Center()
	sel := c.cfg.Selection
	return gtapp.Params{
		{Key: "infile", Value: nonEmpty(sel.EvFile)},
		{Key: "outfile", Value: c.Product(artifact.Events)},
		{Key: "ra", Value: ra},
		{Key: "dec", Value: dec},
		{Key: "rad", Value: sel.Radius},
		{Key: "evtype", Value: sel.EvType},
		{Key: "evclass", Value: sel.EvClass},
		{Key: "tmin", Value: sel.TMin},
		{Key: "tmax", Value: sel.TMax},
		{Key: "emin", Value: sel.EMin},
		{Key: "emax", Value: sel.EMax},
		{Key: "zmax", Value: sel.ZMax},
	}
}

func (c *Component) binParams() gtapp.Params {
	ra, dec := c.region.Center()
	npix := c.cfg.NPix()
	return gtapp.Params{
		{Key: "algorithm", Value: "ccube"},
		{Key: "nxpix", Value: npix},
		{Key: "nypix", Value: npix},
		{Key: "binsz", Value: c.cfg.Binning.BinSz},
		{Key: "evfile", Value: c.Product(artifact.Events)},
		{Key: "outfile", Value: c.Product(artifact.CountsCube)},
		{Key: "scfile", Value: nonEmpty(c.cfg.Selection.SCFile)},
		{Key: "xref", Value: ra},
		{Key: "yref", Value: dec},
		{Key: "axisrot", Value: 0},
		{Key: "proj", Value: nonEmpty(c.cfg.Binning.Proj)},
		{Key: "ebinalg", Value: "LOG"},
		{Key: "emin", Value: c.cfg.Selection.EMin},
		{Key: "emax", Value: c.cfg.Selection.EMax},
		{Key: "enumbins", Value: c.cfg.EnumBins()},
		{Key: "coordsys", Value: nonEmpty(c.cfg.Binning.CoordSys)},
	}
}

func (c *Component) expCubeParams() gtapp.Params {
	return gtapp.Params{
		{Key: "infile", Value: nonEmpty(c.cfg.Selection.LTCube)},
		{Key: "cmap", Value: "none"},
		{Key: "ebinalg", Value: "LOG"},
		{Key: "emin", Value: c.cfg.Selection.EMin},
		{Key: "emax", Value: c.cfg.Selection.EMax},
		{Key: "enumbins", Value: c.cfg.EnumBins()},
		{Key: "outfile", Value: c.Product(artifact.BinnedExpMap)},
		{Key: "proj", Value: expCubeProj},
		{Key: "nxpix", Value: expCubeNXPix},
		{Key: "nypix", Value: expCubeNYPix},
		{Key: "binsz", Value: expCubeBinSz},
		{Key: "irfs", Value: nonEmpty(c.cfg.IRFs.IRFs)},
		{Key: "coordsys", Value: nonEmpty(c.cfg.Binning.CoordSys)},
	}
}

func (c *Component) srcMapsParams() gtapp.Params {
	return gtapp.Params{
		{Key: "scfile", Value: nonEmpty(c.cfg.Selection.SCFile)},
		{Key: "expcube", Value: nonEmpty(c.cfg.Selection.LTCube)},
		{Key: "cmap", Value: c.Product(artifact.CountsCube)},
		{Key: "srcmdl", Value: c.Product(artifact.SourceModel)},
		{Key: "bexpmap", Value: c.Product(artifact.BinnedExpMap)},
		{Key: "outfile", Value: c.Product(artifact.SourceMaps)},
		{Key: "irfs", Value: nonEmpty(c.cfg.IRFs.IRFs)},
		{Key: "emapbnds", Value: false},
	}
}

// nonEmpty turns an empty string into an unset parameter.
func nonEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
