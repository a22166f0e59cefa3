// Package dict plans and declares ROOT dictionary generation. The set of
// files the generator writes depends on the ROOT major version, so it is
// computed up front and declared as the outputs of a single graph node.
package dict

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/jeffersonlab/poddbuild/internal/engine"
)

// PCMThreshold is the first ROOT major version whose generator (rootcling)
// writes the _rdict.pcm and .rootmap side artifacts.
const PCMThreshold = 6

// ErrNoLinkDef is returned when the header list does not end with a link
// definition header.
var ErrNoLinkDef = errors.New("header list must end with a LinkDef header")

// Request describes one dictionary.
type Request struct {
	// Name is the dictionary name; the source is <Dir>/<Name>Dict.cxx.
	Name string
	Dir  string

	// Headers are the class headers, link definition header last.
	Headers []string

	// ROOTMajor selects rootcling (>= PCMThreshold) or rootcint.
	ROOTMajor int

	// PCMName is the base name of the side artifacts, e.g. "libPodd".
	// It defaults to <Name>Dict.
	PCMName string
	// LibFile is the library recorded in the rootmap, e.g. "libPodd.so".
	LibFile string

	// CPPFlags are the -D and -I flags in effect for the build.
	CPPFlags []string

	// BinDir locates the generator; empty means the search path.
	BinDir string
}

// Plan is the fully computed generator invocation.
type Plan struct {
	Source  string
	PCM     string // empty below PCMThreshold
	RootMap string // empty below PCMThreshold
	Argv    []string
	Headers []string
}

// Outputs returns every file the generator writes, source first.
func (p *Plan) Outputs() []string {
	out := []string{p.Source}
	return append(out, p.SideArtifacts()...)
}

// SideArtifacts returns the pcm and rootmap files, if any.
func (p *Plan) SideArtifacts() []string {
	if p.PCM == "" {
		return nil
	}
	return []string{p.PCM, p.RootMap}
}

// IsLinkDef reports whether name is a link definition header.
func IsLinkDef(name string) bool {
	return strings.HasSuffix(filepath.Base(name), "LinkDef.h")
}

// Generate computes the outputs and command line for req.
func Generate(req Request) (*Plan, error) {
	if req.Name == "" {
		return nil, errors.New("dictionary name is empty")
	}
	if len(req.Headers) == 0 || !IsLinkDef(req.Headers[len(req.Headers)-1]) {
		return nil, fmt.Errorf("dictionary %s: %w", req.Name, ErrNoLinkDef)
	}
	for _, h := range req.Headers[:len(req.Headers)-1] {
		if IsLinkDef(h) {
			return nil, fmt.Errorf("dictionary %s: %s: %w", req.Name, h, ErrNoLinkDef)
		}
	}

	p := &Plan{
		Source:  filepath.Join(req.Dir, req.Name+"Dict.cxx"),
		Headers: slices.Clone(req.Headers),
	}
	if req.ROOTMajor >= PCMThreshold {
		pcmName := req.PCMName
		if pcmName == "" {
			pcmName = req.Name + "Dict"
		}
		pcmBase := filepath.Join(req.Dir, pcmName)
		p.PCM = pcmBase + "_rdict.pcm"
		p.RootMap = pcmBase + ".rootmap"
		p.Argv = []string{tool(req.BinDir, "rootcling"), "-f", p.Source, "-s", pcmBase, "-rmf", p.RootMap}
		if req.LibFile != "" {
			p.Argv = append(p.Argv, "-rml", req.LibFile)
		}
	} else {
		p.Argv = []string{tool(req.BinDir, "rootcint"), "-f", p.Source, "-c"}
	}
	p.Argv = append(p.Argv, req.CPPFlags...)
	p.Argv = append(p.Argv, req.Headers...)
	return p, nil
}

func tool(binDir, name string) string {
	if binDir == "" {
		return name
	}
	return filepath.Join(binDir, name)
}

// Declare adds the generator step to g. A failed run removes whatever the
// generator wrote, so no partial dictionary survives.
func (p *Plan) Declare(g *engine.Graph, logger *zap.Logger) *engine.Node {
	if logger == nil {
		logger = zap.NewNop()
	}
	outputs := p.Outputs()
	argv := slices.Clone(p.Argv)
	label := "RootCint: generating " + filepath.Base(p.Source)
	return g.Command("dict:"+p.Source, label, p.Headers, outputs, func(ctx context.Context, r engine.Runner) error {
		logger.Debug("RootCint command", zap.Strings("argv", argv))
		err := r.Run(ctx, "", argv)
		if err == nil {
			return nil
		}
		for _, out := range outputs {
			if rerr := removeIfExists(out); rerr != nil {
				logger.Warn("cannot remove partial dictionary output", zap.String("file", out), zap.Error(rerr))
			}
		}
		return fmt.Errorf("dictionary %s: %w", filepath.Base(p.Source), err)
	})
}

func removeIfExists(name string) error {
	err := os.Remove(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
