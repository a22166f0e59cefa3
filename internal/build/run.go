package build

import (
	"context"
	"errors"

	"github.com/jeffersonlab/poddbuild/internal/config"
	"github.com/jeffersonlab/poddbuild/internal/engine"
	"github.com/jeffersonlab/poddbuild/internal/install"
)

// Run executes the build phase of p.
func Run(ctx context.Context, p *Plan, e *engine.Executor) error {
	return e.Run(ctx, p.Graph, engine.PhaseBuild)
}

// Install executes both phases of p and records the installed files in
// the manifest below cfg.InstallRoot. Files installed before a failure
// are recorded too.
func Install(ctx context.Context, cfg config.BuildConfig, p *Plan, e *engine.Executor) error {
	m := install.NewManifest(cfg.InstallRoot, cfg.Version.String())
	m.Logger = e.Logger
	ex := *e
	ex.OnDone = func(n *engine.Node) {
		m.Observe(n)
		if e.OnDone != nil {
			e.OnDone(n)
		}
	}
	err := ex.Run(ctx, p.Graph, engine.PhaseInstall)
	if len(m.Records) > 0 {
		if serr := m.Save(); serr != nil {
			err = errors.Join(err, serr)
		}
	}
	return err
}

// Clean removes the declared outputs of p.
func Clean(p *Plan, e *engine.Executor) ([]string, error) {
	return e.Clean(p.Graph)
}
