package internal

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"

	"go.uber.org/zap"

	"github.com/jeffersonlab/poddbuild/internal/build"
	"github.com/jeffersonlab/poddbuild/internal/config"
	"github.com/jeffersonlab/poddbuild/internal/dict"
	"github.com/jeffersonlab/poddbuild/internal/engine"
	"github.com/jeffersonlab/poddbuild/internal/project"
	"github.com/jeffersonlab/poddbuild/internal/resolve"
	"github.com/jeffersonlab/poddbuild/internal/rpath"
	"github.com/jeffersonlab/poddbuild/pkgs/platform"
)

// session is the state shared by the commands that plan a build.
type session struct {
	cfg      config.BuildConfig
	builder  *build.Builder
	executor *engine.Executor
}

// environment returns the process environment over the env files.
func (f *flags) environment() (config.Env, error) {
	env := config.OSEnv()
	if len(f.envFiles) == 0 {
		return env, nil
	}
	fileEnv, err := config.LoadEnvFiles(f.envFiles...)
	if err != nil {
		return nil, err
	}
	return fileEnv.Merge(env), nil
}

func (f *flags) options() config.Options {
	return config.Options{
		Debug:            f.debug,
		Standalone:       f.standalone,
		VendorDependency: f.vendorDependency,
		Jobs:             f.jobs,
		Verbose:          f.verbose,
	}
}

// dirs returns the absolute source, build and install directories.
func (f *flags) dirs() (src, bld, prefix string, err error) {
	if src, err = filepath.Abs(f.sourceDir); err != nil {
		return
	}
	bld = f.buildDir
	if !filepath.IsAbs(bld) {
		bld = filepath.Join(src, bld)
	}
	if prefix, err = filepath.Abs(f.prefix); err != nil {
		return
	}
	return src, filepath.Clean(bld), prefix, nil
}

// newSession loads the project and the toolchain. With offline set, a
// missing ROOT or an unresolvable dependency does not fail the session
// and nothing is downloaded.
func newSession(ctx context.Context, f *flags, log *zap.Logger, offline bool) (*session, error) {
	profile, err := platform.Current()
	if err != nil {
		return nil, err
	}
	env, err := f.environment()
	if err != nil {
		return nil, err
	}
	src, bld, prefix, err := f.dirs()
	if err != nil {
		return nil, err
	}
	projFile := f.config
	if projFile == "" {
		projFile = filepath.Join(src, project.FileName)
	}
	proj, err := project.Load(projFile)
	if err != nil {
		return nil, err
	}
	version, err := proj.ParseVersion()
	if err != nil {
		return nil, err
	}

	cfg := config.New(profile, platform.HostInfo(), env, f.options(), version).
		WithDirs(src, bld, prefix).
		WithRPaths(append(slices.Clone(proj.RPath), f.rpaths...)...)
	runner := &engine.ExecRunner{Env: env}
	root, err := resolve.FindROOT(ctx, env, runner)
	switch {
	case err == nil:
		log.Debug("ROOT", zap.String("version", root.Version), zap.String("bindir", root.BinDir))
		cfg = cfg.WithROOT(root)
	case offline:
		log.Debug("ROOT not found", zap.Error(err))
		cfg.ROOT.Major = dict.PCMThreshold
	default:
		return nil, fmt.Errorf("%w (set ROOTSYS or put root-config on PATH)", err)
	}

	var fetcher resolve.Fetcher
	if !offline {
		fetcher = resolve.NewHTTPFetcher(0)
	}
	b := build.NewBuilder(cfg, proj, resolve.New(cfg, fetcher, log), rpath.New(profile, log), log)
	b.IgnoreUnresolved = offline
	return &session{
		cfg:      cfg,
		builder:  b,
		executor: &engine.Executor{Runner: runner, Jobs: f.jobs, Logger: log},
	}, nil
}
