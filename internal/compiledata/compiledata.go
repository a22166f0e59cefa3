// Copyright (c) 2026 The XGo Authors (xgo.dev). All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package compiledata writes the header of build provenance constants that
// the analyzer compiles in.
package compiledata

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jeffersonlab/poddbuild/internal/config"
	"github.com/jeffersonlab/poddbuild/internal/engine"
)

// Guard is the include guard of the generated header.
const Guard = "ANALYZER_COMPILEDATA_H"

// TimeLayout is the format of the time stamps in the header.
const TimeLayout = time.RFC1123Z

// Facts are the values written to the header.
type Facts struct {
	IncludePath     string
	Version         string
	SourceTime      string
	OSVersion       string
	Platform        string
	BuildTime       string
	BuildNode       string
	BuildDir        string
	BuildUser       string
	GitRev          string
	CXXVersion      string
	CXXShortVersion string
	ROOTVersion     string
	VersionCode     int
}

// Collect gathers the facts for cfg. The revision, commit date and
// compiler banner come from external commands; when one of them cannot be
// run its value is left empty (the source time falls back to now).
func Collect(ctx context.Context, cfg config.BuildConfig, r engine.Runner, includeDirs []string, now time.Time) Facts {
	buildDir, err := filepath.Abs(cfg.BuildDir)
	if err != nil {
		buildDir = cfg.BuildDir
	}
	f := Facts{
		IncludePath: strings.Join(includeDirs, " "),
		Version:     cfg.Version.String(),
		OSVersion:   cfg.Host.Terse(),
		Platform:    cfg.Host.String(),
		BuildTime:   now.Format(TimeLayout),
		BuildNode:   cfg.Host.Node,
		BuildDir:    buildDir,
		BuildUser:   cfg.Env.Get("LOGNAME"),
		ROOTVersion: cfg.ROOT.Version,
		VersionCode: cfg.Version.Code(),
	}

	output := func(argv ...string) string {
		out, err := r.Output(ctx, cfg.SourceDir, argv)
		if err != nil {
			return ""
		}
		line, _, _ := strings.Cut(string(out), "\n")
		return strings.TrimSpace(line)
	}
	f.GitRev = output("git", "rev-parse", "HEAD")
	if len(f.GitRev) > 7 {
		f.GitRev = f.GitRev[:7]
	}
	f.SourceTime = output("git", "show", "--no-patch", "--format=%cD", "HEAD")
	if f.SourceTime == "" {
		f.SourceTime = f.BuildTime
	}
	f.CXXVersion = output(cfg.CXX, "--version")
	f.CXXShortVersion = ShortCompilerVersion(f.CXXVersion)
	return f
}

// ShortCompilerVersion maps a compiler banner to a short label such as
// "g++-9.4.0" or "clang-10.0.0". Banners of unknown form are returned
// unchanged.
func ShortCompilerVersion(banner string) string {
	fields := strings.Fields(banner)
	if len(fields) < 2 {
		return banner
	}
	switch fields[0] {
	case "Apple":
		last := fields[len(fields)-1]
		if len(last) >= 2 && last[0] == '(' && last[len(last)-1] == ')' {
			return last[1 : len(last)-1]
		}
	case "clang":
		if len(fields) >= 3 {
			return fields[0] + "-" + fields[2]
		}
	case "g++", "c++", "gcc":
		for i := 1; i < len(fields)-1; i++ {
			if strings.HasSuffix(fields[i], ")") {
				return fields[0] + "-" + fields[i+1]
			}
		}
	}
	return banner
}

// Render returns the header text for f.
func Render(f Facts) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "#ifndef %s\n#define %s\n\n", Guard, Guard)
	for _, d := range []struct{ name, value string }{
		{"HA_INCLUDEPATH", f.IncludePath},
		{"HA_VERSION", f.Version},
		{"HA_SOURCETIME", f.SourceTime},
		{"HA_OSVERS", f.OSVersion},
		{"HA_PLATFORM", f.Platform},
		{"HA_BUILDTIME", f.BuildTime},
		{"HA_BUILDNODE", f.BuildNode},
		{"HA_BUILDDIR", f.BuildDir},
		{"HA_BUILDUSER", f.BuildUser},
		{"HA_GITREV", f.GitRev},
		{"HA_CXXVERS", f.CXXVersion},
		{"HA_CXXSHORTVERS", f.CXXShortVersion},
		{"HA_ROOTVERS", f.ROOTVersion},
	} {
		fmt.Fprintf(&b, "#define %s \"%s\"\n", d.name, quote(d.value))
	}
	fmt.Fprintf(&b, "\n#define ANALYZER_VERSION_CODE %d\n", f.VersionCode)
	b.WriteString("#define ANALYZER_VERSION(a,b,c) (((a) << 16) + ((b) << 8) + (c))\n")
	b.WriteString("\n#endif\n")
	return b.Bytes()
}

var quoter = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", " ")

func quote(s string) string { return quoter.Replace(s) }

// Emit writes the header for f to path.
func Emit(path string, f Facts) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, Render(f), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Declare adds a step generating the header at path from cfg. The header
// is also registered as a clean target.
func Declare(g *engine.Graph, cfg config.BuildConfig, path string, includeDirs []string, logger *zap.Logger) *engine.Node {
	if logger == nil {
		logger = zap.NewNop()
	}
	g.Clean(path)
	return g.Command("compiledata:"+path, "Generating "+filepath.Base(path), nil, []string{path},
		func(ctx context.Context, r engine.Runner) error {
			f := Collect(ctx, cfg, r, includeDirs, time.Now())
			logger.Debug("build facts", zap.String("gitrev", f.GitRev), zap.String("cxx", f.CXXShortVersion))
			return Emit(path, f)
		})
}
