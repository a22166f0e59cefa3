package library

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jeffersonlab/poddbuild/internal/config"
	"github.com/jeffersonlab/poddbuild/internal/engine"
	"github.com/jeffersonlab/poddbuild/internal/install"
	"github.com/jeffersonlab/poddbuild/internal/resolve"
	"github.com/jeffersonlab/poddbuild/internal/rpath"
	"github.com/jeffersonlab/poddbuild/pkgs/platform"
)

// toolRunner stands in for the compiler, linker and dictionary generator:
// it writes every file the command names as an output.
type toolRunner struct {
	mu  sync.Mutex
	ran [][]string
}

func (r *toolRunner) Run(_ context.Context, _ string, argv []string) error {
	r.mu.Lock()
	r.ran = append(r.ran, slices.Clone(argv))
	r.mu.Unlock()
	var outs []string
	for i := 0; i+1 < len(argv); i++ {
		switch argv[i] {
		case "-o", "-f", "-rmf":
			outs = append(outs, argv[i+1])
		case "-s":
			outs = append(outs, argv[i+1]+"_rdict.pcm")
		}
	}
	for _, out := range outs {
		if err := os.WriteFile(out, []byte(argv[0]), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (r *toolRunner) Output(ctx context.Context, dir string, argv []string) ([]byte, error) {
	return nil, r.Run(ctx, dir, argv)
}

func (r *toolRunner) outputOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var outs []string
	for _, argv := range r.ran {
		if i := slices.Index(argv, "-o"); i >= 0 {
			outs = append(outs, filepath.Base(argv[i+1]))
		}
	}
	return outs
}

func writeTree(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		name := filepath.Join(root, f)
		if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(name, []byte("// "+f+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func testConfig(t *testing.T, goos string) config.BuildConfig {
	t.Helper()
	p, err := platform.For(goos)
	if err != nil {
		t.Fatal(err)
	}
	root := t.TempDir()
	host := platform.Host{System: "Linux", Release: "6.1.0", Machine: "x86_64", Node: "ifarm"}
	cfg := config.New(p, host, config.Env{}, config.Options{}, config.MustParseVersion("1.7.0"))
	cfg = cfg.WithDirs(filepath.Join(root, "src"), filepath.Join(root, "build"), filepath.Join(root, "install"))
	cfg.ROOT.Major = 6
	return cfg
}

func dbModule() *Module {
	return &Module{
		Name:      "db",
		Target:    "PoddDB",
		Sources:   []string{"Database", "Textvars", "VarType"},
		Versioned: true,
	}
}

func noTools(string) (string, error) { return "", os.ErrNotExist }

func TestArtifactNames(t *testing.T) {
	v := config.MustParseVersion("1.7.0")
	tests := []struct {
		goos      string
		versioned bool
		want      Names
	}{
		{"linux", true, Names{"libPodd.so", "libPodd.so.1.7", "libPodd.so.1.7.0"}},
		{"darwin", true, Names{"libPodd.dylib", "libPodd.1.7.dylib", "libPodd.1.7.0.dylib"}},
		{"linux", false, Names{"libPodd.so", "libPodd.so", "libPodd.so"}},
		{"darwin", false, Names{"libPodd.dylib", "libPodd.dylib", "libPodd.dylib"}},
	}
	for _, tt := range tests {
		p, err := platform.For(tt.goos)
		if err != nil {
			t.Fatal(err)
		}
		got := ArtifactNames(p, "Podd", v, tt.versioned)
		if got != tt.want {
			t.Errorf("ArtifactNames(%s, %v) = %+v, want %+v", tt.goos, tt.versioned, got, tt.want)
		}
		if got.Chained() != tt.versioned {
			t.Errorf("Chained(%s, %v) = %v", tt.goos, tt.versioned, got.Chained())
		}
	}
}

func TestIdentityFlags(t *testing.T) {
	v := config.MustParseVersion("1.7.0")
	linux, _ := platform.For("linux")
	darwin, _ := platform.For("darwin")

	got := IdentityFlags(linux, ArtifactNames(linux, "Podd", v, true), v, true, nil)
	if diff := cmp.Diff([]string{"-Wl,-soname=libPodd.so.1.7"}, got); diff != "" {
		t.Errorf("linux flags mismatch (-want +got):\n%s", diff)
	}

	got = IdentityFlags(darwin, ArtifactNames(darwin, "Podd", v, true), v, true, []string{"/opt/root/lib"})
	want := []string{
		"-Wl,-install_name,@rpath/libPodd.1.7.dylib",
		"-Wl,-compatibility_version,1.7",
		"-Wl,-current_version,1.7.0",
		"-Wl,-rpath,/opt/root/lib",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("darwin flags mismatch (-want +got):\n%s", diff)
	}

	got = IdentityFlags(darwin, ArtifactNames(darwin, "PoddDB", v, false), v, false, nil)
	if diff := cmp.Diff([]string{"-Wl,-install_name,@rpath/libPoddDB.dylib"}, got); diff != "" {
		t.Errorf("unversioned darwin flags mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildVersionedChain(t *testing.T) {
	cfg := testConfig(t, "linux")
	writeTree(t, filepath.Join(cfg.SourceDir, "db"),
		"Database.cxx", "Database.h", "Textvars.cxx", "Textvars.h",
		"VarType.cxx", "VarType.h", "PoddDB_LinkDef.h")

	patcher := rpath.New(cfg.Platform, nil)
	patcher.LookPath = noTools
	g := engine.New()
	a, err := New(cfg, patcher, nil).Build(g, dbModule(), nil)
	if err != nil {
		t.Fatal(err)
	}

	m := install.NewManifest(cfg.InstallRoot, cfg.Version.String())
	r := &toolRunner{}
	e := &engine.Executor{Runner: r, Jobs: 4, OnDone: m.Observe}
	if err := e.Run(context.Background(), g, engine.PhaseInstall); err != nil {
		t.Fatal(err)
	}

	for _, dir := range []string{a.Dir, cfg.LibDir()} {
		if got, err := os.Readlink(filepath.Join(dir, "libPoddDB.so")); err != nil || got != "libPoddDB.so.1.7" {
			t.Errorf("readlink(%s/libPoddDB.so) = %q, %v", dir, got, err)
		}
		if got, err := os.Readlink(filepath.Join(dir, "libPoddDB.so.1.7")); err != nil || got != "libPoddDB.so.1.7.0" {
			t.Errorf("readlink(%s/libPoddDB.so.1.7) = %q, %v", dir, got, err)
		}
		fi, err := os.Lstat(filepath.Join(dir, "libPoddDB.so.1.7.0"))
		if err != nil || !fi.Mode().IsRegular() {
			t.Errorf("%s/libPoddDB.so.1.7.0 is not a regular file: %v", dir, err)
		}
	}

	var link []string
	for _, argv := range r.ran {
		if slices.Contains(argv, filepath.Join(a.Dir, "libPoddDB.so.1.7.0")) {
			link = argv
		}
	}
	if !slices.Contains(link, "-Wl,-soname=libPoddDB.so.1.7") {
		t.Errorf("link command lacks soname flag: %v", link)
	}
	for _, arg := range link {
		if strings.HasPrefix(arg, "-l") || strings.HasPrefix(arg, "-L") {
			t.Errorf("library without dependency linkage links %s", arg)
		}
	}

	var recorded []string
	for _, rec := range m.Records {
		recorded = append(recorded, rec.Path)
	}
	sort.Strings(recorded)
	want := []string{
		"include/Database.h", "include/Textvars.h", "include/VarType.h",
		"lib/libPoddDB.rootmap", "lib/libPoddDB.so", "lib/libPoddDB.so.1.7", "lib/libPoddDB.so.1.7.0",
		"lib/libPoddDB_rdict.pcm",
		"src/db/Database.cxx", "src/db/Textvars.cxx", "src/db/VarType.cxx",
	}
	if diff := cmp.Diff(want, recorded); diff != "" {
		t.Errorf("installed files mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildUnversioned(t *testing.T) {
	cfg := testConfig(t, "linux")
	writeTree(t, filepath.Join(cfg.SourceDir, "db"),
		"Database.cxx", "Database.h", "Textvars.cxx", "Textvars.h",
		"VarType.cxx", "VarType.h", "PoddDB_LinkDef.h")

	mod := dbModule()
	mod.Versioned = false
	g := engine.New()
	a, err := New(cfg, nil, nil).Build(g, mod, nil)
	if err != nil {
		t.Fatal(err)
	}
	if a.Ready != a.Library {
		t.Error("unversioned library should be ready after its link step")
	}
	for _, n := range g.Nodes() {
		if n.Kind == engine.KindSymlink {
			t.Errorf("unexpected symlink node %s", n.ID)
		}
	}
	e := &engine.Executor{Runner: &toolRunner{}, Jobs: 2}
	if err := e.Run(context.Background(), g, engine.PhaseInstall); err != nil {
		t.Fatal(err)
	}
	fi, err := os.Lstat(filepath.Join(cfg.LibDir(), "libPoddDB.so"))
	if err != nil || !fi.Mode().IsRegular() {
		t.Fatalf("installed libPoddDB.so is not a regular file: %v", err)
	}
}

func TestBuildHeaderOrder(t *testing.T) {
	cfg := testConfig(t, "linux")
	mod := &Module{
		Name:         "Podd",
		Sources:      []string{"THaEvent", "THaRun"},
		DictHeaders:  []string{"THaGlobals.h"},
		ExtraHeaders: []string{"DataType.h"},
		Versioned:    true,
	}
	g := engine.New()
	a, err := New(cfg, nil, nil).Build(g, mod, nil)
	if err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(cfg.SourceDir, "Podd")
	want := []string{
		filepath.Join(src, "THaEvent.h"),
		filepath.Join(src, "THaRun.h"),
		filepath.Join(src, "THaGlobals.h"),
		filepath.Join(src, "Podd_LinkDef.h"),
	}
	if diff := cmp.Diff(want, a.Dict.Headers); diff != "" {
		t.Errorf("dictionary headers mismatch (-want +got):\n%s", diff)
	}
	if a.Dict.PCM != filepath.Join(a.Dir, "libPodd_rdict.pcm") {
		t.Errorf("PCM = %s", a.Dict.PCM)
	}
	if _, ok := g.Lookup("object:" + filepath.Join(a.Dir, "PoddDict.o")); !ok {
		t.Error("dictionary source is not compiled into the library")
	}
	if _, ok := g.Lookup("install:" + filepath.Join(cfg.IncludeDir(), "DataType.h")); !ok {
		t.Error("extra header is not installed")
	}
	if _, ok := g.Lookup("install:" + filepath.Join(cfg.IncludeDir(), "Podd_LinkDef.h")); ok {
		t.Error("link definition header must not be installed")
	}
}

func TestBuildLinksDependencies(t *testing.T) {
	cfg := testConfig(t, "linux")
	cfg = cfg.WithROOT(config.ROOT{Major: 6, Libs: []string{"-L/opt/root/lib", "-lCore"}})
	writeTree(t, filepath.Join(cfg.SourceDir, "hana_decode"),
		"CodaDecoder.cxx", "CodaDecoder.h", "haDecode_LinkDef.h")
	writeTree(t, filepath.Join(cfg.SourceDir, "Podd"),
		"THaEvent.cxx", "THaEvent.h", "Podd_LinkDef.h")

	stage := filepath.Join(cfg.BuildDir, "evio")
	sub := engine.New()
	target := sub.SharedLibrary(engine.LinkSpec{
		Linker: "gcc",
		Output: filepath.Join(stage, "libevio.so"),
		Flags:  []string{"-shared"},
	})
	evio := &resolve.Result{
		Name: "evio", Found: true,
		IncludeDir: stage, LibDir: stage, LinkName: "evio",
		Vendored: true, Graph: sub, Target: target,
	}
	missing := &resolve.Result{Name: "et"}

	b := New(cfg, nil, nil)
	g := engine.New()
	podd, err := b.Build(g, &Module{Name: "Podd", Sources: []string{"THaEvent"}, Versioned: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	dc := &Module{
		Name:     "dc",
		Target:   "dc",
		Dir:      "hana_decode",
		Sources:  []string{"CodaDecoder"},
		DictName: "haDecode",
		UseEnv:   true,
		Links:    []string{"Podd"},
	}
	a, err := b.Build(g, dc, []*resolve.Result{evio, missing}, podd)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := g.Lookup(target.ID); !ok {
		t.Fatal("vendored sub-build was not merged")
	}
	wantTail := []string{
		"-L" + podd.Dir, "-L" + stage, "-L/opt/root/lib",
		"-lPodd", "-levio", "-lCore",
	}
	argv := a.Library.Argv
	if diff := cmp.Diff(wantTail, argv[len(argv)-len(wantTail):]); diff != "" {
		t.Errorf("link tail mismatch (-want +got):\n%s", diff)
	}
	if !slices.Contains(a.Dict.Argv, "-I"+stage) {
		t.Errorf("dependency include dir missing from dictionary flags: %v", a.Dict.Argv)
	}

	r := &toolRunner{}
	e := &engine.Executor{Runner: r, Jobs: 4}
	if err := e.Run(context.Background(), g, engine.PhaseBuild); err != nil {
		t.Fatal(err)
	}
	order := r.outputOrder()
	at := func(name string) int {
		i := slices.Index(order, name)
		if i < 0 {
			t.Fatalf("%s was not built: %v", name, order)
		}
		return i
	}
	if at("libevio.so") > at("libdc.so") {
		t.Errorf("libdc linked before the vendored libevio: %v", order)
	}
	if at("libPodd.so.1.7.0") > at("libdc.so") {
		t.Errorf("libdc linked before libPodd: %v", order)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		mod  Module
	}{
		{"no name", Module{Sources: []string{"A"}}},
		{"no sources", Module{Name: "a"}},
		{"explicit linkdef", Module{Name: "a", Sources: []string{"A"}, DictHeaders: []string{"a_LinkDef.h"}}},
	}
	for _, tt := range tests {
		if err := tt.mod.Validate(); err == nil {
			t.Errorf("%s: Validate succeeded", tt.name)
		}
	}
}

func TestBuildGeneratedHeader(t *testing.T) {
	cfg := testConfig(t, "linux")
	writeTree(t, filepath.Join(cfg.SourceDir, "Podd"), "THaEvent.cxx", "THaEvent.h", "Podd_LinkDef.h")

	header := filepath.Join(cfg.BuildDir, "Podd", "ha_compiledata.h")
	g := engine.New()
	var mu sync.Mutex
	var compiledBefore bool
	gen := g.Command("gen", "", nil, []string{header}, func(context.Context, engine.Runner) error {
		mu.Lock()
		defer mu.Unlock()
		matches, _ := filepath.Glob(filepath.Join(cfg.BuildDir, "Podd", "*.o"))
		compiledBefore = len(matches) > 0
		return os.WriteFile(header, []byte("#define X 1\n"), 0o644)
	})
	mod := &Module{Name: "Podd", Sources: []string{"THaEvent"}, ExtraHeaders: []string{header}}
	if _, err := New(cfg, nil, nil).Build(g, mod, nil); err != nil {
		t.Fatal(err)
	}
	if _, ok := g.Lookup(gen.ID); !ok {
		t.Fatal("generator node lost")
	}
	e := &engine.Executor{Runner: &toolRunner{}, Jobs: 4}
	if err := e.Run(context.Background(), g, engine.PhaseInstall); err != nil {
		t.Fatal(err)
	}
	if compiledBefore {
		t.Error("objects compiled before the generated header was written")
	}
	if _, err := os.Stat(filepath.Join(cfg.IncludeDir(), "ha_compiledata.h")); err != nil {
		t.Errorf("generated header not installed: %v", err)
	}
}
