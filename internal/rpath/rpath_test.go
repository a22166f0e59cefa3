package rpath

import (
	"context"
	"errors"
	"os/exec"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jeffersonlab/poddbuild/internal/engine"
	"github.com/jeffersonlab/poddbuild/pkgs/platform"
)

type recorder struct {
	calls  [][]string
	otool  string
	failOn string
}

func (r *recorder) Run(_ context.Context, _ string, argv []string) error {
	r.calls = append(r.calls, slices.Clone(argv))
	if r.failOn != "" && slices.Contains(argv, r.failOn) {
		return errors.New(argv[0] + ": exit status 1")
	}
	return nil
}

func (r *recorder) Output(_ context.Context, _ string, argv []string) ([]byte, error) {
	r.calls = append(r.calls, slices.Clone(argv))
	return []byte(r.otool), nil
}

func (r *recorder) count(tool, flag string) int {
	n := 0
	for _, c := range r.calls {
		if c[0] == tool && slices.Contains(c, flag) {
			n++
		}
	}
	return n
}

func tools(names ...string) func(string) (string, error) {
	return func(file string) (string, error) {
		if slices.Contains(names, file) {
			return "/usr/bin/" + file, nil
		}
		return "", exec.ErrNotFound
	}
}

func newPatcher(t *testing.T, goos string, have ...string) (*Patcher, *observer.ObservedLogs) {
	t.Helper()
	p, err := platform.For(goos)
	if err != nil {
		t.Fatal(err)
	}
	core, logs := observer.New(zapcore.WarnLevel)
	return &Patcher{Platform: p, Logger: zap.New(core), LookPath: tools(have...)}, logs
}

func TestLinuxPatchelf(t *testing.T) {
	tests := []struct {
		paths []string
		want  []string
	}{
		{[]string{"$ORIGIN/../lib", "/opt/root/lib"}, []string{"patchelf", "--force-rpath", "--set-rpath", "$ORIGIN/../lib:/opt/root/lib", "lib/libPodd.so.1.7.0"}},
		{nil, []string{"patchelf", "--remove-rpath", "lib/libPodd.so.1.7.0"}},
		{[]string{""}, []string{"patchelf", "--remove-rpath", "lib/libPodd.so.1.7.0"}},
	}
	for _, tt := range tests {
		p, logs := newPatcher(t, "linux", "patchelf", "chrpath")
		r := &recorder{}
		if err := p.Patch(context.Background(), r, "lib/libPodd.so.1.7.0", tt.paths); err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([][]string{tt.want}, r.calls); diff != "" {
			t.Errorf("Patch(%q) calls mismatch (-want +got):\n%s", tt.paths, diff)
		}
		if logs.Len() != 0 {
			t.Errorf("unexpected warnings: %v", logs.All())
		}
	}
}

func TestLinuxChrpathCannotSet(t *testing.T) {
	p, logs := newPatcher(t, "linux", "chrpath")
	r := &recorder{}
	if err := p.Patch(context.Background(), r, "lib/libPodd.so", []string{"$ORIGIN"}); err != nil {
		t.Fatalf("Patch returned %v, want a warning only", err)
	}
	if len(r.calls) != 0 {
		t.Errorf("ran %v, want no tool call", r.calls)
	}
	if logs.FilterMessageSnippet("chrpath").Len() != 1 {
		t.Errorf("warnings = %v, want one chrpath warning", logs.All())
	}
}

func TestLinuxChrpathClears(t *testing.T) {
	p, logs := newPatcher(t, "linux", "chrpath")
	r := &recorder{}
	if err := p.Patch(context.Background(), r, "lib/libPodd.so", nil); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([][]string{{"chrpath", "-d", "lib/libPodd.so"}}, r.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
	if logs.Len() != 0 {
		t.Errorf("unexpected warnings: %v", logs.All())
	}
}

func TestLinuxNoTool(t *testing.T) {
	p, logs := newPatcher(t, "linux")
	r := &recorder{}
	if err := p.Patch(context.Background(), r, "lib/libPodd.so", []string{"$ORIGIN"}); err != nil {
		t.Fatal(err)
	}
	if len(r.calls) != 0 || logs.Len() != 1 {
		t.Errorf("calls = %v, warnings = %d; want none and 1", r.calls, logs.Len())
	}
}

const otoolOutput = `lib/libPodd.1.7.0.dylib:
Load command 12
          cmd LC_RPATH
      cmdsize 32
         path /opt/root/lib (offset 12)
Load command 13
          cmd LC_LOAD_DYLIB
      cmdsize 56
         name @rpath/libCore.so (offset 24)
Load command 14
          cmd LC_RPATH
      cmdsize 40
         path /Users/ole/My Libs (offset 12)
`

func TestParseLoadCommands(t *testing.T) {
	want := []string{"/opt/root/lib", "/Users/ole/My Libs"}
	if diff := cmp.Diff(want, ParseLoadCommands([]byte(otoolOutput))); diff != "" {
		t.Errorf("ParseLoadCommands mismatch (-want +got):\n%s", diff)
	}
}

func TestDarwinEmptyPathsOnlyClears(t *testing.T) {
	p, _ := newPatcher(t, "darwin", "install_name_tool", "otool")
	r := &recorder{otool: otoolOutput}
	if err := p.Patch(context.Background(), r, "lib/libPodd.1.7.0.dylib", nil); err != nil {
		t.Fatal(err)
	}
	if n := r.count("otool", "-l"); n != 1 {
		t.Errorf("otool ran %d times, want 1", n)
	}
	if n := r.count("install_name_tool", "-delete_rpath"); n != 2 {
		t.Errorf("delete_rpath ran %d times, want 2", n)
	}
	if n := r.count("install_name_tool", "-add_rpath"); n != 0 {
		t.Errorf("add_rpath ran %d times, want 0", n)
	}
}

func TestDarwinAddsEachPath(t *testing.T) {
	p, _ := newPatcher(t, "darwin", "install_name_tool", "otool")
	r := &recorder{failOn: "/bad"}
	err := p.Patch(context.Background(), r, "bin/analyzer", []string{"@loader_path/../lib", "/bad", "", "/opt/root/lib"})
	if err == nil || !strings.Contains(err.Error(), "/bad") {
		t.Fatalf("Patch error = %v, want the failing entry reported", err)
	}
	want := [][]string{
		{"otool", "-l", "bin/analyzer"},
		{"install_name_tool", "-add_rpath", "@loader_path/../lib", "bin/analyzer"},
		{"install_name_tool", "-add_rpath", "/bad", "bin/analyzer"},
		{"install_name_tool", "-add_rpath", "/opt/root/lib", "bin/analyzer"},
	}
	if diff := cmp.Diff(want, r.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestDarwinNoTool(t *testing.T) {
	p, logs := newPatcher(t, "darwin")
	r := &recorder{}
	if err := p.Patch(context.Background(), r, "lib/libPodd.dylib", []string{"@loader_path"}); err != nil {
		t.Fatal(err)
	}
	if len(r.calls) != 0 || logs.Len() != 1 {
		t.Errorf("calls = %v, warnings = %d; want none and 1", r.calls, logs.Len())
	}
}

func TestDeclareRunsAfterInstall(t *testing.T) {
	p, _ := newPatcher(t, "linux", "patchelf")
	g := engine.New()
	dst := t.TempDir() + "/lib/libPodd.so"
	src := t.TempDir() + "/libPodd.so"
	inst := g.Install(dst, src)
	n := p.Declare(g, dst, []string{"$ORIGIN"})
	if n.Phase != engine.PhaseInstall {
		t.Errorf("patch phase = %v, want install", n.Phase)
	}
	if producer, ok := g.Producer(dst); !ok || producer != inst {
		t.Errorf("patch input is not produced by the install step")
	}
}

func TestToolOrderFromProfile(t *testing.T) {
	linux, err := platform.For("linux")
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name  string
		order []string
		paths []string
		want  [][]string
		warns int
	}{
		{"chrpath first removes", []string{"chrpath", "patchelf"}, nil, [][]string{{"chrpath", "-d", "lib/libPodd.so"}}, 0},
		{"chrpath first falls through to set", []string{"chrpath", "patchelf"}, []string{"$ORIGIN"},
			[][]string{{"patchelf", "--force-rpath", "--set-rpath", "$ORIGIN", "lib/libPodd.so"}}, 0},
		{"unknown tool skipped", []string{"elfedit", "chrpath"}, nil, [][]string{{"chrpath", "-d", "lib/libPodd.so"}}, 0},
		{"no tools listed", nil, nil, nil, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prof := *linux
			prof.PatchTools = tt.order
			core, logs := observer.New(zapcore.WarnLevel)
			p := &Patcher{Platform: &prof, Logger: zap.New(core), LookPath: tools("patchelf", "chrpath", "elfedit")}
			r := &recorder{}
			if err := p.Patch(context.Background(), r, "lib/libPodd.so", tt.paths); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, r.calls); diff != "" {
				t.Errorf("calls mismatch (-want +got):\n%s", diff)
			}
			if logs.Len() != tt.warns {
				t.Errorf("warnings = %v, want %d", logs.All(), tt.warns)
			}
		})
	}
}
