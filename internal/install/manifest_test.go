package install

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jeffersonlab/poddbuild/internal/engine"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestManifestAdd(t *testing.T) {
	root := t.TempDir()
	m := NewManifest(root, "1.7.0")
	if err := m.Add(Record{Path: filepath.Join(root, "lib", "libPodd.so"), Chain: true, Uninstall: true}); err != nil {
		t.Fatal(err)
	}
	if err := m.Add(Record{Path: "include/THaEvent.h", Module: "Podd", Uninstall: true}); err != nil {
		t.Fatal(err)
	}
	// Re-adding a path replaces the record.
	if err := m.Add(Record{Path: filepath.Join(root, "lib", "libPodd.so"), Chain: true, Symlink: true, Uninstall: true}); err != nil {
		t.Fatal(err)
	}
	if err := m.Add(Record{Path: filepath.Join(filepath.Dir(root), "elsewhere")}); err == nil {
		t.Error("Add accepted a path outside the root")
	}
	want := []Record{
		{Path: "lib/libPodd.so", Chain: true, Symlink: true, Uninstall: true},
		{Path: "include/THaEvent.h", Module: "Podd", Uninstall: true},
	}
	if diff := cmp.Diff(want, m.Records); diff != "" {
		t.Errorf("Records mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveMergesAndLoads(t *testing.T) {
	root := t.TempDir()
	first := NewManifest(root, "1.7.0")
	first.Add(Record{Path: "lib/libPodd.so.1.7.0", Uninstall: true})
	first.Add(Record{Path: "bin/analyzer", Uninstall: true})
	if err := first.Save(); err != nil {
		t.Fatal(err)
	}
	second := NewManifest(root, "1.7.1")
	second.Add(Record{Path: "lib/libPodd.so.1.7.1", Uninstall: true})
	second.Add(Record{Path: "bin/analyzer", Uninstall: true})
	if err := second.Save(); err != nil {
		t.Fatal(err)
	}

	got, err := Load(root)
	if err != nil {
		t.Fatal(err)
	}
	want := []Record{
		{Path: "bin/analyzer", Uninstall: true},
		{Path: "lib/libPodd.so.1.7.0", Uninstall: true},
		{Path: "lib/libPodd.so.1.7.1", Uninstall: true},
	}
	if diff := cmp.Diff(want, got.Records); diff != "" {
		t.Errorf("Records mismatch (-want +got):\n%s", diff)
	}
	if got.Version != "1.7.1" || got.Root != root {
		t.Errorf("Version/Root = %q/%q", got.Version, got.Root)
	}
}

func TestLoadInvalid(t *testing.T) {
	root := t.TempDir()
	touch(t, ManifestPath(root))
	if err := os.WriteFile(ManifestPath(root), []byte("invalid json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(root); err == nil {
		t.Fatal("Load accepted invalid json")
	}
}

func TestObserve(t *testing.T) {
	root := t.TempDir()
	m := NewManifest(root, "")
	g := engine.New()
	n := g.Install(filepath.Join(root, "bin", "analyzer"), "analyzer")
	n.Meta = Record{Path: n.Output(), Uninstall: true}
	m.Observe(n)
	m.Observe(g.Command("x", "", nil, nil, nil))
	if diff := cmp.Diff([]Record{{Path: "bin/analyzer", Uninstall: true}}, m.Records); diff != "" {
		t.Errorf("Records mismatch (-want +got):\n%s", diff)
	}
}

func TestObserveOutsideRoot(t *testing.T) {
	root := t.TempDir()
	core, logs := observer.New(zapcore.WarnLevel)
	m := NewManifest(root, "")
	m.Logger = zap.New(core)
	g := engine.New()
	outside := filepath.Join(t.TempDir(), "libPodd.so")
	n := g.Install(outside, "libPodd.so")
	n.Meta = Record{Path: outside, Uninstall: true}
	m.Observe(n)
	if len(m.Records) != 0 {
		t.Errorf("Records = %v, want none", m.Records)
	}
	if got := logs.FilterMessage("not recorded for uninstall").Len(); got != 1 {
		t.Errorf("warnings = %v, want one", logs.All())
	}
}

func TestUninstall(t *testing.T) {
	root := t.TempDir()
	files := []string{
		"lib/libPodd.so.1.7.0",
		"include/THaEvent.h",
		"src/Podd/THaEvent.cxx",
		"bin/analyzer",
	}
	m := NewManifest(root, "1.7.0")
	for _, f := range files {
		touch(t, filepath.Join(root, f))
		m.Add(Record{Path: f, Uninstall: true})
	}
	if err := os.Symlink("libPodd.so.1.7.0", filepath.Join(root, "lib", "libPodd.so.1.7")); err != nil {
		t.Fatal(err)
	}
	m.Add(Record{Path: "lib/libPodd.so.1.7", Chain: true, Symlink: true, Uninstall: true})
	// Not selected for removal, and a foreign file in the same tree.
	touch(t, filepath.Join(root, "lib", "keep.so"))
	m.Add(Record{Path: "lib/keep.so"})
	touch(t, filepath.Join(root, "include", "user.h"))
	// Recorded but already gone.
	m.Add(Record{Path: "lib/gone.so", Uninstall: true})
	if err := m.Save(); err != nil {
		t.Fatal(err)
	}

	removed, err := Uninstall(root, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 5 {
		t.Errorf("removed %d files, want 5: %v", len(removed), removed)
	}

	var left []string
	filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err == nil && path != root {
			rel, _ := filepath.Rel(root, path)
			left = append(left, filepath.ToSlash(rel))
		}
		return nil
	})
	want := []string{"include", "include/user.h", "lib", "lib/keep.so"}
	if diff := cmp.Diff(want, left, cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Errorf("remaining tree mismatch (-want +got):\n%s", diff)
	}
}

func TestUninstallWithoutManifest(t *testing.T) {
	removed, err := Uninstall(t.TempDir(), nil)
	if err != nil || len(removed) != 0 {
		t.Errorf("Uninstall = %v, %v; want nothing", removed, err)
	}
}
