package build

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/jeffersonlab/poddbuild/internal/config"
	"github.com/jeffersonlab/poddbuild/pkgs/platform"
)

// mockToolchain stands in for the compiler, linker and dictionary
// generator: it records each command and writes the files it names as
// outputs. Output answers git and compiler banner queries.
type mockToolchain struct {
	mu  sync.Mutex
	ran [][]string
}

func (m *mockToolchain) Run(_ context.Context, _ string, argv []string) error {
	m.mu.Lock()
	m.ran = append(m.ran, slices.Clone(argv))
	m.mu.Unlock()
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
		if err := os.WriteFile(out, []byte(argv[0]+"\n"), 0o755); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockToolchain) Output(_ context.Context, _ string, argv []string) ([]byte, error) {
	switch {
	case argv[0] == "git" && argv[1] == "rev-parse":
		return []byte("0123456789abcdef\n"), nil
	case len(argv) == 2 && argv[1] == "--version":
		return []byte("g++ (GCC) 11.4.1 20231218 (Red Hat 11.4.1-3)\n"), nil
	}
	return nil, os.ErrNotExist
}

// linked returns the recorded command whose output base name is out.
func (m *mockToolchain) linked(out string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, argv := range m.ran {
		if i := slices.Index(argv, "-o"); i >= 0 && filepath.Base(argv[i+1]) == out {
			return argv
		}
	}
	return nil
}

// mockFetcher serves a gzipped tarball laid out like a CODA library
// release. It carries the headers of both evio and et.
type mockFetcher struct {
	data  []byte
	calls atomic.Int32
}

func newMockFetcher(t *testing.T) *mockFetcher {
	t.Helper()
	files := map[string]string{
		"evio-5.3/README":                  "evio",
		"evio-5.3/src/libsrc/evio.c":       "int evOpen(void) { return 0; }\n",
		"evio-5.3/src/libsrc/evio.h":       "int evOpen(void);\n",
		"evio-5.3/src/libsrc/evioswap.c":   "void swap(void) {}\n",
		"evio-5.3/src/libsrc/et.h":         "int et_open(void);\n",
		"evio-5.3/src/libsrc/msinttypes.h": "typedef int int32_t;\n",
		"evio-5.3/src/examples/demo.c":     "int main(void) { return 0; }\n",
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(zw)
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		body := files[name]
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}); err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(tw, body); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return &mockFetcher{data: buf.Bytes()}
}

func (f *mockFetcher) Fetch(_ context.Context, _ string, w io.Writer) (int64, error) {
	f.calls.Add(1)
	n, err := w.Write(f.data)
	return int64(n), err
}

// testConfig returns a Linux configuration rooted in a temporary
// directory with ROOT 6 settings.
func testConfig(t *testing.T, opts config.Options) config.BuildConfig {
	t.Helper()
	p, err := platform.For("linux")
	if err != nil {
		t.Fatal(err)
	}
	root := t.TempDir()
	host := platform.Host{System: "Linux", Release: "5.14.0", Machine: "x86_64", Node: "ifarm"}
	cfg := config.New(p, host, config.Env{"LOGNAME": "ole"}, opts, config.MustParseVersion("1.7.0"))
	cfg = cfg.WithDirs(filepath.Join(root, "src"), filepath.Join(root, "build"), filepath.Join(root, "install"))
	return cfg.WithROOT(config.ROOT{
		Version: "6.30/04",
		Major:   6,
		BinDir:  "/opt/root/bin",
		CXX:     "g++",
		CFlags:  []string{"-std=c++17", "-I/opt/root/include"},
		Libs:    []string{"-L/opt/root/lib", "-lCore", "-lRIO"},
	})
}

// writeTree creates empty-ish files below root.
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
