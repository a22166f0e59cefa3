// Package install keeps the record of installed files used by uninstall.
package install

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeffersonlab/poddbuild/internal/engine"
)

// Install root layout:
//
//	root/
//	  .poddbuild/
//	    install.json    # manifest of installed files
//	  bin/ lib/ include/ src/
const (
	manifestDir  = ".poddbuild"
	manifestFile = "install.json"
)

// Record describes one installed file.
type Record struct {
	// Path is relative to the install root.
	Path   string `json:"path"`
	Module string `json:"module,omitempty"`
	// Chain marks members of a library symlink chain.
	Chain bool `json:"chain,omitempty"`
	// Symlink is set for links created at install time.
	Symlink bool `json:"symlink,omitempty"`
	// Uninstall selects the file for removal by uninstall.
	Uninstall bool `json:"uninstall"`
}

// Manifest is the set of files installed below Root.
type Manifest struct {
	Root        string    `json:"-"`
	Version     string    `json:"version,omitempty"`
	InstallTime time.Time `json:"install_time"`
	Records     []Record  `json:"records"`

	// Logger receives records that cannot be added; nil discards them.
	Logger *zap.Logger `json:"-"`

	mu sync.Mutex
}

// ManifestPath returns the manifest location for the install root.
func ManifestPath(root string) string {
	return filepath.Join(root, manifestDir, manifestFile)
}

// NewManifest returns an empty manifest for root.
func NewManifest(root, version string) *Manifest {
	return &Manifest{Root: root, Version: version}
}

// Add records r. Its path may be absolute or relative to the root; a
// later record for the same path replaces the earlier one.
func (m *Manifest) Add(r Record) error {
	if filepath.IsAbs(r.Path) || strings.HasPrefix(filepath.Clean(r.Path), filepath.Clean(m.Root)+string(filepath.Separator)) {
		rel, err := filepath.Rel(m.Root, r.Path)
		if err != nil {
			return err
		}
		r.Path = rel
	}
	r.Path = filepath.ToSlash(filepath.Clean(r.Path))
	if r.Path == "." || strings.HasPrefix(r.Path, "../") {
		return fmt.Errorf("%s is outside the install root %s", r.Path, m.Root)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := slices.IndexFunc(m.Records, func(old Record) bool { return old.Path == r.Path }); i >= 0 {
		m.Records[i] = r
		return nil
	}
	m.Records = append(m.Records, r)
	return nil
}

// Observe records the install metadata attached to a completed node. It
// is meant to be used as engine.Executor.OnDone.
func (m *Manifest) Observe(n *engine.Node) {
	r, ok := n.Meta.(Record)
	if !ok {
		return
	}
	if err := m.Add(r); err != nil && m.Logger != nil {
		m.Logger.Warn("not recorded for uninstall", zap.String("node", n.ID), zap.Error(err))
	}
}

// Load reads the manifest of root.
func Load(root string) (*Manifest, error) {
	data, err := os.ReadFile(ManifestPath(root))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ManifestPath(root), err)
	}
	m.Root = root
	return &m, nil
}

// Save merges m into the manifest already stored under m.Root and writes
// the result.
func (m *Manifest) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, err := Load(m.Root); err == nil {
		for _, r := range old.Records {
			if !slices.ContainsFunc(m.Records, func(n Record) bool { return n.Path == r.Path }) {
				m.Records = append(m.Records, r)
			}
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	slices.SortFunc(m.Records, func(a, b Record) int { return strings.Compare(a.Path, b.Path) })
	if m.InstallTime.IsZero() {
		m.InstallTime = time.Now()
	}

	path := ManifestPath(m.Root)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Uninstall removes the files recorded for removal in the manifest of
// root, then the manifest itself and any directories left empty. It
// returns the removed files.
func Uninstall(root string, logger *zap.Logger) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m, err := Load(root)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("nothing to uninstall", zap.String("root", root))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var removed []string
	var errs []error
	dirs := map[string]bool{}
	for _, r := range m.Records {
		if !r.Uninstall {
			continue
		}
		path := filepath.Join(root, filepath.FromSlash(r.Path))
		if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := os.Remove(path); err != nil {
			errs = append(errs, err)
			continue
		}
		logger.Debug("removed", zap.String("path", path))
		removed = append(removed, path)
		dirs[filepath.Dir(path)] = true
	}
	if len(errs) > 0 {
		return removed, errors.Join(errs...)
	}

	if err := os.Remove(ManifestPath(root)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return removed, err
	}
	dirs[filepath.Join(root, manifestDir)] = true
	pruneEmpty(root, dirs)
	return removed, nil
}

// pruneEmpty removes each directory of dirs and its parents below root
// while they are empty.
func pruneEmpty(root string, dirs map[string]bool) {
	root = filepath.Clean(root)
	list := make([]string, 0, len(dirs))
	for d := range dirs {
		list = append(list, d)
	}
	// Deepest first, so children go before their parents.
	slices.SortFunc(list, func(a, b string) int { return len(b) - len(a) })
	for _, d := range list {
		for d = filepath.Clean(d); d != root && strings.HasPrefix(d, root+string(filepath.Separator)); d = filepath.Dir(d) {
			if os.Remove(d) != nil {
				break
			}
		}
	}
}
