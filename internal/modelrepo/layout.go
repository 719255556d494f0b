// Package modelrepo maps models and versions onto a directory tree:
//
//	<root>/<model>/config.yaml
//	<root>/<model>/<version>/handler.yaml
//	<root>/<model>/<version>/weights/...
package modelrepo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"llmserve/internal/common/fsutil"
	"llmserve/internal/modelconfig"
)

const (
	ConfigFile    = "config.yaml"
	HandlerFile   = "handler.yaml"
	WeightsSubdir = "weights"
)

// configNames are the accepted model config files, in lookup order.
var configNames = []string{"config.yaml", "config.yml", "config.json", "config.toml"}

// Layout locates one model version inside a repository.
type Layout struct {
	Root    string
	Model   string
	Version int64
}

// NewLayout expands a leading '~' in root and validates the model name.
func NewLayout(root, model string, version int64) (Layout, error) {
	r, err := fsutil.ExpandHome(root)
	if err != nil {
		return Layout{}, err
	}
	if err := ValidateModelName(model); err != nil {
		return Layout{}, err
	}
	if version < 1 {
		return Layout{}, fmt.Errorf("version %d must be positive", version)
	}
	return Layout{Root: r, Model: model, Version: version}, nil
}

// ValidateModelName rejects names that cannot be a single directory.
func ValidateModelName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return errors.New("model name is empty")
	case name == "." || name == "..":
		return fmt.Errorf("invalid model name %q", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("model name %q must not contain path separators", name)
	}
	return nil
}

func (l Layout) ModelDir() string   { return filepath.Join(l.Root, l.Model) }
func (l Layout) ConfigPath() string { return filepath.Join(l.ModelDir(), ConfigFile) }
func (l Layout) PBTXTPath() string  { return filepath.Join(l.ModelDir(), "config.pbtxt") }
func (l Layout) VersionDir() string {
	return filepath.Join(l.ModelDir(), strconv.FormatInt(l.Version, 10))
}
func (l Layout) HandlerPath() string { return filepath.Join(l.VersionDir(), HandlerFile) }
func (l Layout) WeightsDir() string  { return filepath.Join(l.VersionDir(), WeightsSubdir) }

// Create makes the model, version and weights directories.
func (l Layout) Create() error {
	if err := os.MkdirAll(l.WeightsDir(), 0o755); err != nil {
		return fmt.Errorf("create layout %s: %w", l.VersionDir(), err)
	}
	return nil
}

// FindConfig returns the first model config file present in modelDir.
func FindConfig(modelDir string) (string, error) {
	for _, n := range configNames {
		p := filepath.Join(modelDir, n)
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("no config file in %s (tried %s)", modelDir, strings.Join(configNames, ", "))
}

// Models lists the directories of root that hold a model config, sorted.
func Models(root string) ([]string, error) {
	r, err := fsutil.ExpandHome(root)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(r)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if _, err := FindConfig(filepath.Join(r, e.Name())); err != nil {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

// Versions lists the numeric version directories of modelDir, ascending.
// Non-numeric entries are ignored.
func Versions(modelDir string) ([]int64, error) {
	entries, err := os.ReadDir(modelDir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var out []int64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		v, err := strconv.ParseInt(e.Name(), 10, 64)
		if err != nil || v < 1 {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Select applies policy to the available versions (ascending) and returns
// the served versions, ascending. A specific policy naming a missing
// version is an error.
func Select(policy modelconfig.VersionPolicy, available []int64) ([]int64, error) {
	switch {
	case policy.All != nil:
		return append([]int64(nil), available...), nil
	case policy.Specific != nil:
		have := make(map[int64]bool, len(available))
		for _, v := range available {
			have[v] = true
		}
		var out []int64
		for _, v := range policy.Specific.Versions {
			if !have[v] {
				return nil, fmt.Errorf("version %d not found on disk", v)
			}
			out = append(out, v)
		}
		sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
		return out, nil
	default:
		n := 1
		if policy.Latest != nil && policy.Latest.NumVersions > 0 {
			n = policy.Latest.NumVersions
		}
		if n > len(available) {
			n = len(available)
		}
		return append([]int64(nil), available[len(available)-n:]...), nil
	}
}
