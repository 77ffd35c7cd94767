package directory

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// RawManifest is an unparsed manifest and where it came from.
type RawManifest struct {
	Origin string
	Data   []byte
}

// ManifestSource supplies manifests to the directory.
type ManifestSource interface {
	Load(ctx context.Context) ([]RawManifest, error)
}

// DirSource reads *.yaml, *.yml and *.json manifests from a directory tree.
type DirSource struct {
	Root string
}

// Load walks Root in lexical order. A missing root yields no manifests.
func (s DirSource) Load(ctx context.Context) ([]RawManifest, error) {
	if _, err := os.Stat(s.Root); os.IsNotExist(err) {
		return nil, nil
	}

	var out []RawManifest
	err := filepath.WalkDir(s.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !isManifestFile(path) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read manifest %s: %w", path, err)
		}
		out = append(out, RawManifest{Origin: path, Data: data})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Origin < out[j].Origin })
	return out, nil
}

func isManifestFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// StaticSource serves manifests held in memory.
type StaticSource []RawManifest

func (s StaticSource) Load(context.Context) ([]RawManifest, error) { return s, nil }
