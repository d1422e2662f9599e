// Package store locates installed extension scripts on disk.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bytedance/sonic"
)

// InstalledScript is a script ready to be handed to the host. ID may be
// empty, in which case the host adopts the identifier the script's
// manifest declares.
type InstalledScript struct {
	ID     string
	Source string
}

// Store enumerates installed scripts.
type Store interface {
	List(ctx context.Context) ([]InstalledScript, error)
}

// Dir is a Store backed by a directory of .js files. An optional
// index.json maps file names to extension identifiers; files absent
// from the index fall back to their base name.
type Dir struct {
	path string
}

// NewDir returns a Dir rooted at path.
func NewDir(path string) *Dir {
	return &Dir{path: path}
}

// List reads every .js file under the directory, in lexical order.
func (d *Dir) List(ctx context.Context) ([]InstalledScript, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, fmt.Errorf("read scripts dir: %w", err)
	}

	index, err := d.readIndex()
	if err != nil {
		return nil, err
	}

	var scripts []InstalledScript
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".js") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		source, err := os.ReadFile(filepath.Join(d.path, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read script %s: %w", entry.Name(), err)
		}
		id, ok := index[entry.Name()]
		if !ok {
			id = strings.TrimSuffix(entry.Name(), ".js")
		}
		scripts = append(scripts, InstalledScript{ID: id, Source: string(source)})
	}

	sort.Slice(scripts, func(i, j int) bool { return scripts[i].ID < scripts[j].ID })
	return scripts, nil
}

func (d *Dir) readIndex() (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(d.path, "index.json"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	var index map[string]string
	if err := sonic.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}
	return index, nil
}
