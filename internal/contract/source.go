package contract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Source loads raw contracts.
type Source interface {
	Get(ctx context.Context, key Key) (*Contract, error)
	List(ctx context.Context, eventType string) ([]*Contract, error)
}

// FileSource reads {root}/{event_type}/v{N}.yaml|.proto. YAML wins when both exist.
type FileSource struct {
	root string
}

func NewFileSource(root string) *FileSource {
	return &FileSource{root: root}
}

func (s *FileSource) Get(ctx context.Context, key Key) (*Contract, error) {
	dir := filepath.Join(s.root, key.EventType)
	yamlPath := filepath.Join(dir, fmt.Sprintf("v%d.yaml", key.Version))
	protoPath := filepath.Join(dir, fmt.Sprintf("v%d.proto", key.Version))

	yamlExists, protoExists := fileExists(yamlPath), fileExists(protoPath)
	if yamlExists && protoExists {
		slog.Warn("[Contracts] Both .yaml and .proto exist, using .yaml",
			"event_type", key.EventType,
			"version", key.Version)
	}

	switch {
	case yamlExists:
		return s.read(key, yamlPath, FormatYAML)
	case protoExists:
		return s.read(key, protoPath, FormatProtobuf)
	}
	return nil, ErrNotFound
}

func (s *FileSource) read(key Key, path string, format Format) (*Contract, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read contract %s: %w", path, err)
	}
	return &Contract{
		EventType:   key.EventType,
		Version:     key.Version,
		Format:      format,
		Definition:  content,
		Fingerprint: fingerprint(content),
	}, nil
}

// List returns every version of eventType, or of all event types when empty.
func (s *FileSource) List(ctx context.Context, eventType string) ([]*Contract, error) {
	types := []string{eventType}
	if eventType == "" {
		entries, err := os.ReadDir(s.root)
		if os.IsNotExist(err) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("list contracts: %w", err)
		}
		types = types[:0]
		for _, e := range entries {
			if e.IsDir() {
				types = append(types, e.Name())
			}
		}
	}

	var out []*Contract
	for _, typ := range types {
		versions, err := s.versions(typ)
		if err != nil {
			return nil, err
		}
		for _, v := range versions {
			c, err := s.Get(ctx, Key{EventType: typ, Version: v})
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *FileSource) versions(eventType string) ([]int, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, eventType))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list contracts for %s: %w", eventType, err)
	}

	seen := make(map[int]bool)
	for _, e := range entries {
		name := e.Name()
		ext := filepath.Ext(name)
		if e.IsDir() || (ext != ".yaml" && ext != ".proto") || !strings.HasPrefix(name, "v") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "v"), ext))
		if err != nil || n < 1 {
			continue
		}
		seen[n] = true
	}

	versions := make([]int, 0, len(seen))
	for v := range seen {
		versions = append(versions, v)
	}
	sort.Ints(versions)
	return versions, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
