package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ScanInputs expands paths into the list of input files. Directories are
// walked and only files with one of exts are kept; files named directly
// are kept as is. The result is sorted within each directory and free of
// duplicates.
func ScanInputs(paths []string, exts []string) ([]string, error) {
	allowed := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		allowed[strings.ToLower(ext)] = struct{}{}
	}

	var inputs []string
	seen := make(map[string]struct{})
	add := func(path string) {
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		inputs = append(inputs, path)
	}

	for _, raw := range paths {
		path := strings.TrimSpace(raw)
		if path == "" {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", path, err)
		}
		if !info.IsDir() {
			add(path)
			continue
		}

		var found []string
		err = filepath.WalkDir(path, func(p string, d os.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				return nil
			}
			if _, ok := allowed[strings.ToLower(filepath.Ext(d.Name()))]; ok {
				found = append(found, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", path, err)
		}
		sort.Strings(found)
		for _, p := range found {
			add(p)
		}
	}
	return inputs, nil
}
