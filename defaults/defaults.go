// Package defaults bundles the built-in CVU view definitions shipped
// with the application. They form the lowest cascade layer; users
// override them with stored definitions.
package defaults

import (
	"embed"
	"io/fs"
	"sort"
)

//go:embed *.cvu
var files embed.FS

// Files returns the bundled CVU sources keyed by filename, in stable
// order for deterministic parse diagnostics.
func Files() ([]string, map[string]string, error) {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return nil, nil, err
	}
	names := make([]string, 0, len(entries))
	srcs := make(map[string]string, len(entries))
	for _, e := range entries {
		data, err := files.ReadFile(e.Name())
		if err != nil {
			return nil, nil, err
		}
		names = append(names, e.Name())
		srcs[e.Name()] = string(data)
	}
	sort.Strings(names)
	return names, srcs, nil
}
