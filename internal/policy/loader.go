package policy

import (
	_ "embed"
	"os"
	"path/filepath"
)

//go:embed default.rego
var defaultModule string

// LoadRegoFiles reads all .rego files from the given directory.
func LoadRegoFiles(dir string) (map[string]string, error) {
	modules := make(map[string]string)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".rego" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		modules[entry.Name()] = string(data)
	}
	return modules, nil
}

// DefaultModules returns the built-in alert policy.
func DefaultModules() map[string]string {
	return map[string]string{"default.rego": defaultModule}
}
