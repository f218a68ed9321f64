package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SymbolList is an external list of ticker symbols, referenced from the main
// configuration through symbols_file.
type SymbolList struct {
	Symbols []string `yaml:"symbols"`
}

// LoadSymbolList loads a symbol list from the given path.
func LoadSymbolList(path string) (*SymbolList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read symbols file: %w", err)
	}
	var list SymbolList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse symbols file: %w", err)
	}
	return &list, nil
}
