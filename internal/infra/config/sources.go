package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SourceSeed описывает источник из стартового списка.
type SourceSeed struct {
	Name     string `yaml:"name"`
	Link     string `yaml:"link"`
	Type     string `yaml:"type"`
	Verified bool   `yaml:"verified"`
}

type sourcesFile struct {
	Sources []SourceSeed `yaml:"sources"`
}

// LoadSourceSeeds читает YAML со списком источников. Пустой путь означает отсутствие списка.
func LoadSourceSeeds(path string) ([]SourceSeed, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение списка источников: %w", err)
	}
	return ParseSourceSeeds(raw)
}

// ParseSourceSeeds разбирает содержимое файла источников.
func ParseSourceSeeds(raw []byte) ([]SourceSeed, error) {
	var file sourcesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("разбор списка источников: %w", err)
	}
	for i, s := range file.Sources {
		if s.Link == "" {
			return nil, fmt.Errorf("источник #%d без ссылки", i+1)
		}
		if s.Type == "" {
			return nil, fmt.Errorf("источник %s без типа", s.Link)
		}
	}
	return file.Sources, nil
}
