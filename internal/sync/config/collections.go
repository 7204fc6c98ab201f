package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"firestore-sync/internal/shared/errors"
	"firestore-sync/internal/shared/logger"
	"firestore-sync/internal/sync/domain/model"
)

// collectionsFile is the object form of a config file; a bare list is also
// accepted
type collectionsFile struct {
	Collections []json.RawMessage `json:"collections"`
}

type yamlCollectionsFile struct {
	Collections []yaml.Node `yaml:"collections"`
}

// LoadCollectionConfigs reads collection configs from a JSON or YAML file,
// chosen by extension. Entries that fail to decode or validate are logged and
// skipped; their errors are returned alongside the valid configs.
func LoadCollectionConfigs(path string, log logger.Logger) ([]model.CollectionConfig, []error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read collection config file %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseCollectionConfigsYAML(data, log)
	default:
		return ParseCollectionConfigsJSON(data, log)
	}
}

// ParseCollectionConfigsJSON decodes a JSON list or {"collections": [...]}
func ParseCollectionConfigsJSON(data []byte, log logger.Logger) ([]model.CollectionConfig, []error, error) {
	var entries []json.RawMessage
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var file collectionsFile
		if err := json.Unmarshal(trimmed, &file); err != nil {
			return nil, nil, fmt.Errorf("failed to parse collection config file: %w", err)
		}
		entries = file.Collections
	} else if err := json.Unmarshal(trimmed, &entries); err != nil {
		return nil, nil, fmt.Errorf("failed to parse collection config file: %w", err)
	}

	decoders := make([]func(*model.CollectionConfig) error, len(entries))
	for i, raw := range entries {
		raw := raw
		decoders[i] = func(cfg *model.CollectionConfig) error { return json.Unmarshal(raw, cfg) }
	}
	configs, skipped := collect(decoders, log)
	return configs, skipped, nil
}

// ParseCollectionConfigsYAML decodes a YAML list or a collections: mapping
func ParseCollectionConfigsYAML(data []byte, log logger.Logger) ([]model.CollectionConfig, []error, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, nil, fmt.Errorf("failed to parse collection config file: %w", err)
	}

	var entries []yaml.Node
	if len(root.Content) > 0 && root.Content[0].Kind == yaml.MappingNode {
		var file yamlCollectionsFile
		if err := root.Content[0].Decode(&file); err != nil {
			return nil, nil, fmt.Errorf("failed to parse collection config file: %w", err)
		}
		entries = file.Collections
	} else if len(root.Content) > 0 {
		if err := root.Content[0].Decode(&entries); err != nil {
			return nil, nil, fmt.Errorf("failed to parse collection config file: %w", err)
		}
	}

	decoders := make([]func(*model.CollectionConfig) error, len(entries))
	for i := range entries {
		node := entries[i]
		decoders[i] = func(cfg *model.CollectionConfig) error { return node.Decode(cfg) }
	}
	configs, skipped := collect(decoders, log)
	return configs, skipped, nil
}

func collect(decoders []func(*model.CollectionConfig) error, log logger.Logger) ([]model.CollectionConfig, []error) {
	configs := make([]model.CollectionConfig, 0, len(decoders))
	var skipped []error
	seen := make(map[string]bool)

	for i, decode := range decoders {
		var cfg model.CollectionConfig
		if err := decode(&cfg); err != nil {
			appErr := errors.NewConfigValidationError(fmt.Sprintf("#%d", i), "malformed collection config").WithCause(err)
			skipped = append(skipped, appErr)
			log.WithError(appErr).WithFields(map[string]interface{}{"index": i}).Error("Skipping collection config")
			continue
		}

		cfg.ApplyDefaults()
		err := cfg.Validate()
		if err == nil && seen[cfg.ID] {
			err = errors.NewConfigValidationError(cfg.ID, "duplicate collection config id")
		}
		if err != nil {
			skipped = append(skipped, err)
			log.WithError(err).WithFields(map[string]interface{}{"config_id": cfg.ID, "index": i}).Error("Skipping collection config")
			continue
		}

		seen[cfg.ID] = true
		configs = append(configs, cfg)
	}
	return configs, skipped
}
