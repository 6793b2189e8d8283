package config

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/oncrpc/internal/logger"
	"github.com/marmos91/oncrpc/pkg/portmap"
	"github.com/marmos91/oncrpc/pkg/portmap/badger"
	"github.com/marmos91/oncrpc/pkg/portmap/memory"
)

// CreateRegistry creates the port mapper registry selected by cfg.
//
// Supported types:
//   - "memory": mappings live in process memory (pkg/portmap/memory)
//   - "badger": mappings persist in BadgerDB (pkg/portmap/badger)
func CreateRegistry(ctx context.Context, cfg *StoreConfig) (portmap.Registry, error) {
	switch cfg.Type {
	case "memory":
		logger.Debug("Using in-memory port mapper registry")
		return memory.New(), nil
	case "badger":
		return createBadgerRegistry(ctx, cfg.Badger)
	default:
		return nil, fmt.Errorf("unknown registry store type: %q", cfg.Type)
	}
}

// createBadgerRegistry creates a BadgerDB-backed registry.
func createBadgerRegistry(ctx context.Context, options map[string]any) (portmap.Registry, error) {
	storeCfg, err := decodeBadgerConfig(options)
	if err != nil {
		return nil, err
	}
	if err := validate.Struct(storeCfg); err != nil {
		return nil, fmt.Errorf("badger registry store: %w", formatValidationError(err))
	}

	reg, err := badger.New(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create badger registry store: %w", err)
	}
	logger.Debug("Using BadgerDB port mapper registry at %s", storeCfg.DBPath)
	return reg, nil
}

// decodeBadgerConfig decodes the badger section of the store config.
func decodeBadgerConfig(options map[string]any) (badger.Config, error) {
	var storeCfg badger.Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &storeCfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return storeCfg, err
	}
	if err := decoder.Decode(options); err != nil {
		return storeCfg, fmt.Errorf("failed to decode badger registry store config: %w", err)
	}
	return storeCfg, nil
}
