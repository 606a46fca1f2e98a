// Package cmd implements the toggled sub-commands.
package cmd

import (
	"context"
	"fmt"
	"os"

	"grimm.is/toggled/internal/config"
	"grimm.is/toggled/internal/coordinator"
	"grimm.is/toggled/internal/i18n"
	"grimm.is/toggled/internal/logging"
	"grimm.is/toggled/internal/routeros"
	"grimm.is/toggled/internal/simdevice"
	"grimm.is/toggled/internal/toggle"
)

// Printer writes localized CLI output.
var Printer = i18n.NewCLIPrinter()

// Device is a router the daemon can read and write: the RouterOS REST
// API or the simulator.
type Device interface {
	coordinator.Source
	toggle.Writer
	Identity(ctx context.Context) (string, error)
}

// newLogger builds the process logger from the logging block.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Config{
		Level:  level,
		Output: os.Stderr,
		JSON:   cfg.Logging.JSON,
	}), nil
}

// openDevice connects to the configured router or loads the simulator
// fixture. specs are the collections the enabled entity types read.
func openDevice(cfg *config.Config, specs []toggle.CollectionSpec, logger *logging.Logger) (Device, string, error) {
	if cfg.Simulator != nil {
		dev, err := simdevice.Load(cfg.Simulator.Fixture, specs)
		if err != nil {
			return nil, "", fmt.Errorf("load simulator fixture: %w", err)
		}
		return dev, "simulator " + cfg.Simulator.Fixture, nil
	}

	r := cfg.Router
	opts := []routeros.Option{
		routeros.WithTimeout(cfg.RouterTimeout()),
		routeros.WithCollections(specs),
		routeros.WithLogger(logger.WithComponent("routeros")),
	}
	if r.InsecureTLS {
		opts = append(opts, routeros.WithInsecureTLS(true))
	}
	if r.Fingerprint != "" {
		opts = append(opts, routeros.WithFingerprint(r.Fingerprint))
	}
	return routeros.New(r.Address, r.Username, r.Password, opts...), "router " + r.Address, nil
}

// entityTypes returns the configured entity types, or all built-ins.
func entityTypes(cfg *config.Config) []string {
	if len(cfg.Entities) > 0 {
		return cfg.Entities
	}
	return toggle.TypeNames()
}
