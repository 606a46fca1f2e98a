package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"grimm.is/toggled/internal/brand"
	"grimm.is/toggled/internal/config"
	"grimm.is/toggled/internal/logging"
	"grimm.is/toggled/internal/snapshot"
	"grimm.is/toggled/internal/toggle"
)

// RunCheck validates the configuration file. With connect set it also
// reads the device once and summarizes what would be exposed.
func RunCheck(configFile string, connect bool) error {
	if len(configFile) == 0 {
		return fmt.Errorf("usage: %s check [-connect] <config-file>", brand.BinaryName)
	}

	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	Printer.Printf("Configuration valid!\n")
	Printer.Printf("Poll interval: %s\n", cfg.Interval())
	Printer.Printf("Entity types: %v\n", entityTypes(cfg))
	if cfg.APIEnabled() {
		Printer.Printf("API: %s\n", cfg.API.Listen)
	}
	if cfg.AuditEnabled() {
		Printer.Printf("Audit: %s\n", cfg.Audit.Path)
	}

	if !connect {
		return nil
	}

	specs, err := toggle.Collections(entityTypes(cfg))
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{Level: logging.LevelWarn})
	dev, target, err := openDevice(cfg, specs, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RouterTimeout()+5*time.Second)
	defer cancel()

	identity, err := dev.Identity(ctx)
	if err != nil {
		return fmt.Errorf("connect %s: %w", target, err)
	}
	data, err := dev.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("read %s: %w", target, err)
	}

	Printer.Println()
	Printer.Printf("Connected to %s (%s)\n", identity, target)
	printDeviceSummary(data)
	return nil
}

func printDeviceSummary(data snapshot.Data) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)

	Printer.Fprintf(w, "Access:\t%v\n", data.Access)
	writable := false
	for _, a := range data.Access {
		if a == toggle.CapabilityWrite {
			writable = true
		}
	}
	if !writable {
		Printer.Fprintf(w, "Warning:\tuser lacks %q policy, toggles are read-only\n", toggle.CapabilityWrite)
	}
	Printer.Fprintln(w)
	w.Flush()

	names := make([]string, 0, len(data.Collections))
	for name := range data.Collections {
		names = append(names, name)
	}
	sort.Strings(names)

	Printer.Fprintln(w, "COLLECTION\tRECORDS")
	for _, name := range names {
		Printer.Fprintf(w, "%s\t%d\n", name, len(data.Collections[name]))
	}
	w.Flush()
}
