// Package simdevice is an in-memory RouterOS device loaded from a YAML
// fixture. It serves the same reads and writes as the REST client so the
// daemon can run without a router and tests can script device behaviour.
package simdevice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"

	"gopkg.in/yaml.v2"

	"grimm.is/toggled/internal/snapshot"
	"grimm.is/toggled/internal/toggle"
)

// ErrUnknownCommand is returned by Execute for commands the device does
// not implement.
var ErrUnknownCommand = errors.New("unknown command")

// Fixture is the on-disk form of a device.
type Fixture struct {
	Identity string                              `yaml:"identity"`
	Access   []string                            `yaml:"access"`
	Menus    map[string][]map[string]interface{} `yaml:"menus"`
}

// Write is one accepted or refused write, in arrival order.
type Write struct {
	Path     string
	ID       string
	Field    string
	Value    string
	Command  string
	Accepted bool
}

// Device is a simulated router. All methods are safe for concurrent use.
type Device struct {
	mu          sync.Mutex
	identity    string
	access      []string
	menus       map[string][]snapshot.Record
	collections []toggle.CollectionSpec
	nextID      int

	rejectPaths map[string]bool
	failNext    error
	writes      []Write
}

// Load reads a fixture file.
func Load(path string, specs []toggle.CollectionSpec) (*Device, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return Parse(b, specs)
}

// Parse builds a device from fixture YAML.
func Parse(b []byte, specs []toggle.CollectionSpec) (*Device, error) {
	var f Fixture
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	return New(f, specs), nil
}

// New builds a device from an in-memory fixture. Records without an .id
// are assigned one.
func New(f Fixture, specs []toggle.CollectionSpec) *Device {
	d := &Device{
		identity:    f.Identity,
		access:      append([]string(nil), f.Access...),
		menus:       make(map[string][]snapshot.Record),
		collections: specs,
		rejectPaths: make(map[string]bool),
	}
	if d.identity == "" {
		d.identity = "MikroTik"
	}

	paths := make([]string, 0, len(f.Menus))
	for p := range f.Menus {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		for _, row := range f.Menus[p] {
			rec := make(snapshot.Record, len(row))
			for k, v := range row {
				if v != nil {
					rec[k] = fmt.Sprint(v)
				}
			}
			if rec.Get(snapshot.FieldID) == "" {
				rec[snapshot.FieldID] = d.allocID()
			}
			d.menus[p] = append(d.menus[p], rec)
		}
	}
	return d
}

func (d *Device) allocID() string {
	d.nextID++
	return "*" + strconv.FormatInt(int64(d.nextID), 16)
}

// Identity returns the device's system identity.
func (d *Device) Identity(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.identity, nil
}

// SetAccess replaces the policy list reported by Fetch.
func (d *Device) SetAccess(access ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.access = append([]string(nil), access...)
}

// Reject makes every write under path report "not applied".
func (d *Device) Reject(path string, reject bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rejectPaths[path] = reject
}

// FailNext makes the next call of any kind fail with err.
func (d *Device) FailNext(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext = err
}

// Writes returns a copy of the write log.
func (d *Device) Writes() []Write {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Write(nil), d.writes...)
}

// Record returns a copy of the object with the given id under path.
func (d *Device) Record(path, id string) (snapshot.Record, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, rec := range d.menus[path] {
		if rec.Get(snapshot.FieldID) == id {
			return rec.Clone(), true
		}
	}
	return nil, false
}

// Put adds or replaces an object under path.
func (d *Device) Put(path string, rec snapshot.Record) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec = rec.Clone()
	id := rec.Get(snapshot.FieldID)
	if id == "" {
		id = d.allocID()
		rec[snapshot.FieldID] = id
	}
	for i, existing := range d.menus[path] {
		if existing.Get(snapshot.FieldID) == id {
			d.menus[path][i] = rec
			return id
		}
	}
	d.menus[path] = append(d.menus[path], rec)
	return id
}

// Remove deletes an object.
func (d *Device) Remove(path, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	recs := d.menus[path]
	for i, rec := range recs {
		if rec.Get(snapshot.FieldID) == id {
			d.menus[path] = append(recs[:i:i], recs[i+1:]...)
			return
		}
	}
}

func (d *Device) takeFailure() error {
	err := d.failNext
	d.failNext = nil
	return err
}
