package simdevice

import (
	"context"
	"fmt"

	"grimm.is/toggled/internal/snapshot"
)

// Fetch returns the configured collections, normalized the way the REST
// client normalizes them.
func (d *Device) Fetch(ctx context.Context) (snapshot.Data, error) {
	if err := ctx.Err(); err != nil {
		return snapshot.Data{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.takeFailure(); err != nil {
		return snapshot.Data{}, err
	}

	data := snapshot.Data{
		Collections: make(map[string]snapshot.Collection, len(d.collections)),
		Access:      append([]string(nil), d.access...),
	}
	for _, spec := range d.collections {
		coll := make(snapshot.Collection)
		for _, rec := range d.menus[spec.Path] {
			out := rec.Clone()
			spec.Normalize(out)
			coll[out.Get(snapshot.FieldID)] = out
		}
		if path := spec.CompanionPath(); path != "" {
			spec.Merge(coll, d.menus[path])
		}
		data.Collections[spec.Name] = coll
	}
	return data, nil
}

// SetValue writes modField on the single object matching the reference.
func (d *Device) SetValue(ctx context.Context, path, refField string, refValue any, modField string, modValue any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.takeFailure(); err != nil {
		return false, err
	}

	w := Write{Path: path, Field: modField, Value: formatValue(modValue)}
	rec := d.resolve(path, refField, refValue)
	if rec == nil || d.rejectPaths[path] {
		if rec != nil {
			w.ID = rec.Get(snapshot.FieldID)
		}
		d.writes = append(d.writes, w)
		return false, nil
	}

	w.ID = rec.Get(snapshot.FieldID)
	w.Accepted = true
	rec[modField] = w.Value
	d.writes = append(d.writes, w)
	return true, nil
}

// Execute runs one of the object commands the device understands.
func (d *Device) Execute(ctx context.Context, path, command, refField string, refValue any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.takeFailure(); err != nil {
		return err
	}

	w := Write{Path: path, Command: command}
	rec := d.resolve(path, refField, refValue)
	if rec == nil {
		d.writes = append(d.writes, w)
		return fmt.Errorf("%s %s: no such item", path, command)
	}
	w.ID = rec.Get(snapshot.FieldID)
	if d.rejectPaths[path] {
		d.writes = append(d.writes, w)
		return fmt.Errorf("%s %s: not permitted", path, command)
	}

	switch command {
	case "pause":
		rec["paused"] = "true"
	case "resume":
		rec["paused"] = "false"
	case "enable":
		rec[snapshot.FieldDisabled] = "false"
	case "disable":
		rec[snapshot.FieldDisabled] = "true"
	default:
		d.writes = append(d.writes, w)
		return fmt.Errorf("%s %s: %w", path, command, ErrUnknownCommand)
	}
	w.Accepted = true
	d.writes = append(d.writes, w)
	return nil
}

// resolve returns the live record matching the reference, or nil when
// zero or several match.
func (d *Device) resolve(path, refField string, refValue any) snapshot.Record {
	if refValue == nil {
		return nil
	}
	want := formatValue(refValue)
	var found snapshot.Record
	for _, rec := range d.menus[path] {
		if v, ok := rec.Lookup(refField); ok && v == want {
			if found != nil {
				return nil
			}
			found = rec
		}
	}
	return found
}

func formatValue(v any) string {
	switch t := v.(type) {
	case bool:
		return snapshot.FormatBool(t)
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
