package routeros

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"grimm.is/toggled/internal/snapshot"
)

// SetValue sets modField on the object whose refField equals refValue.
// It reports false, without error, when no single object matches.
func (c *Client) SetValue(ctx context.Context, path, refField string, refValue any, modField string, modValue any) (bool, error) {
	id, err := c.resolve(ctx, path, refField, refValue)
	if errors.Is(err, ErrNotFound) {
		c.logger.Warn("write target not found", "path", path, "ref", refField, "value", refValue)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	body := map[string]string{modField: formatValue(modValue)}
	if err := c.do(ctx, http.MethodPatch, path+"/"+url.PathEscape(id), nil, body, nil); err != nil {
		return false, fmt.Errorf("set %s %s=%v: %w", path, modField, modValue, err)
	}
	return true, nil
}

// Execute runs command (e.g. "pause") against the object whose refField
// equals refValue.
func (c *Client) Execute(ctx context.Context, path, command, refField string, refValue any) error {
	id, err := c.resolve(ctx, path, refField, refValue)
	if err != nil {
		return fmt.Errorf("%s %s: %w", path, command, err)
	}
	body := map[string]string{"numbers": id}
	if err := c.do(ctx, http.MethodPost, path+"/"+command, nil, body, nil); err != nil {
		return fmt.Errorf("%s %s: %w", path, command, err)
	}
	return nil
}

// resolve maps a reference to the object's .id. References already in
// .id form are used as is.
func (c *Client) resolve(ctx context.Context, path, refField string, refValue any) (string, error) {
	if refValue == nil {
		return "", ErrNotFound
	}
	value := formatValue(refValue)
	if refField == snapshot.FieldID {
		return value, nil
	}

	rows, err := c.list(ctx, path, url.Values{refField: {value}})
	if err != nil {
		return "", err
	}
	if len(rows) != 1 {
		return "", ErrNotFound
	}
	id := rows[0].Get(snapshot.FieldID)
	if id == "" {
		return "", ErrNotFound
	}
	return id, nil
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
