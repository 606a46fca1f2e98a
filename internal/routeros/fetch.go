package routeros

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"grimm.is/toggled/internal/snapshot"
)

// Fetch reads every configured collection and the access policy of the
// logged-in user.
func (c *Client) Fetch(ctx context.Context) (snapshot.Data, error) {
	data := snapshot.Data{Collections: make(map[string]snapshot.Collection, len(c.collections))}

	for _, spec := range c.collections {
		rows, err := c.list(ctx, spec.Path, nil)
		if err != nil {
			return snapshot.Data{}, fmt.Errorf("fetch %s: %w", spec.Name, err)
		}
		coll := make(snapshot.Collection, len(rows))
		for _, rec := range rows {
			id := rec.Get(snapshot.FieldID)
			if id == "" {
				continue
			}
			spec.Normalize(rec)
			coll[id] = rec
		}
		if path := spec.CompanionPath(); path != "" {
			extra, err := c.list(ctx, path, nil)
			if err != nil {
				return snapshot.Data{}, fmt.Errorf("fetch %s: %w", path, err)
			}
			spec.Merge(coll, extra)
		}
		data.Collections[spec.Name] = coll
	}

	access, err := c.Access(ctx)
	if err != nil {
		return snapshot.Data{}, fmt.Errorf("fetch access: %w", err)
	}
	data.Access = access
	return data, nil
}

// Access returns the policies granted to the client's user through its
// group. Negated policies ("!write") are omitted.
func (c *Client) Access(ctx context.Context) ([]string, error) {
	users, err := c.list(ctx, "/user", url.Values{"name": {c.username}})
	if err != nil {
		return nil, err
	}
	if len(users) != 1 {
		return nil, fmt.Errorf("user %q: %w", c.username, ErrNotFound)
	}

	group := users[0].Get("group")
	groups, err := c.list(ctx, "/user/group", url.Values{"name": {group}})
	if err != nil {
		return nil, err
	}
	if len(groups) != 1 {
		return nil, fmt.Errorf("group %q: %w", group, ErrNotFound)
	}
	return parsePolicy(groups[0].Get("policy")), nil
}

func parsePolicy(policy string) []string {
	var out []string
	for _, p := range strings.Split(policy, ",") {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "!") {
			continue
		}
		out = append(out, p)
	}
	return out
}

// list GETs a menu and flattens every value to its string form.
func (c *Client) list(ctx context.Context, path string, query url.Values) ([]snapshot.Record, error) {
	var raw []map[string]any
	if err := c.do(ctx, http.MethodGet, path, query, nil, &raw); err != nil {
		return nil, err
	}
	out := make([]snapshot.Record, 0, len(raw))
	for _, row := range raw {
		rec := make(snapshot.Record, len(row))
		for k, v := range row {
			if s, ok := stringify(v); ok {
				rec[k] = s
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case bool:
		return snapshot.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		return fmt.Sprint(t), true
	}
}
