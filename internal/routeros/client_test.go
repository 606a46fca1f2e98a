package routeros

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/toggled/internal/toggle"
)

// fakeRouter serves a tiny subset of the RouterOS REST API.
type fakeRouter struct {
	t    *testing.T
	mu   sync.Mutex
	rows map[string][]map[string]any
	reqs []recordedRequest
}

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   map[string]string
}

func newFakeRouter(t *testing.T) (*fakeRouter, *httptest.Server) {
	f := &fakeRouter{t: t, rows: map[string][]map[string]any{
		"/system/identity": {{"name": "gw"}},
		"/user":            {{".id": "*1", "name": "ha", "group": "ha-group"}},
		"/user/group":      {{".id": "*2", "name": "ha-group", "policy": "read,write,api,rest-api,!ftp,!reboot"}},
		"/interface": {
			{".id": "*1", "name": "ether1", "default-name": "ether1", "type": "ether", "disabled": false, "mac-address": "AA:BB:CC:00:00:01", "mtu": float64(1500)},
			{".id": "*9", "name": "wg0", "type": "wg", "disabled": true},
		},
		"/interface/ethernet": {
			{".id": "*1", "name": "ether1", "default-name": "ether1", "poe-out": "auto-on"},
		},
		"/ip/firewall/nat": {
			{".id": "*A", "chain": "srcnat", "action": "masquerade", "protocol": "tcp", "in-interface": "eth1", "dst-port": "80", "out-interface": "eth0", "to-addresses": "192.168.1.1", "to-ports": "8080", "disabled": "false"},
			{".id": "*B", "chain": "dstnat", "action": "dst-nat", "disabled": "true", "comment": nil},
		},
		"/ip/kid-control": {{".id": "*K", "name": "kids", "paused": false, "disabled": false}},
	}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeRouter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok || user != "ha" || pass != "secret" {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":401,"message":"Unauthorized"}`)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/rest")

	rec := recordedRequest{Method: r.Method, Path: path, Query: r.URL.RawQuery}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&rec.Body)
	}
	f.mu.Lock()
	f.reqs = append(f.reqs, rec)
	f.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		rows, ok := f.rows[path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":404,"message":"Not Found","detail":"no such command or directory"}`)
			return
		}
		if path == "/system/identity" {
			_ = json.NewEncoder(w).Encode(rows[0])
			return
		}
		var out []map[string]any
		for _, row := range rows {
			keep := true
			for k, vals := range r.URL.Query() {
				if v, _ := stringify(row[k]); v != vals[0] {
					keep = false
				}
			}
			if keep {
				out = append(out, row)
			}
		}
		if out == nil {
			out = []map[string]any{}
		}
		_ = json.NewEncoder(w).Encode(out)
	case http.MethodPatch, http.MethodPost:
		if strings.HasSuffix(path, "/*404") {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":400,"message":"Bad Request","detail":"no such item"}`)
			return
		}
		_, _ = io.WriteString(w, `{}`)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeRouter) writes() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedRequest
	for _, r := range f.reqs {
		if r.Method != http.MethodGet {
			out = append(out, r)
		}
	}
	return out
}

func newTestClient(t *testing.T, srv *httptest.Server, types ...string) *Client {
	specs, err := toggle.Collections(types)
	require.NoError(t, err)
	return New(srv.URL, "ha", "secret", WithCollections(specs), WithTimeout(2*time.Second))
}

func TestRestBase(t *testing.T) {
	assert.Equal(t, "https://192.168.88.1/rest", restBase("192.168.88.1"))
	assert.Equal(t, "http://router.lan:8080/rest", restBase("http://router.lan:8080/"))
}

func TestClient_Identity(t *testing.T) {
	_, srv := newFakeRouter(t)
	c := newTestClient(t, srv)

	name, err := c.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "gw", name)
}

func TestClient_APIError(t *testing.T) {
	_, srv := newFakeRouter(t)
	c := New(srv.URL, "ha", "wrong")

	_, err := c.Identity(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "routeros: 401 Unauthorized", apiErr.Error())
}

func TestClient_Fetch(t *testing.T) {
	_, srv := newFakeRouter(t)
	c := newTestClient(t, srv, "interface", "nat", "kidcontrol_pause")

	data, err := c.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"read", "write", "api", "rest-api"}, data.Access)
	require.Len(t, data.Collections, 3)

	nat := data.Collections["nat"]
	require.Len(t, nat, 2)
	assert.Equal(t, "srcnat,masquerade,tcp,eth1:80-eth0:192.168.1.1:8080", nat["*A"].Get("uniq-id"))
	assert.Equal(t, "true", nat["*A"].Get("enabled"))
	assert.Equal(t, "false", nat["*B"].Get("enabled"))
	_, hasComment := nat["*B"].Lookup("comment")
	assert.False(t, hasComment)

	ifaces := data.Collections["interface"]
	assert.Equal(t, "1500", ifaces["*1"].Get("mtu"))
	assert.Equal(t, "AA:BB:CC:00:00:01", ifaces["*1"].Get("port-mac-address"))
	assert.Contains(t, ifaces["*9"].Get("port-mac-address"), "-wg0")
	assert.Equal(t, "false", ifaces["*9"].Get("enabled"))
	assert.Equal(t, "auto-on", ifaces["*1"].Get("poe-out"))
	_, hasPoE := ifaces["*9"].Lookup("poe-out")
	assert.False(t, hasPoE)

	assert.Equal(t, "false", data.Collections["kid-control"]["*K"].Get("paused"))
}

func TestClient_FetchMissingMenu(t *testing.T) {
	f, srv := newFakeRouter(t)
	delete(f.rows, "/ip/firewall/nat")
	c := newTestClient(t, srv, "nat")

	_, err := c.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch nat")
	assert.Contains(t, err.Error(), "no such command")
}

func TestClient_FetchMissingEthernetMenu(t *testing.T) {
	f, srv := newFakeRouter(t)
	delete(f.rows, "/interface/ethernet")
	c := newTestClient(t, srv, "interface")

	_, err := c.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch /interface/ethernet")
}

func TestClient_SetValueByReference(t *testing.T) {
	f, srv := newFakeRouter(t)
	c := newTestClient(t, srv)

	ok, err := c.SetValue(context.Background(), "/interface", "default-name", "ether1", "disabled", true)
	require.NoError(t, err)
	assert.True(t, ok)

	writes := f.writes()
	require.Len(t, writes, 1)
	assert.Equal(t, http.MethodPatch, writes[0].Method)
	assert.Equal(t, "/interface/*1", writes[0].Path)
	assert.Equal(t, map[string]string{"disabled": "true"}, writes[0].Body)
}

func TestClient_SetValueByID(t *testing.T) {
	f, srv := newFakeRouter(t)
	c := newTestClient(t, srv)

	ok, err := c.SetValue(context.Background(), "/ip/firewall/nat", ".id", "*A", "disabled", false)
	require.NoError(t, err)
	assert.True(t, ok)

	writes := f.writes()
	require.Len(t, writes, 1)
	assert.Equal(t, "/ip/firewall/nat/*A", writes[0].Path)
	assert.Equal(t, map[string]string{"disabled": "false"}, writes[0].Body)
}

func TestClient_SetValueNotFound(t *testing.T) {
	f, srv := newFakeRouter(t)
	c := newTestClient(t, srv)

	ok, err := c.SetValue(context.Background(), "/interface", "default-name", "ether7", "disabled", true)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.SetValue(context.Background(), "/interface", "default-name", nil, "disabled", true)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, f.writes())
}

func TestClient_SetValueDeviceError(t *testing.T) {
	_, srv := newFakeRouter(t)
	c := newTestClient(t, srv)

	ok, err := c.SetValue(context.Background(), "/ip/firewall/nat", ".id", "*404", "disabled", true)
	assert.False(t, ok)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "no such item", apiErr.Detail)
}

func TestClient_Execute(t *testing.T) {
	f, srv := newFakeRouter(t)
	c := newTestClient(t, srv)

	require.NoError(t, c.Execute(context.Background(), "/ip/kid-control", "pause", "name", "kids"))

	writes := f.writes()
	require.Len(t, writes, 1)
	assert.Equal(t, http.MethodPost, writes[0].Method)
	assert.Equal(t, "/ip/kid-control/pause", writes[0].Path)
	assert.Equal(t, map[string]string{"numbers": "*K"}, writes[0].Body)

	err := c.Execute(context.Background(), "/ip/kid-control", "resume", "name", "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestParsePolicy(t *testing.T) {
	assert.Equal(t, []string{"read", "test"}, parsePolicy("read, !write,test,,"))
	assert.Nil(t, parsePolicy(""))
}

func TestVerifyFingerprint(t *testing.T) {
	c := New("router", "u", "p", WithFingerprint("AB:CD"))
	assert.Equal(t, "abcd", c.expectedFingerprint)
	assert.Error(t, c.verifyFingerprint([][]byte{[]byte("leaf")}, nil))

	c = New("router", "u", "p", WithInsecureTLS(true))
	assert.NoError(t, c.verifyFingerprint([][]byte{[]byte("leaf")}, nil))
}
