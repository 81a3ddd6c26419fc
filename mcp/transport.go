package mcp

import (
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// StdioTransport returns a transport that launches command as a subprocess
// and speaks to it over stdin/stdout. Variables in env are added to the
// current process environment, overriding existing values.
func StdioTransport(command string, args []string, env map[string]string) *mcpsdk.CommandTransport {
	cmd := exec.Command(command, args...)
	cmd.Env = MergeEnv(os.Environ(), env)
	cmd.Stderr = os.Stderr
	return &mcpsdk.CommandTransport{Command: cmd}
}

// HTTPTransport returns a streamable HTTP transport for endpoint.
func HTTPTransport(endpoint string, headers map[string]string) *mcpsdk.StreamableClientTransport {
	return &mcpsdk.StreamableClientTransport{
		Endpoint:   endpoint,
		HTTPClient: HTTPClient(headers),
	}
}

// SSETransport returns a server-sent events transport for endpoint.
func SSETransport(endpoint string, headers map[string]string) *mcpsdk.SSEClientTransport {
	return &mcpsdk.SSEClientTransport{
		Endpoint:   endpoint,
		HTTPClient: HTTPClient(headers),
	}
}

// HTTPClient returns a client that sets headers on every request,
// or http.DefaultClient when there are none.
func HTTPClient(headers map[string]string) *http.Client {
	if len(headers) == 0 {
		return http.DefaultClient
	}
	return &http.Client{
		Transport: &headerRoundTripper{
			base:    http.DefaultTransport,
			headers: headers,
		},
	}
}

type headerRoundTripper struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	for k, v := range t.headers {
		r.Header.Set(k, v)
	}
	return t.base.RoundTrip(r)
}

// MergeEnv returns environ with the values of env added or replaced.
func MergeEnv(environ []string, env map[string]string) []string {
	if len(env) == 0 {
		return environ
	}

	res := make([]string, 0, len(environ)+len(env))
	for _, kv := range environ {
		k, _, _ := strings.Cut(kv, "=")
		if _, ok := env[k]; ok {
			continue
		}
		res = append(res, kv)
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		res = append(res, k+"="+env[k])
	}
	return res
}
