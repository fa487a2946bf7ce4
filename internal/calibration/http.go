package calibration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// HTTPNodeMap talks to a camera bridge exposing nodes as
// <base>/<module>/api/<version>/config/<name>, with a few fallback layouts.
type HTTPNodeMap struct {
	BaseURL    string
	APIVersion string
	Module     string
	Client     *http.Client
}

var _ NodeMap = (*HTTPNodeMap)(nil)

func BuildPaths(baseURL string, apiVersion string, module string, kind string, param string) []string {
	baseURL = strings.TrimRight(baseURL, "/")
	apiVersion = strings.Trim(apiVersion, "/")
	module = strings.Trim(module, "/")
	kind = strings.Trim(kind, "/")
	param = strings.TrimLeft(param, "/")
	if baseURL == "" || module == "" || kind == "" || param == "" {
		return nil
	}

	paths := make([]string, 0, 3)
	if apiVersion != "" {
		paths = append(paths, baseURL+"/"+module+"/api/"+apiVersion+"/"+kind+"/"+param)
		paths = append(paths, baseURL+"/api/"+apiVersion+"/"+module+"/"+kind+"/"+param)
	}
	paths = append(paths, baseURL+"/"+module+"/"+kind+"/"+param)
	return paths
}

func (h *HTTPNodeMap) SetInteger(ctx context.Context, name string, v int64) error {
	return h.set(ctx, name, v)
}

func (h *HTTPNodeMap) SetFloat(ctx context.Context, name string, v float64) error {
	return h.set(ctx, name, v)
}

func (h *HTTPNodeMap) SetString(ctx context.Context, name string, v string) error {
	return h.set(ctx, name, v)
}

func (h *HTTPNodeMap) SetBoolean(ctx context.Context, name string, v bool) error {
	return h.set(ctx, name, v)
}

func (h *HTTPNodeMap) GetFloat(ctx context.Context, name string) (float64, error) {
	status, body, err := h.do(ctx, http.MethodGet, "status", name, nil)
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, errors.Errorf("get %s: http %d: %s", name, status, body)
	}
	var decoded struct {
		Value float64 `json:"value"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return 0, errors.Wrapf(err, "get %s", name)
	}
	return decoded.Value, nil
}

func (h *HTTPNodeMap) set(ctx context.Context, name string, value any) error {
	payload, err := json.Marshal(map[string]any{"value": value})
	if err != nil {
		return errors.Wrapf(err, "set %s", name)
	}
	status, body, err := h.do(ctx, http.MethodPut, "config", name, payload)
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusNotFound || status == http.StatusForbidden || status == http.StatusMethodNotAllowed:
		return errors.Wrapf(ErrNotWritable, "%s: http %d", name, status)
	case status >= 300:
		return errors.Errorf("set %s: http %d: %s", name, status, body)
	}
	return nil
}

func (h *HTTPNodeMap) do(ctx context.Context, method, kind, name string, payload []byte) (int, []byte, error) {
	paths := BuildPaths(h.BaseURL, h.APIVersion, h.Module, kind, name)
	if len(paths) == 0 {
		return 0, nil, errors.Errorf("no node path for %q", name)
	}
	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Second}
	}
	var lastErr error
	for _, path := range paths {
		var body io.Reader
		if len(payload) > 0 {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, path, body)
		if err != nil {
			lastErr = err
			continue
		}
		if len(payload) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			return resp.StatusCode, bytes.TrimSpace(respBody), nil
		}
	}
	if lastErr != nil {
		return 0, nil, errors.Wrapf(lastErr, "%s %s", method, name)
	}
	return http.StatusNotFound, nil, nil
}
