package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// apiClient talks to a running server so that the CLI does not contend for
// the bleve and SQLite locks.
type apiClient struct {
	base   string
	tenant string
	header string
	http   *http.Client
}

func newAPIClient(base, tenant, header string) *apiClient {
	return &apiClient{
		base:   strings.TrimRight(base, "/"),
		tenant: tenant,
		header: header,
		http:   &http.Client{Timeout: 10 * time.Minute},
	}
}

func (c *apiClient) get(path string, out any) error {
	return c.do(http.MethodGet, path, nil, out)
}

func (c *apiClient) post(path string, in, out any) error {
	return c.do(http.MethodPost, path, in, out)
}

func (c *apiClient) delete(path string, out any) error {
	return c.do(http.MethodDelete, path, nil, out)
}

func (c *apiClient) do(method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tenant != "" {
		req.Header.Set(c.header, c.tenant)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		b, _ := io.ReadAll(resp.Body)
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(b, &e) == nil && e.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if resp.StatusCode == http.StatusMultiStatus {
		return decodePartial(resp.Body, out)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// partialError is a 207 answer: the records were written, a secondary index
// was not.
type partialError struct {
	Stage string   `json:"stage"`
	IDs   []string `json:"ids"`
	Err   string   `json:"error"`
}

func (e *partialError) Error() string {
	return fmt.Sprintf("partial failure at %s stage for %s: %s", e.Stage, strings.Join(e.IDs, ", "), e.Err)
}

func decodePartial(r io.Reader, out any) error {
	var body struct {
		Partial partialError `json:"partial"`
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, &body); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if out != nil {
		_ = json.Unmarshal(b, out)
	}
	return &body.Partial
}
