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

const userHeader = "X-Catopus-User"

// Client talks to the catopus HTTP API.
type Client struct {
	baseURL string
	user    string
	http    *http.Client
}

func NewClient(cfg *Config) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		user:    cfg.User,
		http:    &http.Client{Timeout: 30 * time.Minute},
	}
}

// apiError is the error body written by the server.
type apiError struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (c *Client) do(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(userHeader, c.user)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var e apiError
		if json.Unmarshal(data, &e) == nil && e.Message != "" {
			return fmt.Errorf("%s (HTTP %d)", e.Message, resp.StatusCode)
		}
		return fmt.Errorf("request failed: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

type queryBody struct {
	SQL       string   `json:"sql"`
	Shards    []string `json:"shards"`
	ShardList string   `json:"shard_list,omitempty"`
	TableName string   `json:"table_name,omitempty"`
}

// QueryResponse is the body of POST /api/query.
type QueryResponse struct {
	Status          string   `json:"status"`
	Message         string   `json:"message"`
	Identifier      string   `json:"identifier"`
	Columns         []string `json:"columns"`
	Rows            [][]any  `json:"rows"`
	RowCount        int      `json:"row_count"`
	TableName       *string  `json:"table_name"`
	ShardsResolved  int      `json:"shards_resolved"`
	ShardsSucceeded int      `json:"shards_succeeded"`
}

func (c *Client) Query(sql string, shards []string, tableName string) (*QueryResponse, error) {
	var out QueryResponse
	err := c.do(http.MethodPost, "/api/query", queryBody{SQL: sql, Shards: shards, TableName: tableName}, &out)
	return &out, err
}

func (c *Client) Remote(sql string, shards []string) (string, error) {
	var out apiError
	if err := c.do(http.MethodPost, "/api/remote", queryBody{SQL: sql, Shards: shards}, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// Run is a remote run log as returned by the API.
type Run struct {
	ID           int64     `json:"id"`
	Status       string    `json:"status"`
	SQL          string    `json:"sql"`
	Shards       []string  `json:"shards"`
	CreatedTable *string   `json:"created_table"`
	Error        *string   `json:"error"`
	RunOn        time.Time `json:"run_on"`
}

func (c *Client) Runs() ([]Run, error) {
	var out struct {
		Runs []Run `json:"runs"`
	}
	err := c.do(http.MethodGet, "/api/remote", nil, &out)
	return out.Runs, err
}

func (c *Client) Run(id string) (*Run, error) {
	var out Run
	err := c.do(http.MethodGet, "/api/remote/"+id, nil, &out)
	return &out, err
}

func (c *Client) SaveTable(identifier, tableName string) (string, error) {
	var out struct {
		Status    string `json:"status"`
		Message   string `json:"message"`
		TableName string `json:"table_name"`
	}
	if err := c.do(http.MethodPost, "/api/results/"+identifier+"/table", map[string]string{"table_name": tableName}, &out); err != nil {
		return "", err
	}
	if out.Status != "success" {
		return "", fmt.Errorf("%s", out.Message)
	}
	return out.TableName, nil
}

type Shard struct {
	Name    string `json:"name"`
	ID      int    `json:"id"`
	Cluster string `json:"cluster"`
}

func (c *Client) Shards() ([]Shard, error) {
	var out struct {
		Shards []Shard `json:"shards"`
	}
	err := c.do(http.MethodGet, "/api/shards", nil, &out)
	return out.Shards, err
}

// Result is a stored result listed by GET /api/results.
type Result struct {
	Identifier string    `json:"identifier"`
	SQL        string    `json:"sql"`
	Shards     []string  `json:"shards"`
	RowCount   int64     `json:"row_count"`
	CreatedAt  time.Time `json:"created_at"`
}

func (c *Client) History(limit int) ([]Result, error) {
	var out struct {
		Results []Result `json:"results"`
	}
	err := c.do(http.MethodGet, fmt.Sprintf("/api/results?limit=%d", limit), nil, &out)
	return out.Results, err
}

// Download fetches the raw parquet file of a stored result.
func (c *Client) Download(identifier string, w io.Writer) (int64, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/api/results/"+identifier+"/download", nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set(userHeader, c.user)
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}
	return io.Copy(w, resp.Body)
}
