package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/yourusername/course-extract-go/internal/app"
	"github.com/yourusername/course-extract-go/internal/domain"
)

// apiError is an error response from the server
type apiError struct {
	Status  int
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// apiClient talks to the course-extract server
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: baseURL,
		// Sync downloads keep the request open for the whole job
		http: &http.Client{Timeout: 2 * time.Hour},
	}
}

func (c *apiClient) do(method, path string, body, out interface{}) error {
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
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

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
		apiErr := &apiError{Status: resp.StatusCode}
		var wrapper struct {
			Error *apiError `json:"error"`
		}
		if json.Unmarshal(data, &wrapper) == nil && wrapper.Error != nil {
			apiErr.Kind = wrapper.Error.Kind
			apiErr.Message = wrapper.Error.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (c *apiClient) action(req app.ActionRequest) (*app.ActionResponse, error) {
	var resp app.ActionResponse
	if err := c.do(http.MethodPost, "/api/v1/actions", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) getJob(id string) (*domain.Job, error) {
	var job domain.Job
	if err := c.do(http.MethodGet, "/api/v1/jobs/"+url.PathEscape(id), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *apiClient) listJobs(filters map[string]string) ([]domain.Job, error) {
	q := url.Values{}
	for k, v := range filters {
		if v != "" {
			q.Set(k, v)
		}
	}
	path := "/api/v1/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var jobs []domain.Job
	if err := c.do(http.MethodGet, path, nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (c *apiClient) stats() (*domain.JobStats, error) {
	var stats domain.JobStats
	if err := c.do(http.MethodGet, "/api/v1/jobs/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *apiClient) cancelJob(id string) error {
	return c.do(http.MethodPost, "/api/v1/jobs/"+url.PathEscape(id)+"/cancel", nil, nil)
}

func (c *apiClient) deleteJob(id string) error {
	return c.do(http.MethodDelete, "/api/v1/jobs/"+url.PathEscape(id), nil, nil)
}

// saveArtifact copies a job's artifact to dest
func (c *apiClient) saveArtifact(id, dest string) (int64, error) {
	resp, err := c.http.Get(c.baseURL + "/api/v1/jobs/" + url.PathEscape(id) + "/artifact")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, &apiError{Status: resp.StatusCode}
	}

	f, err := os.Create(dest)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func (c *apiClient) logs(category string, limit int) ([]map[string]interface{}, error) {
	var resp struct {
		Entries []map[string]interface{} `json:"entries"`
	}
	path := fmt.Sprintf("/api/v1/logs/%s?limit=%d", url.PathEscape(category), limit)
	if err := c.do(http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}
