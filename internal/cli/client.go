// Package cli holds the pieces of the command line client that talk to the
// slice API.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// JobHeader carries the id of the job queued by a request
const JobHeader = "X-Job-ID"

const clientTimeout = 30 * time.Second

type (
	// Client talks JSON to the slice API
	Client struct {
		c    *http.Client
		base *url.URL
	}

	// ErrorHTTP is an unexpected API response
	ErrorHTTP struct {
		Title   string
		Code    int
		Message string
	}
)

func (e *ErrorHTTP) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Title, e.Code)
	}
	return fmt.Sprintf("%s: %d %s", e.Title, e.Code, e.Message)
}

// NewClient creates a client of the API at address, e.g. http://host:18000
func NewClient(address string) (*Client, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("invalid address %q", address)
	}
	return &Client{
		c:    &http.Client{Timeout: clientTimeout},
		base: u,
	}, nil
}

// URLString returns the full url of endpoint
func (c *Client) URLString(endpoint string) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(endpoint, "/")
	return u.String()
}

// Do sends body as json and decodes the response into dest when the status
// is one of ok. It returns the id of the job queued by the request, if any.
func (c *Client) Do(ctx context.Context, title, method, endpoint string, body, dest interface{}, ok ...int) (string, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return "", errors.Wrap(err, title)
		}
		reader = bytes.NewReader(data)
	}

	addr := c.URLString(endpoint)
	req, err := http.NewRequestWithContext(ctx, method, addr, reader)
	if err != nil {
		return "", errors.Wrap(err, title)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	log.WithFields(log.Fields{
		"method":  method,
		"address": addr,
	}).Debug("request")

	resp, err := c.c.Do(req)
	if err != nil {
		return "", errors.Wrap(err, title)
	}
	defer func() { _ = resp.Body.Close() }()

	if !expected(resp.StatusCode, ok) {
		apiErr := struct {
			Message string `json:"message"`
		}{}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return "", &ErrorHTTP{Title: title, Code: resp.StatusCode, Message: apiErr.Message}
	}

	if dest != nil {
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return "", errors.Wrapf(err, "%s: failed to parse json", title)
		}
	}
	return resp.Header.Get(JobHeader), nil
}

func expected(code int, ok []int) bool {
	if len(ok) == 0 {
		return code == http.StatusOK
	}
	for _, status := range ok {
		if code == status {
			return true
		}
	}
	return false
}

// Get fetches one resource
func (c *Client) Get(ctx context.Context, title, endpoint string) (JMap, error) {
	j := JMap{}
	_, err := c.Do(ctx, title, http.MethodGet, endpoint, nil, &j)
	return j, err
}

// GetMany fetches a list of resources
func (c *Client) GetMany(ctx context.Context, title, endpoint string) (JMapSlice, error) {
	js := JMapSlice{}
	_, err := c.Do(ctx, title, http.MethodGet, endpoint, nil, &js)
	return js, err
}

// Post creates a resource or triggers an action
func (c *Client) Post(ctx context.Context, title, endpoint string, body interface{}) (JMap, string, error) {
	j := JMap{}
	job, err := c.Do(ctx, title, http.MethodPost, endpoint, body, &j, http.StatusOK, http.StatusCreated, http.StatusAccepted)
	return j, job, err
}

// Patch updates a resource
func (c *Client) Patch(ctx context.Context, title, endpoint string, body interface{}) (JMap, error) {
	j := JMap{}
	_, err := c.Do(ctx, title, http.MethodPatch, endpoint, body, &j)
	return j, err
}

// Del deletes a resource
func (c *Client) Del(ctx context.Context, title, endpoint string) (JMap, string, error) {
	j := JMap{}
	job, err := c.Do(ctx, title, http.MethodDelete, endpoint, nil, &j, http.StatusOK, http.StatusAccepted)
	return j, job, err
}
