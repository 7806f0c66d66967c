package sdn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultTimeout bounds every call to the controller
const DefaultTimeout = 10 * time.Second

// Floodlight is a Controller backed by the Floodlight REST API
type Floodlight struct {
	base   string
	client *http.Client
}

// ErrorHTTPCode is an unexpected response from the controller
type ErrorHTTPCode struct {
	URL  string
	Code int
	Body string
}

func (e ErrorHTTPCode) Error() string {
	msg := fmt.Sprintf("controller %s: unexpected status %d", e.URL, e.Code)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

type staticFlow struct {
	Switch      string `json:"switch"`
	Name        string `json:"name"`
	SrcMAC      string `json:"src-mac,omitempty"`
	Cookie      string `json:"cookie,omitempty"`
	Priority    string `json:"priority,omitempty"`
	IngressPort string `json:"ingress-port,omitempty"`
	Active      string `json:"active,omitempty"`
	Actions     string `json:"actions,omitempty"`
}

// NewFloodlight creates a client for the controller at base, e.g.
// http://127.0.0.1:8080. A zero timeout uses DefaultTimeout.
func NewFloodlight(base string, timeout time.Duration) *Floodlight {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Floodlight{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

func (f *Floodlight) do(ctx context.Context, method, path string, in, out interface{}) error {
	url := f.base + path

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithField("error", err).Error("failed to close response body")
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return ErrorHTTPCode{URL: url, Code: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// Switches lists the datapaths known to the controller
func (f *Floodlight) Switches(ctx context.Context) ([]Switch, error) {
	var switches []Switch
	err := f.do(ctx, http.MethodGet, "/wm/core/controller/switches/json", nil, &switches)
	return switches, err
}

// Links lists the inter-switch links discovered by the controller
func (f *Floodlight) Links(ctx context.Context) ([]Link, error) {
	var links []Link
	err := f.do(ctx, http.MethodGet, "/wm/topology/links/json", nil, &links)
	return links, err
}

// Attachment finds the switch port named portName
func (f *Floodlight) Attachment(ctx context.Context, portName string) (Attachment, error) {
	switches, err := f.Switches(ctx)
	if err != nil {
		return Attachment{}, err
	}
	return Locate(switches, portName)
}

// Route asks the controller for the shortest path between two attachment
// points
func (f *Floodlight) Route(ctx context.Context, src, dst Attachment) ([]RoutePoint, error) {
	path := fmt.Sprintf("/wm/topology/route/%s/%d/%s/%d/json", src.Switch, src.Port, dst.Switch, dst.Port)
	var points []RoutePoint
	err := f.do(ctx, http.MethodGet, path, nil, &points)
	return points, err
}

// PushFlow installs a static flow entry
func (f *Floodlight) PushFlow(ctx context.Context, flow Flow) error {
	priority := flow.Priority
	if priority == 0 {
		priority = DefaultPriority
	}
	entry := staticFlow{
		Switch:      flow.Switch,
		Name:        flow.Name,
		SrcMAC:      flow.SrcMAC,
		Cookie:      "0",
		Priority:    strconv.Itoa(priority),
		IngressPort: strconv.Itoa(flow.IngressPort),
		Active:      "true",
		Actions:     "output=" + strconv.Itoa(flow.OutPort),
	}
	return f.do(ctx, http.MethodPost, "/wm/staticflowentrypusher/json", entry, nil)
}

// DeleteFlow removes a static flow entry by name
func (f *Floodlight) DeleteFlow(ctx context.Context, sw, name string) error {
	entry := staticFlow{Switch: sw, Name: name}
	return f.do(ctx, http.MethodDelete, "/wm/staticflowentrypusher/json", entry, nil)
}

// ClearFlows removes every static flow entry
func (f *Floodlight) ClearFlows(ctx context.Context) error {
	return f.do(ctx, http.MethodGet, "/wm/staticflowentrypusher/clear/all/json", nil, nil)
}
