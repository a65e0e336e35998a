// Package upstream is a typed HTTP client for the remote content services:
// the entity fetch API, the generation-status API and the path-acceptance
// API. All three are opaque collaborators; this package only speaks their
// wire shapes.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/xkazm04/course-sub000/internal/mapnode"
	"github.com/xkazm04/course-sub000/pkg/geom"
)

// GenerationStatus is the content-generation state reported by the remote
// services for a map node or job.
type GenerationStatus string

const (
	GenPending    GenerationStatus = "pending"
	GenGenerating GenerationStatus = "generating"
	GenReady      GenerationStatus = "ready"
	GenCompleted  GenerationStatus = "completed"
	GenFailed     GenerationStatus = "failed"
)

// Config contains client configuration.
type Config struct {
	ContentBaseURL string // entity fetch + generation status + path acceptance
	Timeout        time.Duration
	Logger         *zap.Logger
}

// Client talks to the upstream content services.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

// NewClient creates an upstream client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: cfg.ContentBaseURL,
		http:    &http.Client{Timeout: timeout},
		log:     log.Named("upstream"),
	}
}

// NodesResult is the entity fetch response for a bounding-box query.
type NodesResult struct {
	Nodes   []*mapnode.Node `json:"nodes"`
	Total   int             `json:"total"`
	Offset  int             `json:"offset"`
	Limit   int             `json:"limit"`
	HasMore bool            `json:"has_more"`
}

// FetchNodesInBounds requests entities whose position falls inside the
// world-space box, optionally scoped to a domain or parent node.
func (c *Client) FetchNodesInBounds(ctx context.Context, bounds geom.Bounds, domain, parentID string) (*NodesResult, error) {
	q := url.Values{}
	q.Set("min_x", strconv.FormatFloat(bounds.MinX, 'f', -1, 64))
	q.Set("min_y", strconv.FormatFloat(bounds.MinY, 'f', -1, 64))
	q.Set("max_x", strconv.FormatFloat(bounds.MaxX, 'f', -1, 64))
	q.Set("max_y", strconv.FormatFloat(bounds.MaxY, 'f', -1, 64))
	if domain != "" {
		q.Set("domain", domain)
	}
	if parentID != "" {
		q.Set("parent_id", parentID)
	}

	var out NodesResult
	if err := c.getJSON(ctx, "/api/map/nodes?"+q.Encode(), &out); err != nil {
		return nil, fmt.Errorf("fetch nodes in bounds: %w", err)
	}
	return &out, nil
}

// FetchNodesByID requests a batch of entities by id.
func (c *Client) FetchNodesByID(ctx context.Context, ids []string) ([]*mapnode.Node, error) {
	req := struct {
		NodeIDs []string `json:"nodeIds"`
	}{NodeIDs: ids}

	var out struct {
		Nodes []*mapnode.Node `json:"nodes"`
	}
	if err := c.postJSON(ctx, "/api/map/nodes/batch", req, &out); err != nil {
		return nil, fmt.Errorf("fetch nodes by id: %w", err)
	}
	return out.Nodes, nil
}

// NodeGenerationInfo is the per-node payload of the generation-status API.
type NodeGenerationInfo struct {
	Status   GenerationStatus `json:"status"`
	CourseID string           `json:"course_id,omitempty"`
	Progress float64          `json:"progress,omitempty"`
	Message  string           `json:"message,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// FetchGenerationStatus batch-queries generation status by node id list.
func (c *Client) FetchGenerationStatus(ctx context.Context, nodeIDs []string) (map[string]NodeGenerationInfo, error) {
	req := struct {
		NodeIDs []string `json:"node_ids"`
	}{NodeIDs: nodeIDs}

	var out struct {
		Nodes map[string]NodeGenerationInfo `json:"nodes"`
	}
	if err := c.postJSON(ctx, "/api/generation/nodes/status", req, &out); err != nil {
		return nil, fmt.Errorf("fetch generation status: %w", err)
	}
	return out.Nodes, nil
}

// CreatedNode is one node record confirmed by the path-acceptance API.
type CreatedNode struct {
	PathNodeID string `json:"path_node_id"`
	MapNodeID  string `json:"map_node_id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	CourseID   string `json:"course_id,omitempty"`
	ChapterID  string `json:"chapter_id,omitempty"`
	// ParentPathID references another just-created node by its path id, so
	// consumers must resolve parents in depth order.
	ParentPathID string `json:"parent_path_id,omitempty"`
	Depth        int    `json:"depth"`
}

// GenerationJob is one content-generation job created for a new node.
type GenerationJob struct {
	JobID    string           `json:"job_id"`
	NodeID   string           `json:"node_id"`
	NodeName string           `json:"node_name"`
	Status   GenerationStatus `json:"status"`
}

// SkippedNode records a path node the server declined to create.
type SkippedNode struct {
	PathNodeID string `json:"path_node_id"`
	Name       string `json:"name"`
	Reason     string `json:"reason"`
}

// AcceptResult is the path-acceptance response.
type AcceptResult struct {
	Success        bool            `json:"success"`
	BatchID        string          `json:"batch_id"`
	PathID         string          `json:"path_id"`
	PathName       string          `json:"path_name"`
	CreatedNodes   []CreatedNode   `json:"created_nodes"`
	GenerationJobs []GenerationJob `json:"generation_jobs"`
	SkippedNodes   []SkippedNode   `json:"skipped_nodes"`
	TotalNewNodes  int             `json:"total_new_nodes"`
	TotalJobs      int             `json:"total_jobs"`
}

// AcceptPath submits a generated learning path for acceptance.
func (c *Client) AcceptPath(ctx context.Context, path json.RawMessage, domain string) (*AcceptResult, error) {
	req := struct {
		Path   json.RawMessage `json:"path"`
		Domain string          `json:"domain"`
	}{Path: path, Domain: domain}

	var out AcceptResult
	if err := c.postJSON(ctx, "/api/paths/accept", req, &out); err != nil {
		return nil, fmt.Errorf("accept path: %w", err)
	}
	return &out, nil
}

// BatchJobStatus is the per-job payload of the batch-status poll.
type BatchJobStatus struct {
	JobID           string           `json:"job_id"`
	NodeID          string           `json:"node_id"`
	NodeName        string           `json:"node_name"`
	Status          GenerationStatus `json:"status"`
	ProgressPercent float64          `json:"progress_percent"`
	ProgressMessage string           `json:"progress_message,omitempty"`
	ErrorMessage    string           `json:"error_message,omitempty"`
}

// BatchStatus is the batch-status poll response.
type BatchStatus struct {
	BatchID         string           `json:"batch_id"`
	OverallProgress float64          `json:"overall_progress"`
	CompletedCount  int              `json:"completed_count"`
	FailedCount     int              `json:"failed_count"`
	TotalCount      int              `json:"total_count"`
	AllCompleted    bool             `json:"all_completed"`
	Jobs            []BatchJobStatus `json:"jobs"`
}

// FetchBatchStatus polls the status of all jobs in an acceptance batch.
func (c *Client) FetchBatchStatus(ctx context.Context, batchID string) (*BatchStatus, error) {
	var out BatchStatus
	if err := c.getJSON(ctx, "/api/paths/batch/"+url.PathEscape(batchID)+"/status", &out); err != nil {
		return nil, fmt.Errorf("fetch batch status: %w", err)
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, bytes.TrimSpace(body))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
