// Package syncstore maintains the node-status state shared across the map
// view: the accepted learning path, its dynamically created nodes and
// generation jobs, merged from direct updates and poll batches under
// out-of-order delivery.
package syncstore

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkazm04/course-sub000/internal/mapnode"
	"github.com/xkazm04/course-sub000/internal/upstream"
)

// jitterWindow is the clock/network skew range within which two update
// timestamps are considered concurrent: ordering then falls back to status
// priority instead of wall-clock time.
const jitterWindow = 100 * time.Millisecond

// statusPriority orders generation statuses by progress. Ready and failed
// are both terminal-equivalent; completed is the strict maximum.
func statusPriority(s upstream.GenerationStatus) int {
	switch s {
	case upstream.GenPending:
		return 0
	case upstream.GenGenerating:
		return 1
	case upstream.GenReady, upstream.GenFailed:
		return 2
	case upstream.GenCompleted:
		return 3
	}
	return 0
}

// isTerminal reports whether a status will not progress without external
// action (failed nodes are retried from outside the store).
func isTerminal(s upstream.GenerationStatus) bool {
	switch s {
	case upstream.GenReady, upstream.GenCompleted, upstream.GenFailed:
		return true
	}
	return false
}

// DynamicNode is a map node created by path acceptance, tracked through
// content generation. Owned exclusively by the store; read-only to callers.
type DynamicNode struct {
	ID            string                    `json:"id"`
	Name          string                    `json:"name"`
	Kind          mapnode.Kind              `json:"kind"`
	Depth         int                       `json:"depth"`
	ParentID      string                    `json:"parent_id,omitempty"`
	PathNodeID    string                    `json:"path_node_id"`
	CourseID      string                    `json:"course_id,omitempty"`
	ChapterID     string                    `json:"chapter_id,omitempty"`
	Status        upstream.GenerationStatus `json:"status"`
	Progress      float64                   `json:"progress"`
	Message       string                    `json:"message,omitempty"`
	Error         string                    `json:"error,omitempty"`
	LastUpdatedAt time.Time                 `json:"last_updated_at"`
}

// Job is a content-generation job linked to one dynamic node.
type Job struct {
	ID            string                    `json:"id"`
	NodeID        string                    `json:"node_id"`
	Status        upstream.GenerationStatus `json:"status"`
	Progress      float64                   `json:"progress"`
	Message       string                    `json:"message,omitempty"`
	Error         string                    `json:"error,omitempty"`
	LastUpdatedAt time.Time                 `json:"last_updated_at"`
}

// AcceptedPath identifies the path whose nodes the store is tracking.
type AcceptedPath struct {
	PathID     string    `json:"path_id"`
	PathName   string    `json:"path_name"`
	BatchID    string    `json:"batch_id"`
	Domain     string    `json:"domain"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// Snapshot is the persisted portion of the store state. Transient flags
// (active polling, UI state) are deliberately absent.
type Snapshot struct {
	Path      *AcceptedPath           `json:"path,omitempty"`
	Nodes     map[string]*DynamicNode `json:"nodes"`
	Jobs      map[string]*Job         `json:"jobs"`
	IDMapping map[string]string       `json:"id_mapping"` // path node id -> map node id
}

// Persister saves and restores store snapshots across restarts.
type Persister interface {
	SaveSnapshot(key string, snap *Snapshot) error
	LoadSnapshot(key string) (*Snapshot, error)
	DeleteSnapshot(key string) error
}

// Store is the shared node-status container. All mutation goes through its
// methods; each method applies one atomic state transition under the lock,
// which together with the staleness rule makes out-of-order delivery safe.
type Store struct {
	mu        sync.RWMutex
	path      *AcceptedPath
	nodes     map[string]*DynamicNode
	jobs      map[string]*Job
	idMapping map[string]string

	persistKey string
	persister  Persister
	log        *zap.Logger
}

// Config contains store configuration.
type Config struct {
	PersistKey string    // snapshot key; "default" when empty
	Persister  Persister // nil disables persistence
	Logger     *zap.Logger
}

// NewStore creates a store, restoring any persisted snapshot.
func NewStore(cfg Config) *Store {
	key := cfg.PersistKey
	if key == "" {
		key = "default"
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		nodes:      make(map[string]*DynamicNode),
		jobs:       make(map[string]*Job),
		idMapping:  make(map[string]string),
		persistKey: key,
		persister:  cfg.Persister,
		log:        log.Named("syncstore"),
	}

	if cfg.Persister != nil {
		snap, err := cfg.Persister.LoadSnapshot(key)
		if err != nil {
			s.log.Warn("failed to restore snapshot", zap.Error(err))
		} else if snap != nil {
			s.path = snap.Path
			if snap.Nodes != nil {
				s.nodes = snap.Nodes
			}
			if snap.Jobs != nil {
				s.jobs = snap.Jobs
			}
			if snap.IDMapping != nil {
				s.idMapping = snap.IDMapping
			}
		}
	}
	return s
}

// AcceptPath builds the node set from a server-confirmed acceptance batch
// in one atomic transition. Created nodes are processed in ascending depth
// order before parent lookups are resolved: a child's parent reference is
// itself a just-created path id, so any other order would leave parent
// links unresolved.
func (s *Store) AcceptPath(result *upstream.AcceptResult, domain string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.path = &AcceptedPath{
		PathID:     result.PathID,
		PathName:   result.PathName,
		BatchID:    result.BatchID,
		Domain:     domain,
		AcceptedAt: now,
	}
	s.nodes = make(map[string]*DynamicNode, len(result.CreatedNodes))
	s.jobs = make(map[string]*Job, len(result.GenerationJobs))
	s.idMapping = make(map[string]string, len(result.CreatedNodes))

	jobByNode := make(map[string]*upstream.GenerationJob, len(result.GenerationJobs))
	for i := range result.GenerationJobs {
		j := &result.GenerationJobs[i]
		jobByNode[j.NodeID] = j
	}

	created := make([]upstream.CreatedNode, len(result.CreatedNodes))
	copy(created, result.CreatedNodes)
	sort.SliceStable(created, func(i, j int) bool { return created[i].Depth < created[j].Depth })

	for _, cn := range created {
		kind, err := mapnode.KindForDepth(cn.Depth)
		if err != nil {
			s.log.Warn("skipping created node with invalid depth",
				zap.String("node_id", cn.MapNodeID), zap.Int("depth", cn.Depth))
			continue
		}

		node := &DynamicNode{
			ID:            cn.MapNodeID,
			Name:          cn.Name,
			Kind:          kind,
			Depth:         cn.Depth,
			PathNodeID:    cn.PathNodeID,
			CourseID:      cn.CourseID,
			ChapterID:     cn.ChapterID,
			Status:        upstream.GenReady,
			LastUpdatedAt: now,
		}
		// Parents are resolved through the id mapping; depth ordering
		// guarantees the parent entry already exists.
		if cn.ParentPathID != "" {
			node.ParentID = s.idMapping[cn.ParentPathID]
			if node.ParentID == "" {
				s.log.Warn("parent not found in acceptance batch",
					zap.String("node", cn.Name), zap.String("parent_path_id", cn.ParentPathID))
			}
		}
		if job := jobByNode[cn.MapNodeID]; job != nil {
			node.Status = job.Status
			if node.Status == "" {
				node.Status = upstream.GenPending
			}
		}

		s.nodes[node.ID] = node
		s.idMapping[cn.PathNodeID] = cn.MapNodeID
	}

	for _, gj := range result.GenerationJobs {
		status := gj.Status
		if status == "" {
			status = upstream.GenPending
		}
		s.jobs[gj.JobID] = &Job{
			ID:            gj.JobID,
			NodeID:        gj.NodeID,
			Status:        status,
			LastUpdatedAt: now,
		}
	}

	s.persistLocked()
}

// NodeUpdate carries one status observation for a node or job.
type NodeUpdate struct {
	Status    upstream.GenerationStatus
	Progress  float64
	Message   string
	Error     string
	Timestamp time.Time
}

// shouldApply implements the two-tier staleness rule: a strictly newer
// update (beyond the jitter window) always wins; within the jitter window
// the update wins only if its status priority is at least the current one.
// Anything else is stale and silently dropped.
func shouldApply(currentStatus upstream.GenerationStatus, currentTS time.Time, u NodeUpdate) bool {
	delta := u.Timestamp.Sub(currentTS)
	if delta < -jitterWindow {
		return false
	}
	if delta > jitterWindow {
		return true
	}
	return statusPriority(u.Status) >= statusPriority(currentStatus)
}

// UpdateNodeStatus applies a direct status update to a node, subject to the
// staleness rule. Returns whether the update was applied.
func (s *Store) UpdateNodeStatus(nodeID string, u NodeUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	applied := s.updateNodeLocked(nodeID, u)
	if applied {
		s.persistLocked()
	}
	return applied
}

func (s *Store) updateNodeLocked(nodeID string, u NodeUpdate) bool {
	node, ok := s.nodes[nodeID]
	if !ok {
		return false
	}
	if !shouldApply(node.Status, node.LastUpdatedAt, u) {
		return false
	}
	node.Status = u.Status
	node.Progress = u.Progress
	if u.Message != "" {
		node.Message = u.Message
	}
	node.Error = u.Error
	node.LastUpdatedAt = u.Timestamp
	return true
}

// UpdateJobStatus applies a status update to a job and, when the job links
// to a node, conditionally propagates the status to the node under its own
// independent staleness check. A job and its node may legitimately differ
// momentarily.
func (s *Store) UpdateJobStatus(jobID string, u NodeUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	applied := s.updateJobLocked(jobID, u)
	if applied {
		s.persistLocked()
	}
	return applied
}

func (s *Store) updateJobLocked(jobID string, u NodeUpdate) bool {
	job, ok := s.jobs[jobID]
	if !ok {
		return false
	}
	if !shouldApply(job.Status, job.LastUpdatedAt, u) {
		return false
	}
	job.Status = u.Status
	job.Progress = u.Progress
	if u.Message != "" {
		job.Message = u.Message
	}
	job.Error = u.Error
	job.LastUpdatedAt = u.Timestamp

	if job.NodeID != "" {
		s.updateNodeLocked(job.NodeID, u)
	}
	return true
}

// UpdateFromPoll applies a batch-status poll result: every job update flows
// through the same staleness rule, propagating to linked nodes.
func (s *Store) UpdateFromPoll(batch *upstream.BatchStatus, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := 0
	for _, js := range batch.Jobs {
		u := NodeUpdate{
			Status:    js.Status,
			Progress:  js.ProgressPercent,
			Message:   js.ProgressMessage,
			Error:     js.ErrorMessage,
			Timestamp: now,
		}
		if s.updateJobLocked(js.JobID, u) {
			applied++
		}
	}
	if applied > 0 {
		s.persistLocked()
	}
	return applied
}

// ApplyGenerationStatuses merges a generation-status API response (keyed by
// node id) into the store.
func (s *Store) ApplyGenerationStatuses(statuses map[string]upstream.NodeGenerationInfo, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := 0
	for nodeID, info := range statuses {
		u := NodeUpdate{
			Status:    info.Status,
			Progress:  info.Progress,
			Message:   info.Message,
			Error:     info.Error,
			Timestamp: now,
		}
		if s.updateNodeLocked(nodeID, u) {
			applied++
		}
	}
	if applied > 0 {
		s.persistLocked()
	}
	return applied
}

// HasGeneratingNodes reports whether any node is in a non-terminal state.
// Derived by scanning current statuses, never stored.
func (s *Store) HasGeneratingNodes() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.nodes {
		if !isTerminal(n.Status) {
			return true
		}
	}
	return false
}

// GeneratingNodeIDs returns the ids of all non-terminal nodes, sorted for
// stable batch requests.
func (s *Store) GeneratingNodeIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, n := range s.nodes {
		if !isTerminal(n.Status) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Node returns a copy of the tracked node, if present.
func (s *Store) Node(id string) (DynamicNode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return DynamicNode{}, false
	}
	return *n, true
}

// Job returns a copy of the tracked job, if present.
func (s *Store) JobByID(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Path returns the accepted path identity, if any.
func (s *Store) Path() (AcceptedPath, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.path == nil {
		return AcceptedPath{}, false
	}
	return *s.path, true
}

// MapNodeID resolves a path node id to its created map node id.
func (s *Store) MapNodeID(pathNodeID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.idMapping[pathNodeID]
	return id, ok
}

// Nodes returns copies of all tracked nodes.
func (s *Store) Nodes() []DynamicNode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DynamicNode, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reset clears all tracked state wholesale, including the persisted copy.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.path = nil
	s.nodes = make(map[string]*DynamicNode)
	s.jobs = make(map[string]*Job)
	s.idMapping = make(map[string]string)
	if s.persister != nil {
		if err := s.persister.DeleteSnapshot(s.persistKey); err != nil {
			s.log.Warn("failed to delete snapshot", zap.Error(err))
		}
	}
}

// persistLocked saves a snapshot; callers hold the write lock.
func (s *Store) persistLocked() {
	if s.persister == nil {
		return
	}
	snap := &Snapshot{
		Path:      s.path,
		Nodes:     s.nodes,
		Jobs:      s.jobs,
		IDMapping: s.idMapping,
	}
	if err := s.persister.SaveSnapshot(s.persistKey, snap); err != nil {
		s.log.Warn("failed to persist snapshot", zap.Error(err))
	}
}
