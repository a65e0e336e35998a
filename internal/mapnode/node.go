// Package mapnode defines the learning-map entity model shared by the
// spatial index, loader and sync store.
package mapnode

import (
	"fmt"

	"github.com/xkazm04/course-sub000/pkg/geom"
)

// Status is the learner-facing state of a node.
type Status string

const (
	StatusLocked     Status = "locked"
	StatusAvailable  Status = "available"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// statusRank orders statuses by learner progress. Used to pick a cluster's
// dominant status deterministically.
func statusRank(s Status) int {
	switch s {
	case StatusCompleted:
		return 3
	case StatusInProgress:
		return 2
	case StatusAvailable:
		return 1
	default:
		return 0
	}
}

// DominantStatus returns the highest-progress status among the given ones,
// or StatusLocked for an empty list.
func DominantStatus(statuses []Status) Status {
	best := StatusLocked
	for _, s := range statuses {
		if statusRank(s) > statusRank(best) {
			best = s
		}
	}
	return best
}

// Kind identifies the hierarchy level of a node. Exactly one kind exists per
// depth, so dispatch on Kind carries no optional-field sniffing.
type Kind string

const (
	KindDomain  Kind = "domain"  // depth 0
	KindCourse  Kind = "course"  // depth 1
	KindChapter Kind = "chapter" // depth 2
	KindSection Kind = "section" // depth 3
	KindConcept Kind = "concept" // depth 4
)

// KindForDepth maps a hierarchy depth to its node kind.
func KindForDepth(depth int) (Kind, error) {
	switch depth {
	case 0:
		return KindDomain, nil
	case 1:
		return KindCourse, nil
	case 2:
		return KindChapter, nil
	case 3:
		return KindSection, nil
	case 4:
		return KindConcept, nil
	}
	return "", fmt.Errorf("invalid node depth: %d", depth)
}

// Depth returns the hierarchy depth for the kind.
func (k Kind) Depth() int {
	switch k {
	case KindDomain:
		return 0
	case KindCourse:
		return 1
	case KindChapter:
		return 2
	case KindSection:
		return 3
	default:
		return 4
	}
}

// Node is a map entity. The spatial layer never mutates nodes; it only
// derives positions and visibility metadata from them.
type Node struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Kind           Kind     `json:"kind"`
	Depth          int      `json:"depth"`
	ParentID       string   `json:"parent_id,omitempty"`
	ChildIDs       []string `json:"child_ids,omitempty"`
	Status         Status   `json:"status"`
	Progress       float64  `json:"progress"`
	EstimatedHours float64  `json:"estimated_hours,omitempty"`
}

// Validate checks the structural invariants a node must satisfy before it
// enters the spatial layer.
func (n *Node) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("node has empty id")
	}
	if n.Depth < 0 || n.Depth > 4 {
		return fmt.Errorf("node %s: invalid depth %d", n.ID, n.Depth)
	}
	if n.Depth == 0 && n.ParentID != "" {
		return fmt.Errorf("node %s: root nodes must not have a parent", n.ID)
	}
	if n.Depth > 0 && n.ParentID == "" {
		return fmt.Errorf("node %s: depth-%d node requires a parent", n.ID, n.Depth)
	}
	if n.Progress < 0 || n.Progress > 100 {
		return fmt.Errorf("node %s: progress %.2f out of [0,100]", n.ID, n.Progress)
	}
	return nil
}

// AxialCoord is a hex-grid coordinate in axial (q, r) form.
type AxialCoord struct {
	Q int `json:"q"`
	R int `json:"r"`
}

// Positioned is a node plus its layout-assigned hex coordinate and the
// derived pixel position. The pixel position is a pure function of the hex
// coordinate and a fixed spacing; it never changes with zoom.
type Positioned struct {
	Node     *Node      `json:"node"`
	Hex      AxialCoord `json:"hex"`
	Position geom.Point `json:"position"`
}
