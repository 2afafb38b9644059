package models

import (
	"github.com/google/uuid"
)

// Placeholder identity rendered when a linked owner cannot be found anywhere.
const (
	PlaceholderOwnerName      = "Unknown owner"
	PlaceholderOwnerDisplayID = "—"
)

// IdentitySource ranks where an owner's display fields came from.
// Higher values are more authoritative.
type IdentitySource int

const (
	IdentitySourcePlaceholder  IdentitySource = iota // Nothing known
	IdentitySourceEdgeSnapshot                       // Fields stored on the edge itself
	IdentitySourceEnrichment                         // Joined from the store when the parent edge was resolved
	IdentitySourceDetail                             // The target's own detail record, loaded separately
)

// String returns the wire name of the source.
func (s IdentitySource) String() string {
	switch s {
	case IdentitySourceEdgeSnapshot:
		return "edge_snapshot"
	case IdentitySourceEnrichment:
		return "enrichment"
	case IdentitySourceDetail:
		return "detail"
	default:
		return "placeholder"
	}
}

// OwnerIdentity is the display identity of an owner.
// Each field carries its own source because precedence is evaluated per field.
type OwnerIdentity struct {
	ID              uuid.UUID      `json:"id"`
	DisplayID       string         `json:"display_id"`
	Name            string         `json:"name"`
	Type            string         `json:"type,omitempty"`
	DisplayIDSource IdentitySource `json:"-"`
	NameSource      IdentitySource `json:"-"`
	TypeSource      IdentitySource `json:"-"`
}

// ResolvedOwnerView is an ownership edge enriched with the current identity of its target.
type ResolvedOwnerView struct {
	Edge       OwnershipEdge  `json:"edge"`
	Enrichment *OwnerIdentity `json:"-"`        // nil for unlinked edges and dangling references
	Dangling   bool           `json:"dangling"` // Linked target id had no matching record
}

// Expandable reports whether the view points at an entity whose own owners can be loaded.
// A dangling entity reference has no record to expand.
func (v ResolvedOwnerView) Expandable() bool {
	return v.Edge.Target.Kind() == TargetEntity && !v.Dangling
}

// Identity returns the best identity available from the view alone (enrichment, then edge
// snapshot, then placeholder). Detail records are layered on top by the identity resolver.
func (v ResolvedOwnerView) Identity() OwnerIdentity {
	edge := v.Edge
	if !edge.Target.IsLinked() {
		// Free-text owners have no fallback chain: name, else title.
		name := edge.NameSnapshot
		if name == "" {
			name = edge.Title
		}
		return OwnerIdentity{
			Name:            name,
			DisplayID:       edge.DisplayIDSnapshot,
			Type:            edge.MemberType,
			NameSource:      IdentitySourceEdgeSnapshot,
			DisplayIDSource: IdentitySourceEdgeSnapshot,
			TypeSource:      IdentitySourceEdgeSnapshot,
		}
	}

	id := OwnerIdentity{
		ID:              edge.Target.ID(),
		Name:            PlaceholderOwnerName,
		DisplayID:       PlaceholderOwnerDisplayID,
		Type:            edge.MemberType,
		NameSource:      IdentitySourcePlaceholder,
		DisplayIDSource: IdentitySourcePlaceholder,
		TypeSource:      IdentitySourceEdgeSnapshot,
	}
	if edge.MemberType == "" {
		id.TypeSource = IdentitySourcePlaceholder
	}
	if edge.NameSnapshot != "" {
		id.Name, id.NameSource = edge.NameSnapshot, IdentitySourceEdgeSnapshot
	}
	if edge.DisplayIDSnapshot != "" {
		id.DisplayID, id.DisplayIDSource = edge.DisplayIDSnapshot, IdentitySourceEdgeSnapshot
	}
	if e := v.Enrichment; e != nil {
		if e.Name != "" {
			id.Name, id.NameSource = e.Name, IdentitySourceEnrichment
		}
		if e.DisplayID != "" {
			id.DisplayID, id.DisplayIDSource = e.DisplayID, IdentitySourceEnrichment
		}
		if e.Type != "" {
			id.Type, id.TypeSource = e.Type, IdentitySourceEnrichment
		}
	}
	return id
}

// NodeState is the lazy-expansion state of one entity in a traversal session.
type NodeState string

const (
	NodeStateUnloaded NodeState = "unloaded"
	NodeStateLoading  NodeState = "loading"
	NodeStateLoaded   NodeState = "loaded"
	NodeStateFailed   NodeState = "failed"
)

// ExpansionStatus is the outcome of one expand call.
type ExpansionStatus string

const (
	ExpansionLoaded        ExpansionStatus = "loaded"
	ExpansionCycleDetected ExpansionStatus = "cycle_detected" // Terminal, expected state; not an error
	ExpansionFailed        ExpansionStatus = "failed"         // Node fetch failed; retry is a fresh call
)

// ExpansionResult is returned by an expand call.
type ExpansionResult struct {
	NodeID    uuid.UUID
	Status    ExpansionStatus
	Owners    []ResolvedOwnerView
	ChildPath AncestorPath // Path to pass when expanding this node's children
	FromCache bool
	Err       error
}

// AncestorPath is an immutable ordered set of the entity ids visited from the traversal root
// down to (not including) the node being expanded.
type AncestorPath struct {
	ids []uuid.UUID
	set map[uuid.UUID]struct{}
}

// NewAncestorPath builds a path from root-first ids. Duplicate ids are kept only once.
func NewAncestorPath(ids ...uuid.UUID) AncestorPath {
	p := AncestorPath{}
	for _, id := range ids {
		p = p.With(id)
	}
	return p
}

// Contains reports whether id is already on the path.
func (p AncestorPath) Contains(id uuid.UUID) bool {
	_, ok := p.set[id]
	return ok
}

// With returns a new path with id appended. The receiver is not modified.
func (p AncestorPath) With(id uuid.UUID) AncestorPath {
	if p.Contains(id) {
		return p
	}
	ids := make([]uuid.UUID, len(p.ids), len(p.ids)+1)
	copy(ids, p.ids)
	ids = append(ids, id)

	set := make(map[uuid.UUID]struct{}, len(ids))
	for _, v := range ids {
		set[v] = struct{}{}
	}
	return AncestorPath{ids: ids, set: set}
}

// IDs returns a copy of the path, root first.
func (p AncestorPath) IDs() []uuid.UUID {
	out := make([]uuid.UUID, len(p.ids))
	copy(out, p.ids)
	return out
}

// Len returns the number of ids on the path.
func (p AncestorPath) Len() int { return len(p.ids) }
