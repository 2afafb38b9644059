package models

import (
	"time"

	"github.com/google/uuid"
)

// Member types recorded on ownership edges.
const (
	MemberTypeIndividual = "individual" // Owner is a person (borrower-linked or free text)
	MemberTypeEntity     = "entity"     // Owner is another legal entity
)

// Percent bounds for a stated ownership stake.
const (
	MinOwnershipPercent = 0.0
	MaxOwnershipPercent = 100.0
)

// LegalEntity is a tracked company, trust or partnership.
// Stored in legal_entities table. Read-only to the ownership engine.
type LegalEntity struct {
	ID        uuid.UUID `json:"id"`
	OrgID     uuid.UUID `json:"org_id"`
	DisplayID string    `json:"display_id"` // Human-facing id, e.g. "ENT-100"
	Name      string    `json:"name"`
	Type      string    `json:"type"` // "llc", "corporation", "trust", ...
}

// Borrower is an individual owner linked to a borrower record.
// Stored in borrowers table. Read-only to the ownership engine.
type Borrower struct {
	ID        uuid.UUID `json:"id"`
	OrgID     uuid.UUID `json:"org_id"`
	DisplayID string    `json:"display_id"` // Human-facing id, e.g. "B-7"
	Name      string    `json:"name"`
}

// OwnerTargetKind discriminates what an ownership edge points at.
type OwnerTargetKind int

const (
	// TargetUnlinked is a free-text owner with no tracked record.
	TargetUnlinked OwnerTargetKind = iota
	// TargetBorrower links to a borrower record.
	TargetBorrower
	// TargetEntity links to another legal entity and can be expanded.
	TargetEntity
)

// String returns the wire name of the kind.
func (k OwnerTargetKind) String() string {
	switch k {
	case TargetBorrower:
		return "borrower"
	case TargetEntity:
		return "entity"
	default:
		return "unlinked"
	}
}

// OwnerTarget is the tagged variant {Unlinked, LinkedBorrower(id), LinkedEntity(id)}.
// The zero value is Unlinked.
type OwnerTarget struct {
	kind OwnerTargetKind
	id   uuid.UUID
}

// UnlinkedTarget returns the free-text target.
func UnlinkedTarget() OwnerTarget {
	return OwnerTarget{kind: TargetUnlinked}
}

// LinkedBorrower returns a target pointing at a borrower.
func LinkedBorrower(id uuid.UUID) OwnerTarget {
	return OwnerTarget{kind: TargetBorrower, id: id}
}

// LinkedEntity returns a target pointing at a legal entity.
func LinkedEntity(id uuid.UUID) OwnerTarget {
	return OwnerTarget{kind: TargetEntity, id: id}
}

// NewOwnerTarget builds a target from the two nullable store columns.
// When both ids are set the entity link wins and ok is false so the caller can report bad data.
func NewOwnerTarget(entityID, borrowerID *uuid.UUID) (target OwnerTarget, ok bool) {
	hasEntity := entityID != nil && *entityID != uuid.Nil
	hasBorrower := borrowerID != nil && *borrowerID != uuid.Nil

	switch {
	case hasEntity && hasBorrower:
		return LinkedEntity(*entityID), false
	case hasEntity:
		return LinkedEntity(*entityID), true
	case hasBorrower:
		return LinkedBorrower(*borrowerID), true
	default:
		return UnlinkedTarget(), true
	}
}

// Kind returns the variant tag.
func (t OwnerTarget) Kind() OwnerTargetKind { return t.kind }

// ID returns the linked id, or uuid.Nil for unlinked targets.
func (t OwnerTarget) ID() uuid.UUID { return t.id }

// IsLinked reports whether the target resolves to a tracked record.
func (t OwnerTarget) IsLinked() bool { return t.kind != TargetUnlinked }

// EntityID returns the entity id when the target is an entity.
func (t OwnerTarget) EntityID() (uuid.UUID, bool) {
	if t.kind != TargetEntity {
		return uuid.Nil, false
	}
	return t.id, true
}

// BorrowerID returns the borrower id when the target is a borrower.
func (t OwnerTarget) BorrowerID() (uuid.UUID, bool) {
	if t.kind != TargetBorrower {
		return uuid.Nil, false
	}
	return t.id, true
}

// OwnershipEdge is one row of an entity's cap table.
// Stored in entity_ownership_edges table. Never mutated by the ownership engine.
type OwnershipEdge struct {
	ID                uuid.UUID   `json:"id"`
	OwningEntityID    uuid.UUID   `json:"owning_entity_id"` // The entity being owned
	Target            OwnerTarget `json:"-"`
	NameSnapshot      string      `json:"name_snapshot"`               // Owner name captured when the edge was written
	DisplayIDSnapshot string      `json:"display_id_snapshot"`         // Owner display id captured when the edge was written
	Title             string      `json:"title"`                       // e.g. "Managing Member"
	OwnershipPercent  *float64    `json:"ownership_percent,omitempty"` // nil when unknown
	MemberType        string      `json:"member_type"`                 // "individual" or "entity"
	CreatedAt         time.Time   `json:"created_at"`
}

// NormalizePercent returns the percent if it lies within [0,100] and nil otherwise.
func NormalizePercent(p *float64) *float64 {
	if p == nil {
		return nil
	}
	if *p < MinOwnershipPercent || *p > MaxOwnershipPercent {
		return nil
	}
	v := *p
	return &v
}
