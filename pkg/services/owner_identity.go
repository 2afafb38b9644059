package services

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ownership-engine/pkg/models"
)

// IdentityResolver picks an owner's display fields from the sources available for it.
// Precedence, evaluated per field: Detail (3) > Enrichment (2) > EdgeSnapshot (1) > Placeholder (0).
// An empty value never replaces a non-empty one, whatever its source.
type IdentityResolver interface {
	// Resolve returns the identity for view, layering detail on top when it is non-nil.
	// Unlinked views ignore detail and use the edge's own name and title.
	Resolve(view models.ResolvedOwnerView, detail *models.OwnerIdentity) models.OwnerIdentity

	// CanReplace reports whether a value from incoming may replace one from existing.
	CanReplace(existing, incoming models.IdentitySource) bool
}

type identityResolver struct{}

// NewIdentityResolver creates a new IdentityResolver.
func NewIdentityResolver() IdentityResolver {
	return &identityResolver{}
}

var _ IdentityResolver = (*identityResolver)(nil)

func (r *identityResolver) CanReplace(existing, incoming models.IdentitySource) bool {
	// Equal rank may replace so a newer record from the same tier wins.
	return incoming >= existing
}

func (r *identityResolver) Resolve(view models.ResolvedOwnerView, detail *models.OwnerIdentity) models.OwnerIdentity {
	identity := view.Identity()
	if !view.Edge.Target.IsLinked() || detail == nil {
		return identity
	}
	return mergeIdentity(r, identity, *detail)
}

// EntityDetailIdentity converts an entity's own record into a detail-ranked identity.
func EntityDetailIdentity(e models.LegalEntity) models.OwnerIdentity {
	return models.OwnerIdentity{
		ID:              e.ID,
		DisplayID:       e.DisplayID,
		Name:            e.Name,
		Type:            e.Type,
		DisplayIDSource: models.IdentitySourceDetail,
		NameSource:      models.IdentitySourceDetail,
		TypeSource:      models.IdentitySourceDetail,
	}
}

// BorrowerDetailIdentity converts a borrower's own record into a detail-ranked identity.
// Borrowers carry no type; the edge's member type is kept.
func BorrowerDetailIdentity(b models.Borrower) models.OwnerIdentity {
	return models.OwnerIdentity{
		ID:              b.ID,
		DisplayID:       b.DisplayID,
		Name:            b.Name,
		DisplayIDSource: models.IdentitySourceDetail,
		NameSource:      models.IdentitySourceDetail,
		TypeSource:      models.IdentitySourceDetail,
	}
}

// IdentityRegistry accumulates the best known identity per owner id.
// Observations may arrive in any order; a field never regresses to a lower-ranked source,
// so replaying the same observations yields the same result.
type IdentityRegistry struct {
	mu       sync.RWMutex
	resolver IdentityResolver
	known    map[uuid.UUID]models.OwnerIdentity
}

// NewIdentityRegistry creates an empty IdentityRegistry.
func NewIdentityRegistry(resolver IdentityResolver) *IdentityRegistry {
	if resolver == nil {
		resolver = NewIdentityResolver()
	}
	return &IdentityRegistry{
		resolver: resolver,
		known:    make(map[uuid.UUID]models.OwnerIdentity),
	}
}

// Observe merges identity into the registry under identity.ID and returns the merged result.
func (r *IdentityRegistry) Observe(identity models.OwnerIdentity) models.OwnerIdentity {
	if identity.ID == uuid.Nil {
		return identity
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.known[identity.ID]
	if !ok {
		identity = withoutEmptySources(identity)
		r.known[identity.ID] = identity
		return identity
	}

	merged := mergeIdentity(r.resolver, current, identity)
	r.known[identity.ID] = merged
	return merged
}

// Get returns the best known identity for id.
func (r *IdentityRegistry) Get(id uuid.UUID) (models.OwnerIdentity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identity, ok := r.known[id]
	return identity, ok
}

// Resolve returns the identity for view using the best known identity of its target.
func (r *IdentityRegistry) Resolve(view models.ResolvedOwnerView) models.OwnerIdentity {
	if !view.Edge.Target.IsLinked() {
		return view.Identity()
	}
	known, ok := r.Get(view.Edge.Target.ID())
	if !ok {
		return r.resolver.Resolve(view, nil)
	}
	return r.resolver.Resolve(view, &known)
}

// withoutEmptySources ranks every empty field as a placeholder so a later source can fill it.
func withoutEmptySources(identity models.OwnerIdentity) models.OwnerIdentity {
	if identity.Name == "" {
		identity.NameSource = models.IdentitySourcePlaceholder
	}
	if identity.DisplayID == "" {
		identity.DisplayIDSource = models.IdentitySourcePlaceholder
	}
	if identity.Type == "" {
		identity.TypeSource = models.IdentitySourcePlaceholder
	}
	return identity
}

// mergeIdentity layers incoming onto current field by field.
func mergeIdentity(resolver IdentityResolver, current, incoming models.OwnerIdentity) models.OwnerIdentity {
	if incoming.Name != "" && resolver.CanReplace(current.NameSource, incoming.NameSource) {
		current.Name, current.NameSource = incoming.Name, incoming.NameSource
	}
	if incoming.DisplayID != "" && resolver.CanReplace(current.DisplayIDSource, incoming.DisplayIDSource) {
		current.DisplayID, current.DisplayIDSource = incoming.DisplayID, incoming.DisplayIDSource
	}
	if incoming.Type != "" && resolver.CanReplace(current.TypeSource, incoming.TypeSource) {
		current.Type, current.TypeSource = incoming.Type, incoming.TypeSource
	}
	if current.ID == uuid.Nil {
		current.ID = incoming.ID
	}
	return current
}
