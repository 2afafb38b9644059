package services

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/ekaya-inc/ownership-engine/pkg/models"
)

func TestIdentityResolver_CanReplace(t *testing.T) {
	r := NewIdentityResolver()

	tests := []struct {
		name     string
		existing models.IdentitySource
		incoming models.IdentitySource
		want     bool
	}{
		{"enrichment cannot replace detail", models.IdentitySourceDetail, models.IdentitySourceEnrichment, false},
		{"enrichment replaces snapshot", models.IdentitySourceEdgeSnapshot, models.IdentitySourceEnrichment, true},
		{"snapshot cannot replace enrichment", models.IdentitySourceEnrichment, models.IdentitySourceEdgeSnapshot, false},
		{"anything replaces placeholder", models.IdentitySourcePlaceholder, models.IdentitySourceEdgeSnapshot, true},
		{"equal rank replaces", models.IdentitySourceDetail, models.IdentitySourceDetail, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.CanReplace(tt.existing, tt.incoming))
		})
	}
}

func TestIdentityResolver_Resolve(t *testing.T) {
	r := NewIdentityResolver()
	target := uuid.New()

	view := models.ResolvedOwnerView{
		Edge: models.OwnershipEdge{
			Target:            models.LinkedEntity(target),
			NameSnapshot:      "Snapshot LLC",
			DisplayIDSnapshot: "ENT-1",
			MemberType:        models.MemberTypeEntity,
		},
		Enrichment: &models.OwnerIdentity{ID: target, Name: "Enriched LLC", DisplayID: "ENT-2"},
	}

	t.Run("without detail uses enrichment", func(t *testing.T) {
		id := r.Resolve(view, nil)
		assert.Equal(t, "Enriched LLC", id.Name)
		assert.Equal(t, "ENT-2", id.DisplayID)
	})

	t.Run("detail wins per field", func(t *testing.T) {
		detail := EntityDetailIdentity(models.LegalEntity{ID: target, Name: "Detail LLC", Type: "llc"})
		id := r.Resolve(view, &detail)
		assert.Equal(t, "Detail LLC", id.Name)
		assert.Equal(t, models.IdentitySourceDetail, id.NameSource)
		// Empty detail display id keeps the enrichment value.
		assert.Equal(t, "ENT-2", id.DisplayID)
		assert.Equal(t, models.IdentitySourceEnrichment, id.DisplayIDSource)
		assert.Equal(t, "llc", id.Type)
	})

	t.Run("unlinked ignores detail", func(t *testing.T) {
		unlinked := models.ResolvedOwnerView{Edge: models.OwnershipEdge{Title: "Employee Pool"}}
		detail := EntityDetailIdentity(models.LegalEntity{ID: target, Name: "Detail LLC"})
		assert.Equal(t, "Employee Pool", r.Resolve(unlinked, &detail).Name)
	})

	t.Run("idempotent", func(t *testing.T) {
		detail := BorrowerDetailIdentity(models.Borrower{ID: target, Name: "Jane Roe", DisplayID: "B-7"})
		first := r.Resolve(view, &detail)
		assert.Equal(t, first, r.Resolve(view, &detail))
	})
}

func TestIdentityRegistry_MonotonicInAnyOrder(t *testing.T) {
	id := uuid.New()
	detail := EntityDetailIdentity(models.LegalEntity{ID: id, DisplayID: "ENT-200", Name: "Live Name LP", Type: "partnership"})
	enrichment := enrichmentIdentity(models.OwnerIdentity{ID: id, DisplayID: "ENT-200", Name: "Stale Name LP"})

	orders := map[string][]models.OwnerIdentity{
		"detail first":     {detail, enrichment},
		"enrichment first": {enrichment, detail},
		"repeated":         {enrichment, detail, enrichment, detail, enrichment},
	}

	for name, observations := range orders {
		t.Run(name, func(t *testing.T) {
			reg := NewIdentityRegistry(nil)
			for _, o := range observations {
				reg.Observe(o)
			}
			got, ok := reg.Get(id)
			assert.True(t, ok)
			assert.Equal(t, "Live Name LP", got.Name)
			assert.Equal(t, models.IdentitySourceDetail, got.NameSource)
			assert.Equal(t, "partnership", got.Type)
		})
	}
}

func TestIdentityRegistry_Resolve(t *testing.T) {
	reg := NewIdentityRegistry(nil)
	target := uuid.New()
	view := models.ResolvedOwnerView{
		Edge:     models.OwnershipEdge{Target: models.LinkedBorrower(target)},
		Dangling: true,
	}

	assert.Equal(t, models.PlaceholderOwnerName, reg.Resolve(view).Name)

	reg.Observe(BorrowerDetailIdentity(models.Borrower{ID: target, Name: "Jane Roe", DisplayID: "B-7"}))
	got := reg.Resolve(view)
	assert.Equal(t, "Jane Roe", got.Name)
	assert.Equal(t, "B-7", got.DisplayID)

	// Nil ids are never stored.
	reg.Observe(models.OwnerIdentity{Name: "nobody"})
	_, ok := reg.Get(uuid.Nil)
	assert.False(t, ok)
}

func TestIdentityRegistry_EmptyFieldsStayFillable(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name        string
		first       models.OwnerIdentity
		emptySource func(models.OwnerIdentity) models.IdentitySource
		later       models.OwnerIdentity
		want        models.OwnerIdentity
	}{
		{
			name:        "borrower record has no type",
			first:       BorrowerDetailIdentity(models.Borrower{ID: id, DisplayID: "B-7", Name: "Jane Roe"}),
			emptySource: func(o models.OwnerIdentity) models.IdentitySource { return o.TypeSource },
			later:       enrichmentIdentity(models.OwnerIdentity{ID: id, DisplayID: "B-OLD", Name: "J. Roe", Type: "individual"}),
			want: models.OwnerIdentity{
				ID: id, DisplayID: "B-7", Name: "Jane Roe", Type: "individual",
				DisplayIDSource: models.IdentitySourceDetail,
				NameSource:      models.IdentitySourceDetail,
				TypeSource:      models.IdentitySourceEnrichment,
			},
		},
		{
			name:        "entity record has no display id",
			first:       EntityDetailIdentity(models.LegalEntity{ID: id, Name: "Acme LLC", Type: "llc"}),
			emptySource: func(o models.OwnerIdentity) models.IdentitySource { return o.DisplayIDSource },
			later:       enrichmentIdentity(models.OwnerIdentity{ID: id, DisplayID: "ENT-5", Name: "Acme Old LLC"}),
			want: models.OwnerIdentity{
				ID: id, DisplayID: "ENT-5", Name: "Acme LLC", Type: "llc",
				DisplayIDSource: models.IdentitySourceEnrichment,
				NameSource:      models.IdentitySourceDetail,
				TypeSource:      models.IdentitySourceDetail,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewIdentityRegistry(nil)

			first := reg.Observe(tt.first)
			assert.Equal(t, models.IdentitySourcePlaceholder, tt.emptySource(first))

			assert.Equal(t, tt.want, reg.Observe(tt.later))
			got, ok := reg.Get(id)
			assert.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

