package repositories

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ownership-engine/pkg/models"
)

// MemoryFixture is the YAML shape of an ownership graph loaded into a MemoryRecordStore.
// Records reference each other by display id. A reference to a display id that is not
// declared yields a dangling edge, which is useful for exercising placeholders.
type MemoryFixture struct {
	Entities []struct {
		DisplayID string `yaml:"display_id"`
		Name      string `yaml:"name"`
		Type      string `yaml:"type"`
	} `yaml:"entities"`
	Borrowers []struct {
		DisplayID string `yaml:"display_id"`
		Name      string `yaml:"name"`
	} `yaml:"borrowers"`
	Edges []struct {
		Owned      string   `yaml:"owned"`              // display id of the owned entity
		Entity     string   `yaml:"entity,omitempty"`   // owner entity display id
		Borrower   string   `yaml:"borrower,omitempty"` // owner borrower display id
		Name       string   `yaml:"name,omitempty"`     // name snapshot
		Title      string   `yaml:"title,omitempty"`
		Percent    *float64 `yaml:"percent,omitempty"`
		MemberType string   `yaml:"member_type,omitempty"`
	} `yaml:"edges"`
}

// FixtureID derives the stable record id of the fixture entity with displayID.
func FixtureID(displayID string) uuid.UUID {
	return fixtureID(models.TargetEntity, displayID)
}

// BorrowerFixtureID derives the stable record id of the fixture borrower with displayID.
// Entities and borrowers sharing a display id get distinct ids.
func BorrowerFixtureID(displayID string) uuid.UUID {
	return fixtureID(models.TargetBorrower, displayID)
}

func fixtureID(kind models.OwnerTargetKind, displayID string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("ownership-fixture:"+kind.String()+":"+displayID))
}

// LoadMemoryFixture decodes a YAML fixture into a new MemoryRecordStore.
// Edges get increasing creation times in file order, so file order is display order.
func LoadMemoryFixture(r io.Reader) (*MemoryRecordStore, error) {
	var fx MemoryFixture
	if err := yaml.NewDecoder(r).Decode(&fx); err != nil {
		return nil, fmt.Errorf("failed to decode fixture: %w", err)
	}

	store := NewMemoryRecordStore()
	for _, e := range fx.Entities {
		if e.DisplayID == "" {
			return nil, fmt.Errorf("fixture entity without display_id")
		}
		store.PutEntity(models.LegalEntity{
			ID:        FixtureID(e.DisplayID),
			DisplayID: e.DisplayID,
			Name:      e.Name,
			Type:      e.Type,
		})
	}
	for _, b := range fx.Borrowers {
		if b.DisplayID == "" {
			return nil, fmt.Errorf("fixture borrower without display_id")
		}
		store.PutBorrower(models.Borrower{
			ID:        BorrowerFixtureID(b.DisplayID),
			DisplayID: b.DisplayID,
			Name:      b.Name,
		})
	}

	base := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	for i, e := range fx.Edges {
		if e.Owned == "" {
			return nil, fmt.Errorf("fixture edge %d has no owned entity", i)
		}
		if e.Entity != "" && e.Borrower != "" {
			return nil, fmt.Errorf("fixture edge %d links both an entity and a borrower", i)
		}

		edge := models.OwnershipEdge{
			OwningEntityID:   FixtureID(e.Owned),
			NameSnapshot:     e.Name,
			Title:            e.Title,
			OwnershipPercent: e.Percent,
			MemberType:       e.MemberType,
			CreatedAt:        base.Add(time.Duration(i) * time.Second),
		}
		switch {
		case e.Entity != "":
			edge.Target = models.LinkedEntity(FixtureID(e.Entity))
			edge.DisplayIDSnapshot = e.Entity
			if edge.MemberType == "" {
				edge.MemberType = models.MemberTypeEntity
			}
		case e.Borrower != "":
			edge.Target = models.LinkedBorrower(BorrowerFixtureID(e.Borrower))
			edge.DisplayIDSnapshot = e.Borrower
		}
		if edge.MemberType == "" {
			edge.MemberType = models.MemberTypeIndividual
		}
		store.AddEdge(edge)
	}

	return store, nil
}
