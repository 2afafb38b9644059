package services

import (
	"github.com/google/uuid"

	"github.com/ekaya-inc/ownership-engine/pkg/models"
)

// TreeMarker flags how a tree node may be interacted with.
type TreeMarker string

const (
	MarkerExpandable TreeMarker = "expandable" // An entity whose owners can be loaded
	MarkerCycle      TreeMarker = "cycle"      // Already on the path from the root; not expandable
	MarkerFailed     TreeMarker = "failed"     // Last fetch failed; expanding again retries
	MarkerDangling   TreeMarker = "dangling"   // Linked target has no record
	MarkerCollapsed  TreeMarker = "collapsed"  // Loaded but hidden
)

// OwnershipTreeNode is one row of the materialized ownership tree.
// The root has no edge; every other node is an owner of its parent.
type OwnershipTreeNode struct {
	EntityID         uuid.UUID            `json:"entity_id,omitempty"`
	EdgeID           uuid.UUID            `json:"edge_id,omitempty"`
	Identity         models.OwnerIdentity `json:"identity"`
	TargetKind       string               `json:"target_kind"`
	Title            string               `json:"title,omitempty"`
	OwnershipPercent *float64             `json:"ownership_percent,omitempty"`
	MemberType       string               `json:"member_type,omitempty"`
	State            models.NodeState     `json:"state,omitempty"`
	Markers          []TreeMarker         `json:"markers,omitempty"`
	Children         []*OwnershipTreeNode `json:"children,omitempty"`
}

// HasMarker reports whether n carries marker m.
func (n *OwnershipTreeNode) HasMarker(m TreeMarker) bool {
	for _, v := range n.Markers {
		if v == m {
			return true
		}
	}
	return false
}

// treeFrame is a pending entity whose cached owners still need to be attached.
type treeFrame struct {
	node *OwnershipTreeNode
	id   uuid.UUID
	path models.AncestorPath // ids above id
}

// BuildTree renders the part of the session's graph that is loaded and not collapsed,
// starting at rootID. It never fetches. Cycles are cut at the first repeated entity on
// each branch using that branch's ancestor path.
func BuildTree(session *OwnershipSession, rootID uuid.UUID) *OwnershipTreeNode {
	root := &OwnershipTreeNode{
		EntityID:   rootID,
		Identity:   rootIdentity(session, rootID),
		TargetKind: models.TargetEntity.String(),
		MemberType: models.MemberTypeEntity,
	}
	if !markEntity(session, root, rootID) {
		return root
	}

	stack := []treeFrame{{node: root, id: rootID, path: models.NewAncestorPath()}}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		owners, ok := session.GetCachedChildren(current.id)
		if !ok {
			continue
		}
		childPath := current.path.With(current.id)

		current.node.Children = make([]*OwnershipTreeNode, 0, len(owners))
		for _, view := range owners {
			child := &OwnershipTreeNode{
				EdgeID:           view.Edge.ID,
				Identity:         session.ResolveIdentity(view),
				TargetKind:       view.Edge.Target.Kind().String(),
				Title:            view.Edge.Title,
				OwnershipPercent: view.Edge.OwnershipPercent,
				MemberType:       view.Edge.MemberType,
			}
			if view.Edge.Target.IsLinked() {
				child.EntityID = view.Edge.Target.ID()
			}
			if view.Dangling {
				child.Markers = append(child.Markers, MarkerDangling)
			}
			current.node.Children = append(current.node.Children, child)

			if !view.Expandable() {
				continue
			}
			targetID := view.Edge.Target.ID()
			if childPath.Contains(targetID) {
				child.Markers = append(child.Markers, MarkerCycle)
				continue
			}
			if markEntity(session, child, targetID) {
				stack = append(stack, treeFrame{node: child, id: targetID, path: childPath})
			}
		}
	}

	return root
}

// markEntity sets state and markers for an expandable entity node and reports whether its
// children should be attached.
func markEntity(session *OwnershipSession, node *OwnershipTreeNode, id uuid.UUID) bool {
	node.State = session.State(id)
	node.Markers = append(node.Markers, MarkerExpandable)

	switch node.State {
	case models.NodeStateFailed:
		node.Markers = append(node.Markers, MarkerFailed)
	case models.NodeStateLoaded:
		if session.IsCollapsed(id) {
			node.Markers = append(node.Markers, MarkerCollapsed)
			return false
		}
		return true
	}
	return false
}

func rootIdentity(session *OwnershipSession, rootID uuid.UUID) models.OwnerIdentity {
	if identity, ok := session.identities.Get(rootID); ok {
		return identity
	}
	return models.OwnerIdentity{
		ID:        rootID,
		Name:      models.PlaceholderOwnerName,
		DisplayID: models.PlaceholderOwnerDisplayID,
	}
}

// Walk visits n and its descendants depth first, parents before children, in owner order.
func (n *OwnershipTreeNode) Walk(fn func(node *OwnershipTreeNode, depth int)) {
	type item struct {
		node  *OwnershipTreeNode
		depth int
	}
	stack := []item{{n, 0}}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		fn(current.node, current.depth)
		for i := len(current.node.Children) - 1; i >= 0; i-- {
			stack = append(stack, item{current.node.Children[i], current.depth + 1})
		}
	}
}
