package service

import (
	"bytes"

	"github.com/argumentlab/dialectic/internal/domain"
	"github.com/google/uuid"
)

// unionFind is a path-compressing disjoint-set over node ids.
type unionFind struct {
	parent map[uuid.UUID]uuid.UUID
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[uuid.UUID]uuid.UUID)}
}

func (u *unionFind) add(id uuid.UUID) {
	if _, ok := u.parent[id]; !ok {
		u.parent[id] = id
	}
}

func (u *unionFind) find(id uuid.UUID) uuid.UUID {
	root := id
	for u.parent[root] != root {
		root = u.parent[root]
	}
	for u.parent[id] != root {
		u.parent[id], id = root, u.parent[id]
	}
	return root
}

func (u *unionFind) union(a, b uuid.UUID) {
	u.add(a)
	u.add(b)
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[rb] = ra
	}
}

// componentResult is the connected-component assignment for one run:
// component ids per I-Node plus the schemes that first joined two
// previously separate components.
type componentResult struct {
	// byNode maps each I-Node attached to at least one scheme to its
	// component id; unattached nodes have no component.
	byNode  map[uuid.UUID]uuid.UUID
	bridges []domain.BridgeUpdate
}

// computeComponents derives undirected connected components over I-Nodes
// connected through shared S-Nodes. Component ids are deterministic: each
// component is named after its smallest member id, so an unchanged graph
// reproduces identical assignments across runs.
func computeComponents(inodes []domain.INode, snodes []domain.SNode, edges []domain.Edge) *componentResult {
	prior := make(map[uuid.UUID]*uuid.UUID, len(inodes))
	for i := range inodes {
		prior[inodes[i].ID] = inodes[i].ComponentID
	}
	alreadyBridge := make(map[uuid.UUID]bool, len(snodes))
	for i := range snodes {
		alreadyBridge[snodes[i].ID] = snodes[i].IsBridge
	}

	premisesBy := make(map[uuid.UUID][]uuid.UUID)
	conclusionBy := make(map[uuid.UUID]uuid.UUID)
	membersBy := make(map[uuid.UUID][]uuid.UUID)
	for _, e := range edges {
		if e.TargetINodeID == nil {
			continue
		}
		membersBy[e.SchemeID] = append(membersBy[e.SchemeID], *e.TargetINodeID)
		switch e.Role {
		case domain.RolePremise:
			premisesBy[e.SchemeID] = append(premisesBy[e.SchemeID], *e.TargetINodeID)
		case domain.RoleConclusion:
			conclusionBy[e.SchemeID] = *e.TargetINodeID
		}
	}

	uf := newUnionFind()
	res := &componentResult{byNode: make(map[uuid.UUID]uuid.UUID)}

	for schemeID, members := range membersBy {
		for _, id := range members {
			uf.add(id)
		}
		for i := 1; i < len(members); i++ {
			uf.union(members[0], members[i])
		}

		// A scheme whose premise and conclusion previously sat in two
		// different persisted components has just connected two
		// independent discussions.
		if alreadyBridge[schemeID] {
			continue
		}
		conclusion, ok := conclusionBy[schemeID]
		if !ok {
			continue
		}
		conclComp := prior[conclusion]
		if conclComp == nil {
			continue
		}
		for _, premise := range premisesBy[schemeID] {
			premComp := prior[premise]
			if premComp == nil || *premComp == *conclComp {
				continue
			}
			res.bridges = append(res.bridges, domain.BridgeUpdate{
				SchemeID:     schemeID,
				ComponentAID: *premComp,
				ComponentBID: *conclComp,
			})
			break
		}
	}

	// Name each component after its smallest member.
	minByRoot := make(map[uuid.UUID]uuid.UUID)
	for id := range uf.parent {
		root := uf.find(id)
		current, ok := minByRoot[root]
		if !ok || lessUUID(id, current) {
			minByRoot[root] = id
		}
	}
	for id := range uf.parent {
		res.byNode[id] = minByRoot[uf.find(id)]
	}
	return res
}

func lessUUID(a, b uuid.UUID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}
