package service

import (
	"github.com/argumentlab/dialectic/internal/domain"
	"github.com/google/uuid"
)

const (
	// MaxFixpointIterations bounds the rank iteration; hitting the cap is
	// a recoverable condition and the last-iteration values are kept.
	MaxFixpointIterations = 100
	// DefeatEpsilon is the margin inside which a node keeps its previous
	// defeat state, to prevent oscillation on exact ties.
	DefeatEpsilon = 1e-4
	// RankTolerance is the max per-node rank movement below which the
	// iteration is considered stable.
	RankTolerance = 1e-6
	// TransmissionFactor is the share of confidence x premise rank a
	// scheme passes to its conclusion.
	TransmissionFactor = 1.0
)

// propScheme is one inference step reduced to its propagation-relevant
// shape: fully resolved I-Node endpoints only.
type propScheme struct {
	attack     bool
	confidence float64
	premises   []uuid.UUID
	conclusion uuid.UUID
}

// propGraph is the arena for one fixpoint run. All state is addressed by
// node id in flat maps; nothing here is shared between runs.
type propGraph struct {
	nodes   []uuid.UUID
	base    map[uuid.UUID]float64
	schemes []propScheme
}

// fixpointResult carries the stabilized (or best-available) ranks and
// defeat states.
type fixpointResult struct {
	rank       map[uuid.UUID]float64
	defeated   map[uuid.UUID]bool
	iterations int
	converged  bool
}

// buildPropGraph reduces the loaded hypergraph to the propagation arena.
// Schemes missing a resolved I-Node conclusion or any I-Node premises are
// inert and excluded; ghost-node premises carry no rank.
func buildPropGraph(inodes []domain.INode, snodes []domain.SNode, edges []domain.Edge) *propGraph {
	g := &propGraph{base: make(map[uuid.UUID]float64, len(inodes))}
	for i := range inodes {
		g.nodes = append(g.nodes, inodes[i].ID)
		g.base[inodes[i].ID] = float64(inodes[i].BaseWeight)
	}

	premisesBy := make(map[uuid.UUID][]uuid.UUID)
	conclusionBy := make(map[uuid.UUID]uuid.UUID)
	for _, e := range edges {
		if e.TargetINodeID == nil {
			continue
		}
		switch e.Role {
		case domain.RolePremise:
			premisesBy[e.SchemeID] = append(premisesBy[e.SchemeID], *e.TargetINodeID)
		case domain.RoleConclusion:
			conclusionBy[e.SchemeID] = *e.TargetINodeID
		}
	}

	for i := range snodes {
		sn := &snodes[i]
		conclusion, ok := conclusionBy[sn.ID]
		if !ok {
			continue
		}
		premises := premisesBy[sn.ID]
		if len(premises) == 0 {
			continue
		}
		g.schemes = append(g.schemes, propScheme{
			attack:     sn.Direction == domain.DirectionAttack,
			confidence: float64(sn.Confidence),
			premises:   premises,
			conclusion: conclusion,
		})
	}
	return g
}

// runFixpoint iterates ranks to a fixed point. Each node starts at its
// base weight; a scheme whose premises are all undefeated transmits
// confidence x weakest premise rank to its conclusion, positively for
// SUPPORT and negatively for ATTACK. A node is defeated when incoming
// attack outweighs its rank plus incoming support by more than the
// epsilon margin. Updates are synchronous per iteration, so results are
// deterministic for a fixed graph.
func runFixpoint(g *propGraph) *fixpointResult {
	res := &fixpointResult{
		rank:     make(map[uuid.UUID]float64, len(g.nodes)),
		defeated: make(map[uuid.UUID]bool, len(g.nodes)),
	}
	for _, id := range g.nodes {
		res.rank[id] = g.base[id]
	}

	for it := 0; it < MaxFixpointIterations; it++ {
		support := make(map[uuid.UUID]float64, len(g.nodes))
		attack := make(map[uuid.UUID]float64, len(g.nodes))

		for _, sc := range g.schemes {
			weight := schemeWeight(sc, res)
			if weight <= 0 {
				continue
			}
			if sc.attack {
				attack[sc.conclusion] += weight
			} else {
				support[sc.conclusion] += weight
			}
		}

		nextRank := make(map[uuid.UUID]float64, len(g.nodes))
		nextDefeated := make(map[uuid.UUID]bool, len(g.nodes))
		maxDelta := 0.0
		flipped := false

		for _, id := range g.nodes {
			rank := g.base[id] + support[id] - attack[id]
			if rank < 0 {
				rank = 0
			}
			nextRank[id] = rank

			margin := attack[id] - (rank + support[id])
			switch {
			case margin > DefeatEpsilon:
				nextDefeated[id] = true
			case margin < -DefeatEpsilon:
				nextDefeated[id] = false
			default:
				nextDefeated[id] = res.defeated[id]
			}
			if nextDefeated[id] != res.defeated[id] {
				flipped = true
			}
			if d := abs(rank - res.rank[id]); d > maxDelta {
				maxDelta = d
			}
		}

		res.rank = nextRank
		res.defeated = nextDefeated
		res.iterations = it + 1

		if maxDelta < RankTolerance && !flipped {
			res.converged = true
			break
		}
	}
	return res
}

// schemeWeight is confidence x weakest premise rank, or zero when any
// premise is defeated.
func schemeWeight(sc propScheme, res *fixpointResult) float64 {
	weakest := -1.0
	for _, p := range sc.premises {
		if res.defeated[p] {
			return 0
		}
		r, ok := res.rank[p]
		if !ok {
			return 0
		}
		if weakest < 0 || r < weakest {
			weakest = r
		}
	}
	if weakest < 0 {
		return 0
	}
	return TransmissionFactor * sc.confidence * weakest
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
