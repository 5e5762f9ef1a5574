package graph

import (
	"context"
	"sort"

	mnerr "github.com/mnemolite/mnemolite/internal/errors"
	"github.com/mnemolite/mnemolite/internal/store"
)

const (
	// MaxDepth is the hard traversal depth cap.
	MaxDepth = 5
	// MaxVisited bounds the visited set; hitting it truncates the result.
	MaxVisited = 2000
)

// adjacency is the slice of the store the traverser needs.
type adjacency interface {
	AdjacentEdges(ctx context.Context, nodeIDs []string, dir store.Direction, edgeTypes []store.EdgeType) ([]*store.GraphEdge, error)
	GetNodes(ctx context.Context, ids []string) (map[string]*store.GraphNode, error)
}

// Traverser answers neighborhood and path queries with bounded recursion.
type Traverser struct {
	adj        adjacency
	maxDepth   int
	maxVisited int
}

func NewTraverser(adj adjacency) *Traverser {
	return &Traverser{adj: adj, maxDepth: MaxDepth, maxVisited: MaxVisited}
}

// Traversal is a neighborhood result: the visited nodes and the edges used
// to reach them. Truncated is set only when a hard cap cut the walk short,
// never by exhausting the requested depth.
type Traversal struct {
	Nodes     []*store.GraphNode
	Edges     []*store.GraphEdge
	Truncated bool
}

// Neighbors walks outward from start up to depth hops. A depth of zero or
// above the cap clamps to the cap. Cycles are broken by the visited set.
func (t *Traverser) Neighbors(ctx context.Context, start string, depth int, dir store.Direction, edgeTypes []store.EdgeType) (*Traversal, error) {
	if start == "" {
		return nil, mnerr.New(mnerr.KindBadRequest, "start node is required")
	}
	clamped := depth > t.maxDepth
	if depth <= 0 || depth > t.maxDepth {
		depth = t.maxDepth
	}

	startNodes, err := t.adj.GetNodes(ctx, []string{start})
	if err != nil {
		return nil, err
	}
	if _, ok := startNodes[start]; !ok {
		return nil, mnerr.Newf(mnerr.KindNotFound, "node %s does not exist", start)
	}

	visited := map[string]bool{start: true}
	frontier := []string{start}
	result := &Traversal{}
	edgeSeen := map[string]bool{}

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		if err := ctx.Err(); err != nil {
			return nil, mnerr.Wrap(mnerr.KindDeadlineExceeded, err)
		}

		edges, err := t.adj.AdjacentEdges(ctx, frontier, dir, edgeTypes)
		if err != nil {
			return nil, err
		}

		var next []string
		for _, e := range edges {
			if !edgeSeen[e.ID] {
				edgeSeen[e.ID] = true
				result.Edges = append(result.Edges, e)
			}
			for _, id := range []string{e.Source, e.Target} {
				if visited[id] {
					continue
				}
				if len(visited) >= t.maxVisited {
					result.Truncated = true
					continue
				}
				visited[id] = true
				next = append(next, id)
			}
		}
		frontier = next
	}
	if clamped && len(frontier) > 0 {
		// The hard depth cap cut a deeper request short.
		result.Truncated = true
	}

	ids := make([]string, 0, len(visited))
	for id := range visited {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	nodes, err := t.adj.GetNodes(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if n, ok := nodes[id]; ok {
			result.Nodes = append(result.Nodes, n)
		}
	}
	return result, nil
}

// Path is a shortest path between two nodes.
type Path struct {
	Found bool
	Nodes []string // ordered from a to b
	Edges []*store.GraphEdge
}

// ShortestPath runs a breadth-first search from a to b over edges of the
// given types, following edges in either direction. A nil path with
// Found=false means no route exists within the visited cap.
func (t *Traverser) ShortestPath(ctx context.Context, a, b string, edgeTypes []store.EdgeType) (*Path, error) {
	if a == "" || b == "" {
		return nil, mnerr.New(mnerr.KindBadRequest, "both endpoints are required")
	}
	if a == b {
		return &Path{Found: true, Nodes: []string{a}}, nil
	}

	endpoints, err := t.adj.GetNodes(ctx, []string{a, b})
	if err != nil {
		return nil, err
	}
	for _, id := range []string{a, b} {
		if _, ok := endpoints[id]; !ok {
			return nil, mnerr.Newf(mnerr.KindNotFound, "node %s does not exist", id)
		}
	}

	cameFrom := map[string]hopBack{a: {}}
	frontier := []string{a}

	for len(frontier) > 0 && len(cameFrom) < t.maxVisited {
		if err := ctx.Err(); err != nil {
			return nil, mnerr.Wrap(mnerr.KindDeadlineExceeded, err)
		}

		edges, err := t.adj.AdjacentEdges(ctx, frontier, store.DirectionBoth, edgeTypes)
		if err != nil {
			return nil, err
		}

		var next []string
		for _, e := range edges {
			for _, pair := range [][2]string{{e.Source, e.Target}, {e.Target, e.Source}} {
				from, to := pair[0], pair[1]
				if _, visited := cameFrom[from]; !visited {
					continue
				}
				if _, visited := cameFrom[to]; visited {
					continue
				}
				cameFrom[to] = hopBack{prev: from, edge: e}
				if to == b {
					return assemblePath(a, b, cameFrom), nil
				}
				next = append(next, to)
			}
		}
		frontier = next
	}
	return &Path{Found: false}, nil
}

// hopBack records how BFS reached a node, for path reconstruction.
type hopBack struct {
	prev string
	edge *store.GraphEdge
}

func assemblePath(a, b string, cameFrom map[string]hopBack) *Path {
	path := &Path{Found: true}
	for at := b; ; {
		path.Nodes = append([]string{at}, path.Nodes...)
		if at == a {
			break
		}
		back := cameFrom[at]
		path.Edges = append([]*store.GraphEdge{back.edge}, path.Edges...)
		at = back.prev
	}
	return path
}
