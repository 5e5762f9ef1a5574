package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	mnerr "github.com/mnemolite/mnemolite/internal/errors"
)

// Direction selects which edge ends to follow during traversal.
type Direction string

const (
	DirectionOut  Direction = "out"
	DirectionIn   Direction = "in"
	DirectionBoth Direction = "both"
)

// ReplaceFileGraph atomically swaps a file's graph contribution: every node
// and edge previously produced from the file is removed, then the fresh set
// is written. A crash leaves either the old or the new graph, never a mix.
func (s *Store) ReplaceFileGraph(ctx context.Context, repository, filePath string, nodes []*GraphNode, edges []*GraphEdge) error {
	for _, e := range edges {
		if !KnownEdgeTypes[e.EdgeType] {
			return mnerr.Newf(mnerr.KindBadRequest, "unknown edge type %q", e.EdgeType)
		}
	}
	return s.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return replaceFileGraphTx(ctx, tx, repository, filePath, nodes, edges)
	})
}

func replaceFileGraphTx(ctx context.Context, tx pgx.Tx, repository, filePath string, nodes []*GraphNode, edges []*GraphEdge) error {
	_, err := tx.Exec(ctx,
		`DELETE FROM edges WHERE properties->>'repository' = $1 AND properties->>'file_path' = $2`,
		repository, filePath)
	if err != nil {
		return mapError(err)
	}
	_, err = tx.Exec(ctx,
		`DELETE FROM nodes WHERE properties->>'repository' = $1 AND properties->>'file_path' = $2`,
		repository, filePath)
	if err != nil {
		return mapError(err)
	}
	if err := upsertNodes(ctx, tx, nodes); err != nil {
		return err
	}
	return upsertEdges(ctx, tx, edges)
}

// UpsertNodes writes nodes outside a file-atomic rebuild, for synthetic
// concept or module nodes.
func (s *Store) UpsertNodes(ctx context.Context, nodes []*GraphNode) error {
	return s.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return upsertNodes(ctx, tx, nodes)
	})
}

func upsertNodes(ctx context.Context, tx pgx.Tx, nodes []*GraphNode) error {
	if len(nodes) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, n := range nodes {
		props := n.Properties
		if props == nil {
			props = map[string]any{}
		}
		batch.Queue(
			`INSERT INTO nodes (node_id, node_type, label, properties)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (node_id) DO UPDATE SET
			   node_type  = EXCLUDED.node_type,
			   label      = EXCLUDED.label,
			   properties = nodes.properties || EXCLUDED.properties`,
			n.ID, string(n.NodeType), n.Label, props)
	}
	br := tx.SendBatch(ctx, batch)
	defer br.Close()
	for range nodes {
		if _, err := br.Exec(); err != nil {
			return mapError(err)
		}
	}
	return nil
}

// upsertEdges coalesces duplicates on (source, target, type), keeping the
// maximum weight seen.
func upsertEdges(ctx context.Context, tx pgx.Tx, edges []*GraphEdge) error {
	if len(edges) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range edges {
		props := e.Properties
		if props == nil {
			props = map[string]any{}
		}
		batch.Queue(
			`INSERT INTO edges (edge_id, source_node_id, target_node_id, relation_type, properties)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (source_node_id, target_node_id, relation_type) DO UPDATE SET
			   properties = edges.properties || EXCLUDED.properties ||
			     jsonb_build_object('weight', GREATEST(
			       COALESCE((edges.properties->>'weight')::float, 0),
			       COALESCE((EXCLUDED.properties->>'weight')::float, 0)))`,
			e.ID, e.Source, e.Target, string(e.EdgeType), props)
	}
	br := tx.SendBatch(ctx, batch)
	defer br.Close()
	for range edges {
		if _, err := br.Exec(); err != nil {
			return mapError(err)
		}
	}
	return nil
}

// GetNodes fetches nodes by id, skipping missing ones.
func (s *Store) GetNodes(ctx context.Context, ids []string) (map[string]*GraphNode, error) {
	if len(ids) == 0 {
		return map[string]*GraphNode{}, nil
	}
	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx,
		`SELECT node_id, node_type, label, properties, created_at
		 FROM nodes WHERE node_id = ANY($1)`, ids)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make(map[string]*GraphNode, len(ids))
	for rows.Next() {
		var n GraphNode
		var nodeType string
		if err := rows.Scan(&n.ID, &nodeType, &n.Label, &n.Properties, &n.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		n.NodeType = NodeType(nodeType)
		out[n.ID] = &n
	}
	return out, mapError(rows.Err())
}

// AdjacentEdges returns the edges touching any of the given nodes in the
// requested direction, optionally restricted to a set of edge types. The
// traversal frontier is expanded one hop per call.
func (s *Store) AdjacentEdges(ctx context.Context, nodeIDs []string, dir Direction, edgeTypes []EdgeType) ([]*GraphEdge, error) {
	if len(nodeIDs) == 0 {
		return nil, nil
	}

	var where []string
	args := []any{nodeIDs}
	switch dir {
	case DirectionOut:
		where = append(where, `source_node_id = ANY($1)`)
	case DirectionIn:
		where = append(where, `target_node_id = ANY($1)`)
	case DirectionBoth, "":
		where = append(where, `(source_node_id = ANY($1) OR target_node_id = ANY($1))`)
	default:
		return nil, mnerr.Newf(mnerr.KindBadRequest, "unknown direction %q", dir)
	}
	if len(edgeTypes) > 0 {
		types := make([]string, len(edgeTypes))
		for i, t := range edgeTypes {
			if !KnownEdgeTypes[t] {
				return nil, mnerr.Newf(mnerr.KindBadRequest, "unknown edge type %q", t)
			}
			types[i] = string(t)
		}
		args = append(args, types)
		where = append(where, fmt.Sprintf(`relation_type = ANY(%s)`, placeholder(len(args))))
	}

	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, fmt.Sprintf(
		`SELECT edge_id, source_node_id, target_node_id, relation_type, properties, created_at
		 FROM edges WHERE %s ORDER BY edge_id`, strings.Join(where, " AND ")), args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var edges []*GraphEdge
	for rows.Next() {
		var e GraphEdge
		var relType string
		if err := rows.Scan(&e.ID, &e.Source, &e.Target, &relType, &e.Properties, &e.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		e.EdgeType = EdgeType(relType)
		edges = append(edges, &e)
	}
	return edges, mapError(rows.Err())
}

// Reconcile deletes edges whose source or target node no longer exists.
// Endpoint integrity is application-enforced, so a crash between node and
// edge writes can leave danglers.
func (s *Store) Reconcile(ctx context.Context) (int64, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
		DELETE FROM edges e
		WHERE NOT EXISTS (SELECT 1 FROM nodes n WHERE n.node_id = e.source_node_id)
		   OR NOT EXISTS (SELECT 1 FROM nodes n WHERE n.node_id = e.target_node_id)`)
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}

// EdgeKindCounts reports per-relation edge counts for a repository.
func (s *Store) EdgeKindCounts(ctx context.Context, repository string) (map[string]int64, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx,
		`SELECT relation_type, count(*) FROM edges
		 WHERE properties->>'repository' = $1 GROUP BY relation_type`, repository)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, mapError(err)
		}
		out[kind] = n
	}
	return out, mapError(rows.Err())
}
