package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Node labels of the persisted fact-check graph.
const (
	LabelNewsText      = "NewsText"
	LabelBasicMetadata = "BasicMetadata"
	LabelKnowledge     = "Knowledge"
	LabelCheckPoint    = "CheckPoint"
	LabelRetrievalStep = "RetrievalStep"
	LabelSearchResult  = "SearchResult"
	LabelEvidence      = "Evidence"
)

// Edge labels.
const (
	EdgeHasBasicMetadata = "has_basic_metadata"
	EdgeHasKnowledge     = "has_knowledge"
	EdgeHasCheckPoint    = "has_check_point"
	EdgeVerifiedBy       = "verified_by"
	EdgeHasResult        = "has_result"
	EdgeSupportsBy       = "supports_by"
	EdgeContradictsWith  = "contradicts_with"
)

// GraphStore persists fact-check sessions as a property graph over two
// Postgres tables. Every write from the event subscriber runs in its own
// transaction.
type GraphStore struct {
	DB *sql.DB
}

// Open connects and pings the graph database.
func Open(dsn string) (*GraphStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open graph store: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping graph store: %w", err)
	}
	return &GraphStore{DB: db}, nil
}

func (s *GraphStore) Close() error { return s.DB.Close() }

// Node is one vertex of the persisted graph.
type Node struct {
	ID         string                 `json:"id"`
	SessionID  string                 `json:"session_id"`
	Label      string                 `json:"label"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Edge is one labeled relation between two nodes.
type Edge struct {
	SessionID string `json:"session_id"`
	Source    string `json:"source"`
	Target    string `json:"target"`
	Label     string `json:"label"`
}

// WriteSubgraph stores a batch of nodes and edges atomically.
func (s *GraphStore) WriteSubgraph(ctx context.Context, nodes []Node, edges []Edge) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin graph write: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertSubgraph(ctx, tx, nodes, edges); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceResultSubgraph stores retrieval-result subgraphs after clearing each
// step's prior evidence, so a retry that yields fewer evidences does not
// leave stale nodes or edges behind.
func (s *GraphStore) ReplaceResultSubgraph(ctx context.Context, sessionID string, stepIDs []string, nodes []Node, edges []Edge) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin graph write: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stepID := range stepIDs {
		pattern := "evidence:" + stepID + ":%"
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM graph_edges WHERE session_id = $1 AND target_id LIKE $2
		`, sessionID, pattern); err != nil {
			return fmt.Errorf("clear evidence edges of step %s: %w", stepID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM graph_nodes WHERE session_id = $1 AND id LIKE $2
		`, sessionID, pattern); err != nil {
			return fmt.Errorf("clear evidence nodes of step %s: %w", stepID, err)
		}
	}
	if err := upsertSubgraph(ctx, tx, nodes, edges); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertSubgraph(ctx context.Context, tx *sql.Tx, nodes []Node, edges []Edge) error {
	for _, n := range nodes {
		props, err := json.Marshal(n.Properties)
		if err != nil {
			return fmt.Errorf("encode node %s properties: %w", n.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO graph_nodes (id, session_id, label, properties)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET properties = EXCLUDED.properties
		`, n.ID, n.SessionID, n.Label, props); err != nil {
			return fmt.Errorf("insert node %s: %w", n.ID, err)
		}
	}
	for _, e := range edges {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO graph_edges (session_id, source_id, target_id, label)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (source_id, target_id, label) DO NOTHING
		`, e.SessionID, e.Source, e.Target, e.Label); err != nil {
			return fmt.Errorf("insert edge %s-[%s]->%s: %w", e.Source, e.Label, e.Target, err)
		}
	}
	return nil
}

// SessionGraph is the read-back form of a persisted session.
type SessionGraph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// LoadSession returns every node and edge written for a session.
func (s *GraphStore) LoadSession(ctx context.Context, sessionID string) (SessionGraph, error) {
	var g SessionGraph

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, label, properties, created_at FROM graph_nodes
		WHERE session_id = $1 ORDER BY created_at
	`, sessionID)
	if err != nil {
		return g, fmt.Errorf("load session nodes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		n := Node{SessionID: sessionID}
		var props []byte
		if err := rows.Scan(&n.ID, &n.Label, &props, &n.CreatedAt); err != nil {
			return g, err
		}
		if len(props) > 0 {
			if err := json.Unmarshal(props, &n.Properties); err != nil {
				return g, fmt.Errorf("decode node %s properties: %w", n.ID, err)
			}
		}
		g.Nodes = append(g.Nodes, n)
	}
	if err := rows.Err(); err != nil {
		return g, err
	}

	erows, err := s.DB.QueryContext(ctx, `
		SELECT source_id, target_id, label FROM graph_edges
		WHERE session_id = $1 ORDER BY id
	`, sessionID)
	if err != nil {
		return g, fmt.Errorf("load session edges: %w", err)
	}
	defer erows.Close()
	for erows.Next() {
		e := Edge{SessionID: sessionID}
		if err := erows.Scan(&e.Source, &e.Target, &e.Label); err != nil {
			return g, err
		}
		g.Edges = append(g.Edges, e)
	}
	return g, erows.Err()
}
