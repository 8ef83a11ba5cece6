package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/frankbria/codeframe-sub003/pkg/models"
)

// InsertContextItem persists a freshly scored context item.
func (d *DB) InsertContextItem(ctx context.Context, item models.ContextItem) error {
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO context_items (id, project_id, agent_id, item_type, content,
		                            importance_score, tier, access_count, created_at, last_accessed)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		item.ID, item.ProjectID, item.AgentID, item.ItemType, item.Content,
		item.ImportanceScore, item.Tier, item.AccessCount, item.CreatedAt, item.LastAccessed)
	if err != nil {
		return fmt.Errorf("insert context item: %w", err)
	}
	return nil
}

// ListContextItems returns items for (project, agent), optionally
// filtered by tier, ordered by importance_score desc, last_accessed
// desc, paginated.
func (d *DB) ListContextItems(ctx context.Context, projectID, agentID string, tier *models.Tier, limit, offset int) ([]models.ContextItem, error) {
	query := `
		SELECT id, project_id, agent_id, item_type, content, importance_score, tier,
		       access_count, created_at, last_accessed
		FROM context_items
		WHERE project_id = $1 AND agent_id = $2`
	args := []any{projectID, agentID}

	if tier != nil {
		query += " AND tier = $3"
		args = append(args, *tier)
	}
	query += " ORDER BY importance_score DESC, last_accessed DESC"

	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list context items: %w", err)
	}
	defer rows.Close()

	var items []models.ContextItem
	for rows.Next() {
		var it models.ContextItem
		if err := rows.Scan(&it.ID, &it.ProjectID, &it.AgentID, &it.ItemType, &it.Content,
			&it.ImportanceScore, &it.Tier, &it.AccessCount, &it.CreatedAt, &it.LastAccessed); err != nil {
			return nil, fmt.Errorf("scan context item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// TouchContextItems increments access_count and sets last_accessed=now
// for the given item ids, used by load() after returning items.
func (d *DB) TouchContextItems(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf(`
		UPDATE context_items SET access_count = access_count + 1, last_accessed = now()
		WHERE id IN (%s)`, joinClauses(placeholders))
	if _, err := d.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("touch context items: %w", err)
	}
	return nil
}

// UpdateContextItemScore writes back a recalculated score, optionally
// also reassigning the tier (updateTiers vs recalculateScores).
func (d *DB) UpdateContextItemScore(ctx context.Context, id string, score float64, tier *models.Tier) error {
	if tier != nil {
		_, err := d.conn.ExecContext(ctx,
			`UPDATE context_items SET importance_score = $1, tier = $2 WHERE id = $3`,
			score, *tier, id)
		return err
	}
	_, err := d.conn.ExecContext(ctx,
		`UPDATE context_items SET importance_score = $1 WHERE id = $2`, score, id)
	return err
}

// DeleteColdItems deletes all COLD-tier items for (project, agent) and
// returns how many were removed, used by flashSave step 4.
func (d *DB) DeleteColdItems(ctx context.Context, projectID, agentID string) (int, error) {
	res, err := d.conn.ExecContext(ctx, `
		DELETE FROM context_items WHERE project_id = $1 AND agent_id = $2 AND tier = 'COLD'`,
		projectID, agentID)
	if err != nil {
		return 0, fmt.Errorf("delete cold items: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// InsertContextCheckpoint writes the full pre-archive snapshot as an
// immutable checkpoint row.
func (d *DB) InsertContextCheckpoint(ctx context.Context, cp models.ContextCheckpoint) error {
	snapshot, err := json.Marshal(cp.Items)
	if err != nil {
		return fmt.Errorf("encode checkpoint snapshot: %w", err)
	}
	_, err = d.conn.ExecContext(ctx, `
		INSERT INTO context_checkpoints (id, project_id, agent_id, items_count, items_archived,
		                                  hot_items_retained, token_count, items_snapshot)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		cp.ID, cp.ProjectID, cp.AgentID, cp.ItemsCount, cp.ItemsArchived,
		cp.HotItemsRetained, cp.TokenCount, snapshot)
	if err != nil {
		return fmt.Errorf("insert context checkpoint: %w", err)
	}
	return nil
}
