package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Memory categories understood by the assistant.
const (
	CategoryUserDetails = "user_details"
	CategoryContext     = "context"
	CategoryFacts       = "facts"
	CategoryMessages    = "messages"
)

// Categories lists every memory category.
var Categories = []string{CategoryUserDetails, CategoryContext, CategoryFacts, CategoryMessages}

// Memory is a remembered piece of information.
type Memory struct {
	ID       string   `json:"id,omitempty"`
	Data     string   `json:"data"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
}

// NormalizeTags lower-cases and trims tags, dropping empties and
// duplicates.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// SaveMemory stores m with normalized tags and returns it with its ID.
func (s *Store) SaveMemory(ctx context.Context, m Memory) (Memory, error) {
	if m.Data == "" {
		return Memory{}, fmt.Errorf("save memory: data is required")
	}
	if m.Category == "" {
		return Memory{}, fmt.Errorf("save memory: category is required")
	}
	m.ID = uuid.NewString()
	m.Tags = NormalizeTags(m.Tags)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Memory{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO memories (id, data, category, created_at) VALUES (?, ?, ?, ?)`,
		m.ID, m.Data, m.Category, s.timestamp(),
	); err != nil {
		return Memory{}, fmt.Errorf("insert memory: %w", err)
	}
	for _, tag := range m.Tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO memory_tags (memory_id, tag) VALUES (?, ?)`, m.ID, tag,
		); err != nil {
			return Memory{}, fmt.Errorf("insert tag %q: %w", tag, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Memory{}, fmt.Errorf("commit: %w", err)
	}
	return m, nil
}

// FindMemories returns memories in category carrying tag. An empty tag
// matches every memory in the category.
func (s *Store) FindMemories(ctx context.Context, category, tag string) ([]Memory, error) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.data, m.category FROM memories m
		 WHERE m.category = ?
		   AND (? = '' OR EXISTS (
		        SELECT 1 FROM memory_tags t WHERE t.memory_id = m.id AND t.tag = ?))
		 ORDER BY m.created_at, m.rowid`,
		category, tag, tag,
	)
	if err != nil {
		return nil, fmt.Errorf("find memories: %w", err)
	}

	memories := []Memory{}
	for rows.Next() {
		var m Memory
		if err := rows.Scan(&m.ID, &m.Data, &m.Category); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range memories {
		tags, err := s.memoryTags(ctx, memories[i].ID)
		if err != nil {
			return nil, err
		}
		memories[i].Tags = tags
	}
	return memories, nil
}

func (s *Store) memoryTags(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tag FROM memory_tags WHERE memory_id = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("memory tags %s: %w", id, err)
	}
	defer rows.Close()

	tags := []string{}
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}
