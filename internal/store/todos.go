package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Todo is one task on the todo list.
type Todo struct {
	ID      string `json:"id"`
	Task    string `json:"task"`
	DueDate string `json:"dueDate,omitempty"`
}

const todoOrder = `ORDER BY created_at, rowid`

// ListTodos returns every todo in creation order. Positional indexes
// used by [Store.DeleteTodoAt] refer to this ordering.
func (s *Store) ListTodos(ctx context.Context) ([]Todo, error) {
	return listTodos(ctx, s.db)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listTodos(ctx context.Context, q queryer) ([]Todo, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, task, due_date FROM todos `+todoOrder)
	if err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	defer rows.Close()

	todos := []Todo{}
	for rows.Next() {
		var t Todo
		if err := rows.Scan(&t.ID, &t.Task, &t.DueDate); err != nil {
			return nil, fmt.Errorf("scan todo: %w", err)
		}
		todos = append(todos, t)
	}
	return todos, rows.Err()
}

// CreateTodo appends a todo.
func (s *Store) CreateTodo(ctx context.Context, task, dueDate string) (Todo, error) {
	t := Todo{ID: uuid.NewString(), Task: task, DueDate: dueDate}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO todos (id, task, due_date, created_at) VALUES (?, ?, ?, ?)`,
		t.ID, t.Task, t.DueDate, s.timestamp(),
	)
	if err != nil {
		return Todo{}, fmt.Errorf("create todo: %w", err)
	}
	return t, nil
}

// DeleteTodoAt deletes the todo at the zero-based position index of the
// current list. The list is read and the row deleted in one
// transaction, so the index always refers to a consistent snapshot.
func (s *Store) DeleteTodoAt(ctx context.Context, index int) (Todo, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Todo{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	todos, err := listTodos(ctx, tx)
	if err != nil {
		return Todo{}, err
	}
	if index < 0 || index >= len(todos) {
		return Todo{}, fmt.Errorf("%w: %d (have %d)", ErrIndexOutOfRange, index, len(todos))
	}

	victim := todos[index]
	if _, err := tx.ExecContext(ctx, `DELETE FROM todos WHERE id = ?`, victim.ID); err != nil {
		return Todo{}, fmt.Errorf("delete todo %s: %w", victim.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return Todo{}, fmt.Errorf("commit: %w", err)
	}
	return victim, nil
}
