package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "veronica_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTodos_CreateListInOrder(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	empty, err := s.ListTodos(ctx)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	for _, task := range []string{"buy milk", "call mom", "fix bike"} {
		_, err := s.CreateTodo(ctx, task, "")
		require.NoError(t, err)
	}

	todos, err := s.ListTodos(ctx)
	require.NoError(t, err)
	require.Len(t, todos, 3)
	assert.Equal(t, "buy milk", todos[0].Task)
	assert.Equal(t, "fix bike", todos[2].Task)
	assert.NotEmpty(t, todos[0].ID)
}

func TestDeleteTodoAt(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	for _, task := range []string{"a", "b", "c"} {
		_, err := s.CreateTodo(ctx, task, "2024-01-02")
		require.NoError(t, err)
	}

	deleted, err := s.DeleteTodoAt(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "b", deleted.Task)

	todos, err := s.ListTodos(ctx)
	require.NoError(t, err)
	require.Len(t, todos, 2)
	assert.Equal(t, "a", todos[0].Task)
	assert.Equal(t, "c", todos[1].Task)
}

func TestDeleteTodoAt_OutOfRange(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	for i := range 3 {
		_, err := s.CreateTodo(ctx, fmt.Sprintf("task %d", i), "")
		require.NoError(t, err)
	}

	for _, idx := range []int{5, 3, -1} {
		_, err := s.DeleteTodoAt(ctx, idx)
		require.ErrorIs(t, err, ErrIndexOutOfRange, "index %d", idx)
	}

	todos, err := s.ListTodos(ctx)
	require.NoError(t, err)
	assert.Len(t, todos, 3)
}

func TestDeleteTodoAt_Concurrent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	for i := range 5 {
		_, err := s.CreateTodo(ctx, fmt.Sprintf("task %d", i), "")
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.DeleteTodoAt(ctx, 0)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	todos, err := s.ListTodos(ctx)
	require.NoError(t, err)
	assert.Empty(t, todos)
}

func TestMemories_SaveAndFind(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	saved, err := s.SaveMemory(ctx, Memory{
		Data:     "user's name is Asha",
		Category: CategoryUserDetails,
		Tags:     []string{" Name ", "USER", "name", ""},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "user"}, saved.Tags)

	_, err = s.SaveMemory(ctx, Memory{Data: "likes jazz", Category: CategoryUserDetails, Tags: []string{"music"}})
	require.NoError(t, err)
	_, err = s.SaveMemory(ctx, Memory{Data: "sky is blue", Category: CategoryFacts, Tags: []string{"name"}})
	require.NoError(t, err)

	got, err := s.FindMemories(ctx, CategoryUserDetails, "NAME")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "user's name is Asha", got[0].Data)
	assert.Equal(t, []string{"name", "user"}, got[0].Tags)

	all, err := s.FindMemories(ctx, CategoryUserDetails, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	none, err := s.FindMemories(ctx, CategoryContext, "name")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSaveMemory_RequiresFields(t *testing.T) {
	s := testStore(t)
	_, err := s.SaveMemory(context.Background(), Memory{Category: CategoryFacts})
	require.Error(t, err)
	_, err = s.SaveMemory(context.Background(), Memory{Data: "x"})
	require.Error(t, err)
}

func TestTokens(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	tok, err := s.GetToken(ctx, "refresh_token")
	require.NoError(t, err)
	assert.Nil(t, tok)

	require.NoError(t, s.SetToken(ctx, "refresh_token", "r1"))
	require.NoError(t, s.SetToken(ctx, "refresh_token", "r2"))

	tok, err = s.GetToken(ctx, "refresh_token")
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "r2", tok.Token)
}

func TestNormalizeTags(t *testing.T) {
	assert.Equal(t, []string{}, NormalizeTags(nil))
	assert.Equal(t, []string{"a", "b"}, NormalizeTags([]string{"A", " b", "a "}))
}
