package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nugget/veronica/internal/history"
	"github.com/nugget/veronica/internal/store"
)

// handle runs the handler for kind. The switch is exhaustive over
// [Kind]; a missing case is caught by the registry tests.
func (r *Registry) handle(ctx context.Context, kind Kind, raw string) (result, error) {
	s := r.schemas[kind]
	switch kind {
	case KindSaveMemory:
		return withArgs(s, raw, func(a saveMemoryArgs) (result, error) { return r.saveMemory(ctx, a) })
	case KindLoadMemory:
		return withArgs(s, raw, func(a loadMemoryArgs) (result, error) { return r.loadMemory(ctx, a) })
	case KindListTodos:
		return withArgs(s, raw, func(listTodosArgs) (result, error) { return r.listTodos(ctx) })
	case KindCreateTodo:
		return withArgs(s, raw, func(a createTodoArgs) (result, error) { return r.createTodo(ctx, a) })
	case KindDeleteTodo:
		return withArgs(s, raw, func(a deleteTodoArgs) (result, error) { return r.deleteTodo(ctx, a) })
	case KindGetWeather:
		return withArgs(s, raw, func(getWeatherArgs) (result, error) { return r.getWeather(ctx) })
	case KindMusicControl:
		return withArgs(s, raw, func(a musicControlArgs) (result, error) { return r.musicControl(ctx, a) })
	case KindMusicRandom:
		return withArgs(s, raw, func(a musicRandomArgs) (result, error) { return r.musicRandom(ctx, a) })
	case KindMusicSearch:
		return withArgs(s, raw, func(a musicSearchArgs) (result, error) { return r.musicSearch(ctx, a) })
	case KindDeviceAction:
		return withArgs(s, raw, func(a deviceActionArgs) (result, error) { return r.deviceAction(ctx, a) })
	case KindTrainStatus:
		return withArgs(s, raw, func(a trainStatusArgs) (result, error) { return r.trainStatus(ctx, a) })
	case KindReplyWithExpression:
		// Only content is required. Animation names match loosely.
		a, err := decodeLoose[replyWithExpressionArgs](raw)
		if err != nil {
			return result{}, err
		}
		return replyWithExpression(a)
	}
	return result{}, fmt.Errorf("%w: no handler for %s", ErrUnknownAction, kind)
}

func withArgs[T any](s *schema, raw string, fn func(T) (result, error)) (result, error) {
	args, err := decode[T](s, raw)
	if err != nil {
		return result{}, err
	}
	return fn(args)
}

func marshal(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal outcome: %w", err)
	}
	return string(data), nil
}

func (r *Registry) saveMemory(ctx context.Context, a saveMemoryArgs) (result, error) {
	if r.deps.Memories == nil {
		return result{}, fmt.Errorf("%s: %w", KindSaveMemory, ErrNotConfigured)
	}
	if _, err := r.deps.Memories.SaveMemory(ctx, store.Memory{
		Data:     a.Data,
		Category: a.Category,
		Tags:     strings.Split(a.Tags, ","),
	}); err != nil {
		return result{}, err
	}
	return result{content: "successfully saved!"}, nil
}

func (r *Registry) loadMemory(ctx context.Context, a loadMemoryArgs) (result, error) {
	if r.deps.Memories == nil {
		return result{}, fmt.Errorf("%s: %w", KindLoadMemory, ErrNotConfigured)
	}
	// Only the first tag narrows the search.
	tag, _, _ := strings.Cut(a.Tags, ",")
	memories, err := r.deps.Memories.FindMemories(ctx, a.Category, strings.ToLower(strings.TrimSpace(tag)))
	if err != nil {
		return result{}, err
	}
	data, err := marshal(memories)
	if err != nil {
		return result{}, err
	}
	return result{content: "here are all the data entries, tell the user this: " + data}, nil
}

func (r *Registry) listTodos(ctx context.Context) (result, error) {
	if r.deps.Todos == nil {
		return result{}, fmt.Errorf("%s: %w", KindListTodos, ErrNotConfigured)
	}
	todos, err := r.deps.Todos.ListTodos(ctx)
	if err != nil {
		return result{}, err
	}
	data, err := marshal(todos)
	if err != nil {
		return result{}, err
	}
	today := r.now()
	return result{content: fmt.Sprintf("today's date is %d-%d-%d. tasks are: %s",
		today.Day(), int(today.Month()), today.Year(), data)}, nil
}

func (r *Registry) createTodo(ctx context.Context, a createTodoArgs) (result, error) {
	if r.deps.Todos == nil {
		return result{}, fmt.Errorf("%s: %w", KindCreateTodo, ErrNotConfigured)
	}
	if _, err := r.deps.Todos.CreateTodo(ctx, a.Task, a.DueDate); err != nil {
		return result{}, err
	}
	return result{content: "successfully created todo!"}, nil
}

func (r *Registry) deleteTodo(ctx context.Context, a deleteTodoArgs) (result, error) {
	if r.deps.Todos == nil {
		return result{}, fmt.Errorf("%s: %w", KindDeleteTodo, ErrNotConfigured)
	}
	if _, err := r.deps.Todos.DeleteTodoAt(ctx, a.Index); err != nil {
		return result{}, err
	}
	return result{content: "successfully deleted todo!"}, nil
}

func (r *Registry) getWeather(ctx context.Context) (result, error) {
	if r.deps.Weather == nil {
		return result{}, fmt.Errorf("%s: %w", KindGetWeather, ErrNotConfigured)
	}
	data, err := r.deps.Weather.Current(ctx)
	if err != nil {
		return result{}, err
	}
	return result{content: "tell the user this info: " + string(data)}, nil
}

const nowPlayingSuffix = " song playing, do not call any animation function, reply with just the name of the song and artist provided"

func (r *Registry) musicControl(ctx context.Context, a musicControlArgs) (result, error) {
	if r.deps.Music == nil {
		return result{}, fmt.Errorf("%s: %w", KindMusicControl, ErrNotConfigured)
	}
	data, err := r.deps.Music.Control(ctx, a.Action)
	if err != nil {
		return result{}, err
	}
	return result{content: string(data) + " do not call any animation function, reply with a success message"}, nil
}

func (r *Registry) musicRandom(ctx context.Context, a musicRandomArgs) (result, error) {
	if r.deps.Music == nil {
		return result{}, fmt.Errorf("%s: %w", KindMusicRandom, ErrNotConfigured)
	}
	genre := a.Genre
	if genre == "" {
		genre = "random"
	}
	data, err := r.deps.Music.RandomSong(ctx, genre)
	if err != nil {
		return result{}, err
	}
	return result{content: "now playing " + string(data) + nowPlayingSuffix}, nil
}

func (r *Registry) musicSearch(ctx context.Context, a musicSearchArgs) (result, error) {
	if r.deps.Music == nil {
		return result{}, fmt.Errorf("%s: %w", KindMusicSearch, ErrNotConfigured)
	}
	data, err := r.deps.Music.SearchSong(ctx, a.Query)
	if err != nil {
		return result{}, err
	}
	return result{content: "now playing " + string(data) + nowPlayingSuffix}, nil
}

func (r *Registry) deviceAction(ctx context.Context, a deviceActionArgs) (result, error) {
	if r.deps.Devices == nil {
		return result{}, fmt.Errorf("%s: %w", KindDeviceAction, ErrNotConfigured)
	}
	ack, err := r.deps.Devices.Broadcast(ctx, a.Action)
	if err != nil {
		return result{}, err
	}
	data, err := marshal(ack)
	if err != nil {
		return result{}, err
	}
	return result{content: data + " please format the json and tell this to the user"}, nil
}

func (r *Registry) trainStatus(ctx context.Context, a trainStatusArgs) (result, error) {
	if r.deps.Trains == nil {
		return result{}, fmt.Errorf("%s: %w", KindTrainStatus, ErrNotConfigured)
	}
	status, err := r.deps.Trains.Lookup(ctx, a.TrainNo, a.Date.String())
	if err != nil {
		return result{}, err
	}
	return result{content: fmt.Sprintf(
		"tell the user this info without any function call, Train Name: '%s', Status: '%s'",
		status.TrainName, status.TrainContent)}, nil
}

func replyWithExpression(a replyWithExpressionArgs) (result, error) {
	if strings.TrimSpace(a.Content) == "" {
		return result{}, fmt.Errorf("%w: content is empty", ErrInvalidArguments)
	}
	return result{
		content: a.Content,
		final: &history.Reply{
			Role:      history.RoleAssistant,
			Content:   a.Content,
			Animation: canonicalAnimation(a.AnimationName),
		},
	}, nil
}
