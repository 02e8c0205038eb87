package actions

import (
	"errors"
	"fmt"
)

// ErrUnknownAction is returned for action names outside the catalog.
var ErrUnknownAction = errors.New("unknown action")

// Kind is one of the fixed set of actions the provider may request.
type Kind int

const (
	KindSaveMemory Kind = iota + 1
	KindLoadMemory
	KindListTodos
	KindCreateTodo
	KindDeleteTodo
	KindGetWeather
	KindMusicControl
	KindMusicRandom
	KindMusicSearch
	KindDeviceAction
	KindTrainStatus
	KindReplyWithExpression

	kindEnd
)

var kindNames = [...]string{
	KindSaveMemory:          "save_memory",
	KindLoadMemory:          "load_memory",
	KindListTodos:           "list_todos",
	KindCreateTodo:          "create_todo",
	KindDeleteTodo:          "delete_todo",
	KindGetWeather:          "get_weather",
	KindMusicControl:        "music_control",
	KindMusicRandom:         "music_random",
	KindMusicSearch:         "music_search",
	KindDeviceAction:        "device_action",
	KindTrainStatus:         "train_status",
	KindReplyWithExpression: "reply_with_expression",
}

// String returns the wire name used in the provider catalog.
func (k Kind) String() string {
	if k > 0 && k < kindEnd {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Kinds returns every action kind in catalog order.
func Kinds() []Kind {
	out := make([]Kind, 0, int(kindEnd)-1)
	for k := KindSaveMemory; k < kindEnd; k++ {
		out = append(out, k)
	}
	return out
}

// ParseKind maps a wire name to its Kind. Names outside the catalog
// return an error wrapping [ErrUnknownAction].
func ParseKind(name string) (Kind, error) {
	for k := KindSaveMemory; k < kindEnd; k++ {
		if kindNames[k] == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAction, name)
}
