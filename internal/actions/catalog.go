package actions

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"

	"github.com/nugget/veronica/internal/llm"
)

// ErrInvalidArguments is returned when the provider's arguments do not
// match the action's schema.
var ErrInvalidArguments = errors.New("invalid action arguments")

type definition struct {
	description string
	args        any
}

func definitionOf(k Kind) definition {
	switch k {
	case KindSaveMemory:
		return definition{"Save an important piece of information permanently for later reference, for example what music the user likes or who a certain person is.", saveMemoryArgs{}}
	case KindLoadMemory:
		return definition{"Search saved information on a topic to tune your reply, for example the user's favorite food or who a certain person is.", loadMemoryArgs{}}
	case KindListTodos:
		return definition{"Get every task on the todo list together with today's date, to see which tasks are due.", listTodosArgs{}}
	case KindCreateTodo:
		return definition{"Create a task on the todo list.", createTodoArgs{}}
	case KindDeleteTodo:
		return definition{"Delete a task from the todo list by its position.", deleteTodoArgs{}}
	case KindGetWeather:
		return definition{"Get the current weather.", getWeatherArgs{}}
	case KindMusicControl:
		return definition{"Control the user's music playback.", musicControlArgs{}}
	case KindMusicRandom:
		return definition{"Play a random song of a genre.", musicRandomArgs{}}
	case KindMusicSearch:
		return definition{"Search for a specific song and play it.", musicSearchArgs{}}
	case KindDeviceAction:
		return definition{"Control an external device such as the user's laptop.", deviceActionArgs{}}
	case KindTrainStatus:
		return definition{"Get the live running status of a train.", trainStatusArgs{}}
	case KindReplyWithExpression:
		return definition{"Use this often instead of a plain reply: send the reply while performing an animation, for example replying to hi with the Greet animation.", replyWithExpressionArgs{}}
	}
	return definition{}
}

// schema is the compiled argument schema of one action.
type schema struct {
	raw       json.RawMessage
	validator *gojsonschema.Schema
}

func buildSchemas() (map[Kind]*schema, error) {
	reflector := jsonschema.Reflector{
		DoNotReference:            true,
		Anonymous:                 true,
		AllowAdditionalProperties: true,
	}

	out := make(map[Kind]*schema, len(Kinds()))
	for _, k := range Kinds() {
		sp := definitionOf(k)
		if sp.args == nil {
			return nil, fmt.Errorf("action %s has no argument type", k)
		}

		s := reflector.Reflect(sp.args)
		s.Version = ""
		if s.Type == "" {
			s.Type = "object"
		}
		raw, err := json.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("marshal %s schema: %w", k, err)
		}
		v, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", k, err)
		}
		out[k] = &schema{raw: raw, validator: v}
	}
	return out, nil
}

// validate checks raw arguments against the schema. Empty arguments are
// treated as an empty object.
func (s *schema) validate(raw string) ([]byte, error) {
	data := []byte(strings.TrimSpace(raw))
	if len(data) == 0 {
		data = []byte("{}")
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: not valid JSON", ErrInvalidArguments)
	}

	result, err := s.validator.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidArguments, strings.Join(msgs, "; "))
	}
	return data, nil
}

// decode validates raw against s and unmarshals it into T.
func decode[T any](s *schema, raw string) (T, error) {
	var v T
	data, err := s.validate(raw)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return v, nil
}

// decodeLoose unmarshals raw into T without schema validation. The
// schema is still offered to the provider as a hint.
func decodeLoose[T any](raw string) (T, error) {
	var v T
	data := []byte(strings.TrimSpace(raw))
	if len(data) == 0 {
		data = []byte("{}")
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return v, nil
}

// Catalog returns the function definitions offered to the provider, in
// catalog order.
func (r *Registry) Catalog() []llm.FunctionDef {
	out := make([]llm.FunctionDef, 0, len(r.schemas))
	for _, k := range Kinds() {
		out = append(out, llm.FunctionDef{
			Name:        k.String(),
			Description: definitionOf(k).description,
			Parameters:  r.schemas[k].raw,
		})
	}
	return out
}
