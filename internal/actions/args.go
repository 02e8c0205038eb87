package actions

import (
	"encoding/json"
	"strings"
)

// Argument payloads, one per action. Their JSON schemas are generated
// by reflection for the provider catalog and used to validate the raw
// arguments the provider sends back. Fields without omitempty are
// required.

type saveMemoryArgs struct {
	Data     string `json:"data" jsonschema_description:"the information to remember"`
	Category string `json:"category" jsonschema:"enum=user_details,enum=context,enum=facts,enum=messages"`
	Tags     string `json:"tags" jsonschema_description:"comma separated generic terms to find this memory again later; use at least five"`
}

type loadMemoryArgs struct {
	Category string `json:"category" jsonschema:"enum=user_details,enum=context,enum=facts,enum=messages"`
	Tags     string `json:"tags" jsonschema_description:"a single generic tag that narrows the search"`
}

type listTodosArgs struct{}

type createTodoArgs struct {
	Task    string `json:"task" jsonschema:"minLength=1" jsonschema_description:"name or content of the task"`
	DueDate string `json:"dueDate,omitempty" jsonschema_description:"due date as YYYY-MM-DD, only if the user gives one"`
}

type deleteTodoArgs struct {
	Index int `json:"index" jsonschema:"minimum=0" jsonschema_description:"zero-based position of the task in the todo list"`
}

type getWeatherArgs struct{}

type musicControlArgs struct {
	Action string `json:"action" jsonschema:"enum=next,enum=details,enum=play,enum=pause" jsonschema_description:"next skips the song, details describes the current song, play starts or resumes, pause stops"`
}

type musicRandomArgs struct {
	Genre string `json:"genre" jsonschema_description:"music genre such as jazz, rock or lo-fi; use random when the user gives none"`
}

type musicSearchArgs struct {
	Query string `json:"query" jsonschema:"minLength=1" jsonschema_description:"name of the song to search for"`
}

type deviceActionArgs struct {
	Action string `json:"action" jsonschema:"enum=shutdown,enum=turnon"`
}

type trainStatusArgs struct {
	TrainNo int         `json:"trainNo,omitempty" jsonschema:"minimum=1" jsonschema_description:"number of the train the user mentions"`
	Date    json.Number `json:"date,omitempty" jsonschema_description:"day of travel formatted as YYYYMMDD; today when omitted"`
}

type replyWithExpressionArgs struct {
	Content       string `json:"content" jsonschema:"minLength=1" jsonschema_description:"the reply sent to the user"`
	AnimationName string `json:"animationName,omitempty" jsonschema:"enum=Laughing,enum=Greet,enum=Thank,enum=Sad,enum=Angry,enum=Disappointed,enum=Happy"`
}

// Animations are the expression tags a device can perform.
var Animations = []string{"Laughing", "Greet", "Thank", "Sad", "Angry", "Disappointed", "Happy"}

// canonicalAnimation maps name onto [Animations] ignoring case. Unknown
// names map to "".
func canonicalAnimation(name string) string {
	name = strings.TrimSpace(name)
	for _, a := range Animations {
		if strings.EqualFold(a, name) {
			return a
		}
	}
	return ""
}
