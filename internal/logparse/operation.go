package logparse

import (
	"strings"

	"github.com/tinytelemetry/mongoslow/internal/model"
)

// verbOperations maps the op column of pre-4.4 text logs.
var verbOperations = map[string]model.Operation{
	"query":       model.OpQuery,
	"getmore":     model.OpGetMore,
	"insert":      model.OpInsert,
	"update":      model.OpUpdate,
	"remove":      model.OpRemove,
	"delete":      model.OpRemove,
	"aggregate":   model.OpAggregate,
	"command":     model.OpCommand,
	"killcursors": model.OpCommand,
}

// commandOperations classifies database commands by name.
var commandOperations = map[string]model.Operation{
	"find":          model.OpQuery,
	"getmore":       model.OpGetMore,
	"aggregate":     model.OpAggregate,
	"insert":        model.OpInsert,
	"update":        model.OpUpdate,
	"findandmodify": model.OpUpdate,
	"delete":        model.OpRemove,
}

// CommandOperation returns the operation kind of the named command.
// Unrecognised commands are plain commands.
func CommandOperation(name string) model.Operation {
	if op, ok := commandOperations[strings.ToLower(name)]; ok {
		return op
	}
	return model.OpCommand
}

// typeOperation maps the attr.type field of structured logs.
func typeOperation(typ, commandName string) model.Operation {
	switch strings.ToLower(typ) {
	case "command", "":
		if commandName == "" {
			return model.OpCommand
		}
		return CommandOperation(commandName)
	case "query":
		return model.OpQuery
	case "getmore":
		return model.OpGetMore
	case "insert":
		return model.OpInsert
	case "update":
		return model.OpUpdate
	case "remove", "delete":
		return model.OpRemove
	default:
		return model.OpUnknown
	}
}
