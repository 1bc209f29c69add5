package params

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ropereraLK/conductor-community/engine/core"
	"github.com/ropereraLK/conductor-community/engine/task"
	"github.com/ropereraLK/conductor-community/engine/workflow"
)

// Resolver evaluates input-parameter expressions against a workflow snapshot.
// It is referentially transparent: the same inputs always produce the same
// map, unresolved paths become nil, and nothing is ever mutated.
type Resolver struct{}

func NewResolver() *Resolver {
	return &Resolver{}
}

// TaskInput resolves inputParams using the schema version of the workflow.
// td and taskID extend the document for schema >= 2 and may be zero values.
func (r *Resolver) TaskInput(inputParams core.Payload, w *workflow.Workflow, td *task.Def, taskID core.ID) core.Payload {
	if w.SchemaVersion > 1 {
		return r.TaskInputV2(inputParams, w, td, taskID)
	}
	return r.taskInputV1(inputParams, w)
}

// taskInputV1 is the schema-1 shallow substitution: every value is a dotted
// path `source.kind.name` where source is "workflow" or a task reference name
// and kind is "input" or "output".
func (r *Resolver) taskInputV1(inputParams core.Payload, w *workflow.Workflow) core.Payload {
	input := core.Payload{}
	for paramName, value := range inputParams {
		paramPath := fmt.Sprintf("%v", value)
		components := strings.Split(paramPath, ".")
		if len(components) < 3 {
			input[paramName] = nil
			continue
		}
		source, kind, name := components[0], components[1], components[2]
		if source == "workflow" {
			input[paramName] = w.Input[name]
			continue
		}
		t := w.TaskByRefName(source)
		if t == nil {
			input[paramName] = nil
			continue
		}
		if kind == "input" {
			input[paramName] = t.Input[name]
		} else {
			input[paramName] = t.Output[name]
		}
	}
	return input
}

// TaskInputV2 resolves nested expressions: `${path}` references anywhere in
// the parameter tree, typed extraction when a string is a single reference,
// string splicing otherwise.
func (r *Resolver) TaskInputV2(inputParams core.Payload, w *workflow.Workflow, td *task.Def, taskID core.ID) core.Payload {
	document := buildDocument(w, td, taskID)
	resolved, _ := replace(inputParams, document).(map[string]any)
	if resolved == nil {
		resolved = core.Payload{}
	}
	return resolved
}

func buildDocument(w *workflow.Workflow, td *task.Def, taskID core.ID) map[string]any {
	document := map[string]any{
		"workflow": map[string]any{
			"input":                 w.Input,
			"output":                w.Output,
			"status":                w.Status.String(),
			"workflowId":            w.WorkflowID,
			"workflowType":          w.WorkflowType,
			"version":               w.Version,
			"correlationId":         w.CorrelationID,
			"reasonForIncompletion": w.ReasonForIncompletion,
			"schemaVersion":         w.SchemaVersion,
		},
	}
	for _, t := range w.Tasks {
		document[t.ReferenceName] = map[string]any{
			"input":                 t.Input,
			"output":                t.Output,
			"taskType":              t.TaskType.String(),
			"status":                t.Status.String(),
			"referenceTaskName":     t.ReferenceName,
			"retryCount":            t.RetryCount,
			"pollCount":             t.PollCount,
			"taskDefName":           t.TaskDefName,
			"scheduledTime":         t.ScheduledTime,
			"startTime":             t.StartTime,
			"endTime":               t.EndTime,
			"workflowInstanceId":    t.WorkflowInstanceID,
			"taskId":                t.TaskID,
			"reasonForIncompletion": t.ReasonForIncompletion,
			"callbackAfterSeconds":  t.CallbackAfterSeconds,
			"workerId":              t.WorkerID,
		}
	}
	if taskID != "" || td != nil {
		taskParams := map[string]any{"taskId": taskID}
		if td != nil {
			taskParams["taskDefName"] = td.Name
		}
		document["task"] = taskParams
	}
	return document
}

func replace(value any, document map[string]any) any {
	switch typed := value.(type) {
	case map[string]any:
		result := make(map[string]any, len(typed))
		for key, nested := range typed {
			result[key] = replace(nested, document)
		}
		return result
	case []any:
		result := make([]any, len(typed))
		for i, nested := range typed {
			result[i] = replace(nested, document)
		}
		return result
	case string:
		return replaceString(typed, document)
	default:
		return value
	}
}

// replaceString substitutes `${path}` references. A string that is exactly
// one reference yields the typed value at that path (nil when unresolved);
// embedded references are spliced in as text.
func replaceString(s string, document map[string]any) any {
	if !strings.Contains(s, "${") {
		return s
	}
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") && strings.Count(s, "${") == 1 {
		return lookup(document, s[2:len(s)-1])
	}
	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			b.WriteString(rest)
			return b.String()
		}
		end := strings.Index(rest[start:], "}")
		if end < 0 {
			b.WriteString(rest)
			return b.String()
		}
		b.WriteString(rest[:start])
		if value := lookup(document, rest[start+2:start+end]); value != nil {
			fmt.Fprintf(&b, "%v", value)
		}
		rest = rest[start+end+1:]
	}
}

// lookup walks a dotted path through nested maps and lists. Segments may
// carry an index suffix, e.g. `items[2]`.
func lookup(document map[string]any, path string) any {
	var current any = document
	for segment := range strings.SplitSeq(path, ".") {
		name := segment
		index := -1
		if open := strings.Index(segment, "["); open >= 0 && strings.HasSuffix(segment, "]") {
			parsed, err := strconv.Atoi(segment[open+1 : len(segment)-1])
			if err != nil {
				return nil
			}
			name, index = segment[:open], parsed
		}
		if name != "" {
			m, ok := current.(map[string]any)
			if !ok {
				return nil
			}
			current = m[name]
		}
		if index >= 0 {
			list, ok := current.([]any)
			if !ok || index >= len(list) {
				return nil
			}
			current = list[index]
		}
	}
	return current
}
