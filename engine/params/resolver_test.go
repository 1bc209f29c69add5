package params

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ropereraLK/conductor-community/engine/core"
	"github.com/ropereraLK/conductor-community/engine/task"
	"github.com/ropereraLK/conductor-community/engine/workflow"
)

func resolverWorkflow(schemaVersion int) *workflow.Workflow {
	return &workflow.Workflow{
		WorkflowID:    "wf-1",
		WorkflowType:  "encode_and_archive",
		Version:       1,
		Status:        workflow.StatusRunning,
		SchemaVersion: schemaVersion,
		Input: core.Payload{
			"source": "s3://bucket/raw.mov",
			"specs":  map[string]any{"bitrates": []any{"1080p", "720p", "480p"}},
		},
		Tasks: []*task.Task{{
			TaskID:        "task-1",
			ReferenceName: "encode_ref",
			TaskDefName:   "encode",
			Status:        task.StatusCompleted,
			Input:         core.Payload{"preset": "fast"},
			Output:        core.Payload{"location": "s3://bucket/out.mp4", "sizeMB": 42},
		}},
	}
}

func TestResolver_TaskInputV2(t *testing.T) {
	r := NewResolver()

	t.Run("Should extract a typed value for a whole-string reference", func(t *testing.T) {
		input := r.TaskInputV2(core.Payload{
			"size": "${encode_ref.output.sizeMB}",
		}, resolverWorkflow(2), nil, "")
		assert.Equal(t, 42, input["size"])
	})

	t.Run("Should splice embedded references into the string", func(t *testing.T) {
		input := r.TaskInputV2(core.Payload{
			"message": "encoded ${workflow.input.source} to ${encode_ref.output.location}",
		}, resolverWorkflow(2), nil, "")
		assert.Equal(t, "encoded s3://bucket/raw.mov to s3://bucket/out.mp4", input["message"])
	})

	t.Run("Should resolve references nested in maps and lists", func(t *testing.T) {
		input := r.TaskInputV2(core.Payload{
			"request": map[string]any{
				"files": []any{"${encode_ref.output.location}", "static.txt"},
			},
		}, resolverWorkflow(2), nil, "")
		request := input["request"].(map[string]any)
		files := request["files"].([]any)
		assert.Equal(t, "s3://bucket/out.mp4", files[0])
		assert.Equal(t, "static.txt", files[1])
	})

	t.Run("Should walk list indices inside a path", func(t *testing.T) {
		input := r.TaskInputV2(core.Payload{
			"best": "${workflow.input.specs.bitrates[0]}",
		}, resolverWorkflow(2), nil, "")
		assert.Equal(t, "1080p", input["best"])
	})

	t.Run("Should resolve an unknown path to nil", func(t *testing.T) {
		input := r.TaskInputV2(core.Payload{
			"missing": "${no_such_ref.output.value}",
		}, resolverWorkflow(2), nil, "")
		assert.Contains(t, input, "missing")
		assert.Nil(t, input["missing"])
	})

	t.Run("Should pass literals through untouched", func(t *testing.T) {
		input := r.TaskInputV2(core.Payload{
			"literal": "no references here",
			"number":  7,
			"flag":    true,
		}, resolverWorkflow(2), nil, "")
		assert.Equal(t, "no references here", input["literal"])
		assert.Equal(t, 7, input["number"])
		assert.Equal(t, true, input["flag"])
	})

	t.Run("Should expose workflow metadata in the document", func(t *testing.T) {
		input := r.TaskInputV2(core.Payload{
			"id":     "${workflow.workflowId}",
			"status": "${workflow.status}",
		}, resolverWorkflow(2), nil, "")
		assert.Equal(t, "wf-1", input["id"])
		assert.Equal(t, "RUNNING", input["status"])
	})

	t.Run("Should expose the task context when provided", func(t *testing.T) {
		input := r.TaskInputV2(core.Payload{
			"attempt": "${task.taskId}",
			"defName": "${task.taskDefName}",
		}, resolverWorkflow(2), task.NewDef("encode"), "task-9")
		assert.Equal(t, core.ID("task-9"), input["attempt"])
		assert.Equal(t, "encode", input["defName"])
	})

	t.Run("Should not mutate the input parameters", func(t *testing.T) {
		inputParams := core.Payload{"size": "${encode_ref.output.sizeMB}"}
		r.TaskInputV2(inputParams, resolverWorkflow(2), nil, "")
		assert.Equal(t, "${encode_ref.output.sizeMB}", inputParams["size"])
	})
}

func TestResolver_TaskInputV1(t *testing.T) {
	r := NewResolver()

	t.Run("Should resolve dotted paths against workflow input", func(t *testing.T) {
		input := r.TaskInput(core.Payload{
			"src": "workflow.input.source",
		}, resolverWorkflow(1), nil, "")
		assert.Equal(t, "s3://bucket/raw.mov", input["src"])
	})

	t.Run("Should resolve dotted paths against task output", func(t *testing.T) {
		input := r.TaskInput(core.Payload{
			"loc": "encode_ref.output.location",
		}, resolverWorkflow(1), nil, "")
		assert.Equal(t, "s3://bucket/out.mp4", input["loc"])
	})

	t.Run("Should resolve an unknown reference to nil", func(t *testing.T) {
		input := r.TaskInput(core.Payload{
			"gone": "missing_ref.output.value",
		}, resolverWorkflow(1), nil, "")
		assert.Contains(t, input, "gone")
		assert.Nil(t, input["gone"])
	})
}

func TestResolver_SchemaDispatch(t *testing.T) {
	r := NewResolver()

	t.Run("Should use expression resolution for schema two", func(t *testing.T) {
		input := r.TaskInput(core.Payload{
			"src": "${workflow.input.source}",
		}, resolverWorkflow(2), nil, "")
		assert.Equal(t, "s3://bucket/raw.mov", input["src"])
	})
}
