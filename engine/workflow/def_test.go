package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ropereraLK/conductor-community/engine/core"
	"github.com/ropereraLK/conductor-community/engine/task"
)

func branchingDef() *Def {
	return &Def{
		Name:          "publish_pipeline",
		Version:       1,
		SchemaVersion: 2,
		Tasks: []*TaskTemplate{
			{Name: "prepare", TaskReferenceName: "prepare_ref"},
			{
				Name:              "route",
				TaskReferenceName: "route_ref",
				Type:              task.TypeDecision,
				CaseValueParam:    "mode",
				DecisionCases: map[string][]*TaskTemplate{
					"fast": {
						{Name: "encode", TaskReferenceName: "fast_encode_ref"},
						{Name: "verify", TaskReferenceName: "fast_verify_ref"},
					},
				},
				DefaultCase: []*TaskTemplate{
					{Name: "encode", TaskReferenceName: "slow_encode_ref"},
				},
			},
			{
				Name:              "split",
				TaskReferenceName: "split_ref",
				Type:              task.TypeFork,
				ForkTasks: [][]*TaskTemplate{
					{{Name: "encode", TaskReferenceName: "audio_ref"}},
					{
						{Name: "encode", TaskReferenceName: "video_ref"},
						{Name: "verify", TaskReferenceName: "video_verify_ref"},
					},
				},
			},
			{
				Name:              "merge",
				TaskReferenceName: "merge_ref",
				Type:              task.TypeJoin,
				JoinOn:            []string{"audio_ref", "video_verify_ref"},
			},
			{Name: "publish", TaskReferenceName: "publish_ref"},
		},
	}
}

func TestDef_NextTask(t *testing.T) {
	def := branchingDef()

	t.Run("Should step to the next sibling at the top level", func(t *testing.T) {
		next := def.NextTask("prepare_ref")
		require.NotNil(t, next)
		assert.Equal(t, "route_ref", next.TaskReferenceName)
	})

	t.Run("Should step within a decision branch", func(t *testing.T) {
		next := def.NextTask("fast_encode_ref")
		require.NotNil(t, next)
		assert.Equal(t, "fast_verify_ref", next.TaskReferenceName)
	})

	t.Run("Should leave a decision branch to the template after the decision", func(t *testing.T) {
		next := def.NextTask("fast_verify_ref")
		require.NotNil(t, next)
		assert.Equal(t, "split_ref", next.TaskReferenceName)
	})

	t.Run("Should step within a fork branch", func(t *testing.T) {
		next := def.NextTask("video_ref")
		require.NotNil(t, next)
		assert.Equal(t, "video_verify_ref", next.TaskReferenceName)
	})

	t.Run("Should hand a finished fork branch to the join", func(t *testing.T) {
		next := def.NextTask("audio_ref")
		require.NotNil(t, next)
		assert.Equal(t, "merge_ref", next.TaskReferenceName)
	})

	t.Run("Should return nil after the last template", func(t *testing.T) {
		assert.Nil(t, def.NextTask("publish_ref"))
	})

	t.Run("Should return nil for an unknown reference", func(t *testing.T) {
		assert.Nil(t, def.NextTask("nope_ref"))
	})
}

func TestDef_TaskByRefName(t *testing.T) {
	def := branchingDef()

	t.Run("Should find a top-level template", func(t *testing.T) {
		wt := def.TaskByRefName("publish_ref")
		require.NotNil(t, wt)
		assert.Equal(t, "publish", wt.Name)
	})

	t.Run("Should find a template nested in a branch", func(t *testing.T) {
		wt := def.TaskByRefName("video_verify_ref")
		require.NotNil(t, wt)
		assert.Equal(t, "verify", wt.Name)
	})

	t.Run("Should return nil for an unknown reference", func(t *testing.T) {
		assert.Nil(t, def.TaskByRefName("nope_ref"))
	})
}

func TestDef_Validate(t *testing.T) {
	t.Run("Should accept a well-formed definition", func(t *testing.T) {
		require.NoError(t, branchingDef().Validate())
	})

	t.Run("Should reject a definition without tasks", func(t *testing.T) {
		def := &Def{Name: "empty", Version: 1}
		err := def.Validate()
		require.Error(t, err)
		assert.True(t, core.IsInvalidInput(err))
	})

	t.Run("Should reject duplicate reference names across branches", func(t *testing.T) {
		def := branchingDef()
		def.Tasks[0].TaskReferenceName = "audio_ref"
		err := def.Validate()
		require.Error(t, err)
		assert.True(t, core.IsInvalidInput(err))
		assert.Contains(t, err.Error(), "audio_ref")
	})
}

func TestDefFromYAML(t *testing.T) {
	t.Run("Should decode and validate a definition", func(t *testing.T) {
		data := []byte(`
name: encode_and_archive
version: 1
schema_version: 2
tasks:
  - name: encode
    task_reference_name: encode_ref
    input_parameters:
      source: "${workflow.input.source}"
  - name: archive
    task_reference_name: archive_ref
`)
		def, err := DefFromYAML(data)
		require.NoError(t, err)
		assert.Equal(t, "encode_and_archive", def.Name)
		assert.Equal(t, 2, def.SchemaVersion)
		require.Len(t, def.Tasks, 2)
		assert.Equal(t, task.TypeSimple, def.Tasks[0].TaskType())
		assert.Equal(t, "${workflow.input.source}", def.Tasks[0].InputParameters["source"])
	})

	t.Run("Should reject malformed yaml", func(t *testing.T) {
		_, err := DefFromYAML([]byte("tasks: [unbalanced"))
		require.Error(t, err)
		assert.True(t, core.IsInvalidInput(err))
	})

	t.Run("Should reject a definition missing its name", func(t *testing.T) {
		_, err := DefFromYAML([]byte("tasks:\n  - name: encode\n    task_reference_name: encode_ref\n"))
		require.Error(t, err)
		assert.True(t, core.IsInvalidInput(err))
	})
}

func TestWorkflow_TaskByRefName(t *testing.T) {
	t.Run("Should return the latest attempt for a reference name", func(t *testing.T) {
		w := &Workflow{Tasks: []*task.Task{
			{TaskID: "t-1", ReferenceName: "encode_ref", Status: task.StatusFailed},
			{TaskID: "t-2", ReferenceName: "encode_ref", Status: task.StatusScheduled},
		}}
		found := w.TaskByRefName("encode_ref")
		require.NotNil(t, found)
		assert.Equal(t, core.ID("t-2"), found.TaskID)
	})

	t.Run("Should return nil for an unknown reference name", func(t *testing.T) {
		w := &Workflow{}
		assert.Nil(t, w.TaskByRefName("missing"))
	})
}
