package payload

import (
	"context"
	"encoding/json"

	"github.com/ropereraLK/conductor-community/engine/core"
	"github.com/ropereraLK/conductor-community/engine/metrics"
	"github.com/ropereraLK/conductor-community/engine/task"
	"github.com/ropereraLK/conductor-community/engine/workflow"
	"github.com/ropereraLK/conductor-community/pkg/config"
)

// Kind tags which payload of an entity is being stored.
type Kind string

const (
	KindWorkflowInput  Kind = "WORKFLOW_INPUT"
	KindWorkflowOutput Kind = "WORKFLOW_OUTPUT"
	KindTaskInput      Kind = "TASK_INPUT"
	KindTaskOutput     Kind = "TASK_OUTPUT"
)

const (
	opRead  = "READ"
	opWrite = "WRITE"
)

// Storage is the external blob store. Paths are opaque handles; concurrent
// readers of one path are safe.
type Storage interface {
	Upload(ctx context.Context, kind Kind, data []byte) (string, error)
	Download(ctx context.Context, path string) ([]byte, error)
}

// Gateway elects between in-memory and external storage for oversized
// payloads and moves them transparently in both directions.
type Gateway struct {
	storage Storage
	cfg     config.PayloadConfig
	monitor *metrics.Monitor
}

func NewGateway(storage Storage, cfg config.PayloadConfig, monitor *metrics.Monitor) *Gateway {
	return &Gateway{storage: storage, cfg: cfg, monitor: monitor}
}

// Download fetches and decodes an externalized payload.
func (g *Gateway) Download(ctx context.Context, path string) (core.Payload, error) {
	data, err := g.storage.Download(ctx, path)
	if err != nil {
		return nil, core.WrapError(core.CodeTransientIO, err, "failed to download payload at %q", path)
	}
	var payload core.Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, core.WrapError(core.CodeInternal, err, "failed to decode payload at %q", path)
	}
	return payload, nil
}

// RecordUsage counts one storage operation for an entity name.
func (g *Gateway) RecordUsage(name string, read bool, kind Kind) {
	op := opWrite
	if read {
		op = opRead
	}
	g.monitor.RecordPayloadUsage(name, op, string(kind))
}

// VerifyAndUploadTask externalizes the task's input or output when it exceeds
// the threshold, clearing the in-memory map and setting the external path.
func (g *Gateway) VerifyAndUploadTask(ctx context.Context, t *task.Task, kind Kind) error {
	switch kind {
	case KindTaskInput:
		path, cleared, err := g.verifyAndUpload(ctx, t.TaskDefName, t.Input, kind)
		if err != nil {
			return err
		}
		if cleared {
			t.Input = core.Payload{}
			t.ExternalInputPath = path
		}
	case KindTaskOutput:
		path, cleared, err := g.verifyAndUpload(ctx, t.TaskDefName, t.Output, kind)
		if err != nil {
			return err
		}
		if cleared {
			t.Output = core.Payload{}
			t.ExternalOutputPath = path
		}
	default:
		return core.ErrInvalidInput("payload kind %q is not a task payload", kind)
	}
	return nil
}

// VerifyAndUploadWorkflow is the workflow-side counterpart of
// VerifyAndUploadTask.
func (g *Gateway) VerifyAndUploadWorkflow(ctx context.Context, w *workflow.Workflow, kind Kind) error {
	switch kind {
	case KindWorkflowInput:
		path, cleared, err := g.verifyAndUpload(ctx, w.WorkflowType, w.Input, kind)
		if err != nil {
			return err
		}
		if cleared {
			w.Input = core.Payload{}
			w.ExternalInputPath = path
		}
	case KindWorkflowOutput:
		path, cleared, err := g.verifyAndUpload(ctx, w.WorkflowType, w.Output, kind)
		if err != nil {
			return err
		}
		if cleared {
			w.Output = core.Payload{}
			w.ExternalOutputPath = path
		}
	default:
		return core.ErrInvalidInput("payload kind %q is not a workflow payload", kind)
	}
	return nil
}

func (g *Gateway) verifyAndUpload(ctx context.Context, name string, payload core.Payload, kind Kind) (string, bool, error) {
	if len(payload) == 0 {
		return "", false, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", false, core.WrapError(core.CodeInternal, err, "failed to serialize %s payload for %q", kind, name)
	}
	sizeKB := int64(len(data)) / 1024
	if sizeKB > g.cfg.MaxThresholdKB {
		return "", false, core.ErrInvalidInput("%s payload of %q is %dKB, above the %dKB limit", kind, name, sizeKB, g.cfg.MaxThresholdKB)
	}
	if sizeKB <= g.cfg.ThresholdKB {
		return "", false, nil
	}
	path, err := g.storage.Upload(ctx, kind, data)
	if err != nil {
		return "", false, core.WrapError(core.CodeTransientIO, err, "failed to upload %s payload for %q", kind, name)
	}
	g.RecordUsage(name, false, kind)
	return path, true, nil
}
