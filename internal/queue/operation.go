package queue

import (
	"encoding/json"
	"fmt"
)

// Kind identifies what a pending operation asks the row-store to do.
type Kind string

const (
	KindSyncTask          Kind = "sync_task"
	KindSyncCompletedTask Kind = "sync_completed_task"
	KindSyncWorkSession   Kind = "sync_work_session"
	KindSyncArchivedTask  Kind = "sync_archived_task"
	KindDeleteTask        Kind = "delete_task"
)

// Kinds lists every operation kind in processing order.
var Kinds = []Kind{
	KindSyncTask,
	KindSyncCompletedTask,
	KindSyncWorkSession,
	KindSyncArchivedTask,
	KindDeleteTask,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Operation is one pending mutation intent.
type Operation struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DeletePayload is the payload of a delete_task operation.
type DeletePayload struct {
	TaskID    string `json:"taskId"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// NewOperation encodes payload into an operation of the given kind.
func NewOperation(kind Kind, payload any) (Operation, error) {
	if !kind.Valid() {
		return Operation{}, fmt.Errorf("unknown operation kind %q", kind)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Operation{}, fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}
	return Operation{Kind: kind, Payload: data}, nil
}

// Decode unmarshals the payload into v.
func (op Operation) Decode(v any) error {
	if len(op.Payload) == 0 {
		return fmt.Errorf("%s operation has no payload", op.Kind)
	}
	if err := json.Unmarshal(op.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", op.Kind, err)
	}
	return nil
}

// UnmarshalJSON also accepts the {type, data} shape written by the browser client.
func (op *Operation) UnmarshalJSON(b []byte) error {
	var raw struct {
		Kind    Kind            `json:"kind"`
		Payload json.RawMessage `json:"payload"`
		Type    Kind            `json:"type"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	op.Kind, op.Payload = raw.Kind, raw.Payload
	if op.Kind == "" {
		op.Kind = raw.Type
	}
	if len(op.Payload) == 0 {
		op.Payload = raw.Data
	}
	return nil
}

// Group is the operations of one kind, in enqueue order.
type Group struct {
	Kind Kind
	Ops  []Operation
}

// GroupByKind partitions ops by kind. Groups are ordered by first
// appearance and keep the relative order of their operations.
func GroupByKind(ops []Operation) []Group {
	index := make(map[Kind]int)
	var groups []Group
	for _, op := range ops {
		i, ok := index[op.Kind]
		if !ok {
			i = len(groups)
			index[op.Kind] = i
			groups = append(groups, Group{Kind: op.Kind})
		}
		groups[i].Ops = append(groups[i].Ops, op)
	}
	return groups
}
