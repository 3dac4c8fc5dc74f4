// Package export dumps the local state of a device as JSON, YAML or TOML.
//
// All three formats share the JSON field names of the row-store records, so
// an export can be compared directly against what the row-store holds.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/pomosync/pomosync/internal/db"
	"github.com/pomosync/pomosync/internal/schema"
	"github.com/pomosync/pomosync/internal/tombstone"
)

// FormatVersion is bumped when the document layout changes.
const FormatVersion = 1

// Format is an output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// ParseFormat validates a format name. "yml" is accepted for YAML.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "toml":
		return FormatTOML, nil
	}
	return "", fmt.Errorf("unknown export format %q (want json, yaml or toml)", name)
}

// FormatFromPath picks a format from a file extension, defaulting to JSON.
func FormatFromPath(path string) Format {
	if f, err := ParseFormat(strings.TrimPrefix(filepath.Ext(path), ".")); err == nil {
		return f
	}
	return FormatJSON
}

// Tombstone is one suppressed id.
type Tombstone struct {
	ID        string    `json:"id"`
	DeletedAt time.Time `json:"deletedAt"`
}

// Document is everything one device knows.
type Document struct {
	Version    int                    `json:"version"`
	ExportedAt time.Time              `json:"exportedAt"`
	DeviceID   string                 `json:"deviceId"`
	Tasks      []schema.Task          `json:"tasks"`
	Completed  []schema.CompletedTask `json:"completedTasks"`
	Sessions   []schema.WorkSession   `json:"workSessions"`
	Archived   []schema.ArchivedTask  `json:"archivedTasks"`
	Tombstones []Tombstone            `json:"tombstones"`
}

// New assembles a document. tombstones may be nil.
func New(snap *db.Snapshot, tombstones *tombstone.Tracker, deviceID string, now time.Time) *Document {
	doc := &Document{
		Version:    FormatVersion,
		ExportedAt: now.UTC(),
		DeviceID:   deviceID,
		Tasks:      nonNil(snap.Tasks),
		Completed:  nonNil(snap.Completed),
		Sessions:   nonNil(snap.Sessions),
		Archived:   nonNil(snap.Archived),
		Tombstones: []Tombstone{},
	}
	if tombstones != nil {
		for _, id := range tombstones.IDs() {
			at, _ := tombstones.RecordedAt(id)
			doc.Tombstones = append(doc.Tombstones, Tombstone{ID: id, DeletedAt: at.UTC()})
		}
	}
	return doc
}

// Write encodes doc to w.
func Write(w io.Writer, doc *Document, f Format) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)

	case FormatYAML:
		tree, err := toTree(doc)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(tree); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()

	case FormatTOML:
		tree, err := toTree(doc)
		if err != nil {
			return err
		}
		if err := toml.NewEncoder(w).Encode(tree); err != nil {
			return fmt.Errorf("failed to encode toml: %w", err)
		}
		return nil
	}
	return fmt.Errorf("unknown export format %q", f)
}

// toTree re-decodes doc through its JSON form so YAML and TOML use the same
// keys. Nulls are dropped since TOML cannot represent them.
func toTree(doc *Document) (map[string]any, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree map[string]any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return clean(tree).(map[string]any), nil
}

func clean(v any) any {
	switch v := v.(type) {
	case map[string]any:
		for k, child := range v {
			if child == nil {
				delete(v, k)
				continue
			}
			v[k] = clean(child)
		}
		return v
	case []any:
		for i := range v {
			v[i] = clean(v[i])
		}
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		f, _ := v.Float64()
		return f
	}
	return v
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
