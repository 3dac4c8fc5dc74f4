// Package migrate imports data written by the browser client.
//
// The browser keeps everything in localStorage under a handful of keys. A
// dump of those keys (JSON.stringify(localStorage) in the dev console, or a
// hand-built object) is read here and folded into the local store.
package migrate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
)

// localStorage keys written by the browser client.
const (
	KeyData       = "pomodoroData"
	KeyTombstones = "pomodoroDeletedTaskIds"
	KeyQueue      = "pomodoroSyncQueue"
	KeyDeviceID   = "pomodoroDeviceId"
)

// Export is a parsed localStorage dump.
type Export struct {
	Data       *LegacyData
	Tombstones json.RawMessage
	Queue      json.RawMessage
	DeviceID   string
}

// LegacyData is the part of pomodoroData that carries synced state. Timer
// settings and sound preferences are ignored.
type LegacyData struct {
	Tasks          json.RawMessage `json:"tasks"`
	CompletedTasks json.RawMessage `json:"completedTasks"`
	WorkSessions   json.RawMessage `json:"workSessions"`
	ArchivedTasks  json.RawMessage `json:"archivedTasks"`
	LastSyncTime   string          `json:"lastSyncTime"`
	DeviceID       string          `json:"deviceId"`

	// GoogleSheetsWebhook is the row-store endpoint the browser used.
	GoogleSheetsWebhook string `json:"googleSheetsWebhook"`
}

// ReadExport reads and parses a dump file.
func ReadExport(path string) (*Export, error) {
	// #nosec G304 - controlled path from CLI
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open export: %w", err)
	}
	defer f.Close()
	return ParseExport(f)
}

// ParseExport parses a dump. Values may be stored either as JSON strings
// (how localStorage holds them) or as inline JSON.
func ParseExport(r io.Reader) (*Export, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid export: %w", err)
	}

	exp := &Export{}

	if v, ok := raw[KeyData]; ok {
		body, err := unwrap(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", KeyData, err)
		}
		if body != nil {
			var data LegacyData
			if err := json.Unmarshal(body, &data); err != nil {
				return nil, fmt.Errorf("invalid %s: %w", KeyData, err)
			}
			exp.Data = &data
		}
	}

	var err error
	if exp.Tombstones, err = unwrap(raw[KeyTombstones]); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", KeyTombstones, err)
	}
	if exp.Queue, err = unwrap(raw[KeyQueue]); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", KeyQueue, err)
	}
	if v, ok := raw[KeyDeviceID]; ok {
		if err := json.Unmarshal(v, &exp.DeviceID); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", KeyDeviceID, err)
		}
	}
	if exp.DeviceID == "" && exp.Data != nil {
		exp.DeviceID = exp.Data.DeviceID
	}

	if exp.Data == nil && exp.Tombstones == nil && exp.Queue == nil {
		return nil, fmt.Errorf("export contains none of %s, %s, %s", KeyData, KeyTombstones, KeyQueue)
	}
	return exp, nil
}

// unwrap returns the JSON held by v, decoding it first if it is a string.
// Missing, null and empty values give nil.
func unwrap(v json.RawMessage) (json.RawMessage, error) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || string(v) == "null" {
		return nil, nil
	}
	if v[0] != '"' {
		return v, nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return nil, err
	}
	if s == "" || s == "null" {
		return nil, nil
	}
	if !json.Valid([]byte(s)) {
		return nil, fmt.Errorf("string value is not JSON")
	}
	return json.RawMessage(s), nil
}

// decodeRecords decodes an array of records. Early browser builds used
// numeric ids (Date.now()); those are turned into strings first.
func decodeRecords[T any](raw json.RawMessage) ([]T, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var items []map[string]any
	if err := dec.Decode(&items); err != nil {
		return nil, err
	}

	out := make([]T, 0, len(items))
	for _, item := range items {
		for _, key := range []string{"id", "taskId"} {
			if n, ok := item[key].(json.Number); ok {
				item[key] = n.String()
			}
		}
		if v, ok := item["version"].(json.Number); ok {
			if _, err := strconv.Atoi(v.String()); err != nil {
				delete(item, "version")
			}
		}
		if v, ok := item["duration"].(json.Number); ok {
			if f, err := v.Float64(); err == nil {
				item["duration"] = int(math.Round(f))
			}
		}

		data, err := json.Marshal(item)
		if err != nil {
			return nil, err
		}
		var rec T
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
