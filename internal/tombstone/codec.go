package tombstone

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// encode serializes entries as [[id, unix-ms], ...] ordered by id.
func encode(entries map[string]time.Time) ([]byte, error) {
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	pairs := make([][2]any, 0, len(ids))
	for _, id := range ids {
		pairs = append(pairs, [2]any{id, entries[id].UnixMilli()})
	}
	return json.Marshal(pairs)
}

// decode accepts both the pair format and the legacy bare-id list.
// Entries without a usable timestamp get now. migrated reports whether any
// legacy entry was seen.
func decode(raw []byte, now time.Time) (entries map[string]time.Time, migrated bool, err error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false, err
	}

	entries = make(map[string]time.Time, len(items))
	for i, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) == 0 {
			continue
		}

		switch item[0] {
		case '"':
			var id string
			if err := json.Unmarshal(item, &id); err != nil {
				return nil, false, fmt.Errorf("entry %d: %w", i, err)
			}
			if id != "" {
				entries[id] = now
				migrated = true
			}

		case '[':
			var pair []json.RawMessage
			if err := json.Unmarshal(item, &pair); err != nil {
				return nil, false, fmt.Errorf("entry %d: %w", i, err)
			}
			if len(pair) == 0 {
				continue
			}
			var id string
			if err := json.Unmarshal(pair[0], &id); err != nil {
				return nil, false, fmt.Errorf("entry %d: id: %w", i, err)
			}
			if id == "" {
				continue
			}
			at := now
			if len(pair) > 1 {
				var ms float64
				if err := json.Unmarshal(pair[1], &ms); err == nil && ms > 0 {
					at = time.UnixMilli(int64(ms))
				} else {
					migrated = true
				}
			} else {
				migrated = true
			}
			entries[id] = at

		default:
			return nil, false, fmt.Errorf("entry %d: unexpected value %s", i, item)
		}
	}
	return entries, migrated, nil
}
