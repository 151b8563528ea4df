package vigil

import "fmt"

// buildSnapshot builds a keyed snapshot from a raw record batch. A nil batch
// (no fetch has happened) produces the empty snapshot with no diagnostics.
// When a codec is set, record values are decoded as structured data; a
// record whose value does not decode is excluded from the snapshot and
// reported. Diagnostics are ordered validator-first, then decode failures,
// each group in record order.
func buildSnapshot(data any, codec Codec) (Snapshot, []error) {
	if data == nil {
		return Snapshot{}, nil
	}

	records, diags := validateRecords(data)
	if len(records) == 0 {
		return Snapshot{}, diags
	}

	entries := make(map[string]Entry, len(records))
	for _, rec := range records {
		key := rec["Key"].(string)
		if codec == nil {
			entries[key] = Entry{Value: rec["Value"], Meta: rec}
			continue
		}
		raw := rawValue(rec["Value"])
		var decoded any
		if err := codec.Unmarshal([]byte(raw), &decoded); err != nil {
			diags = append(diags, &DecodeError{Key: key, Raw: raw, Err: err})
			continue
		}
		entries[key] = Entry{Value: decoded, Meta: rec}
	}
	return newSnapshot(entries), diags
}

// rawValue renders a record value as the string form the codec consumes.
func rawValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}
