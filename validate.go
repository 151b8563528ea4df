package vigil

// recordFields are the fields every well-formed record must carry besides
// Key, which additionally has to be a string so it can index the snapshot.
var recordFields = []string{"Value", "CreateIndex", "Flags", "LockIndex", "ModifyIndex"}

// validateRecords filters a raw batch down to its well-formed records.
// A payload that is not a batch yields exactly one PayloadError. Each
// malformed element yields one RecordError carrying the element. Well-formed
// records pass through unchanged, order preserved.
func validateRecords(data any) ([]map[string]any, []error) {
	var batch []any
	switch v := data.(type) {
	case []any:
		batch = v
	case []map[string]any:
		batch = make([]any, len(v))
		for i, m := range v {
			batch[i] = m
		}
	default:
		return nil, []error{&PayloadError{Value: data}}
	}

	var (
		records []map[string]any
		diags   []error
	)
	for _, el := range batch {
		rec, ok := el.(map[string]any)
		if ok && wellFormed(rec) {
			records = append(records, rec)
			continue
		}
		diags = append(diags, &RecordError{Record: el})
	}
	return records, diags
}

func wellFormed(rec map[string]any) bool {
	if _, ok := rec["Key"].(string); !ok {
		return false
	}
	for _, f := range recordFields {
		if _, ok := rec[f]; !ok {
			return false
		}
	}
	return true
}
