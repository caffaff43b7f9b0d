package schema

// Record is the unit of data flowing along graph edges.
type Record = map[string]any

// Items is the ordered list of records flowing through one output port.
type Items = []Record

// NormalizeItems wraps a single record or a list of records into Items.
// Non-record list elements are wrapped as {"value": element}; nil yields an empty list.
func NormalizeItems(v any) (Items, error) {
	switch val := v.(type) {
	case nil:
		return Items{}, nil
	case Record:
		return Items{val}, nil
	case Items:
		return val, nil
	case []any:
		out := make(Items, 0, len(val))
		for _, el := range val {
			if rec, ok := el.(Record); ok {
				out = append(out, rec)
				continue
			}
			out = append(out, Record{"value": el})
		}
		return out, nil
	default:
		return nil, NewErrorf(ErrCodeValidation,
			"cannot normalize %T into items: expected an object or a list of objects", v)
	}
}

// CloneRecord returns a shallow copy of r.
func CloneRecord(r Record) Record {
	cp := make(Record, len(r))
	for k, v := range r {
		cp[k] = v
	}
	return cp
}
