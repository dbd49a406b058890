package mapper

// Tag is a single tag key/value pair.
type Tag struct {
	Key   string
	Value string
}

// FallbackTag is added to points whose tag set would otherwise be empty
// when no default tag is configured.
var FallbackTag = Tag{Key: "sink", Value: "tsdbsink"}

// IsZero reports whether the tag is unset.
func (t Tag) IsZero() bool {
	return t.Key == "" || t.Value == ""
}

// FilterTags returns a copy of tags without empty keys or values. When valid
// is non-empty, only keys in valid are kept. The input map is not modified.
func FilterTags(tags map[string]string, valid map[string]struct{}) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		if k == "" || v == "" {
			continue
		}
		if len(valid) > 0 {
			if _, ok := valid[k]; !ok {
				continue
			}
		}
		out[k] = v
	}
	return out
}

// EnsureTags returns tags unchanged when non-empty, otherwise a set holding
// only def (or FallbackTag if def is unset).
func EnsureTags(tags map[string]string, def Tag) map[string]string {
	if len(tags) > 0 {
		return tags
	}
	if def.IsZero() {
		def = FallbackTag
	}
	return map[string]string{def.Key: def.Value}
}

func tagSet(keys []string) map[string]struct{} {
	if len(keys) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}
