package mapper

import (
	"errors"
	"fmt"
	"sort"

	"github.com/nerrad567/gray-logic-tsdbsink/internal/backend"
)

// Default field names used by DefaultFieldSet.
const (
	DefaultMetricField    = "metric"
	DefaultTimestampField = "timestamp"
	DefaultValueField     = "value"
	DefaultTagsField      = "tags"
)

// Options carries sink-wide settings into FieldMapper.Prepare.
type Options struct {
	// ValidTags is the allow-list used by mappers that have none of their own.
	ValidTags []string

	// DefaultTag is added when a point would otherwise have no tags.
	DefaultTag Tag
}

// FieldMapper extracts one data point from a record.
//
// Implementations must not modify the record. Any error returned from an
// extraction method causes the point to be reported as a mapping failure.
type FieldMapper interface {
	Prepare(opts Options) error
	Metric(rec Record) (string, error)
	Timestamp(rec Record) (int64, error)
	Value(rec Record) (backend.Value, error)
	Tags(rec Record) (map[string]string, error)
}

// Filter is implemented by FieldMappers that only apply to some records.
type Filter interface {
	// Filtered reports whether rec should be skipped by this mapper.
	Filtered(rec Record) bool
}

// FieldSet is a FieldMapper that reads each part of a point from a named
// field of the record.
//
// When Event is set, field names are resolved inside the nested object of
// that name. Conditions in When are always resolved from the top level.
type FieldSet struct {
	Event          string
	MetricField    string
	TimestampField string
	ValueField     string
	TagsField      string

	// ValidTags restricts which tag keys are kept. Empty means the
	// sink-wide allow-list applies, and if that is empty too, all tags.
	ValidTags []string

	// When holds field/value equality conditions. The mapper only applies
	// to records matching all of them.
	When map[string]string

	validTags  map[string]struct{}
	defaultTag Tag
}

// NewFieldSet creates a FieldSet reading the given top-level fields.
func NewFieldSet(metric, timestamp, value, tags string) *FieldSet {
	return &FieldSet{
		MetricField:    metric,
		TimestampField: timestamp,
		ValueField:     value,
		TagsField:      tags,
	}
}

// DefaultFieldSet reads the fields "metric", "timestamp", "value" and "tags".
func DefaultFieldSet() *FieldSet {
	return NewFieldSet(DefaultMetricField, DefaultTimestampField, DefaultValueField, DefaultTagsField)
}

// NewEventFieldSet reads the default field names from inside the nested
// object named event.
func NewEventFieldSet(event string) *FieldSet {
	fs := DefaultFieldSet()
	fs.Event = event
	return fs
}

// WithValidTags sets the tag allow-list.
func (f *FieldSet) WithValidTags(keys ...string) *FieldSet {
	f.ValidTags = keys
	return f
}

// WithCondition adds an equality condition on a top-level field.
func (f *FieldSet) WithCondition(field, value string) *FieldSet {
	if f.When == nil {
		f.When = make(map[string]string)
	}
	f.When[field] = value
	return f
}

// Prepare validates the field names and applies sink-wide options.
// It may be called more than once.
func (f *FieldSet) Prepare(opts Options) error {
	var errs []error
	for name, field := range map[string]string{
		"metric":    f.MetricField,
		"timestamp": f.TimestampField,
		"value":     f.ValueField,
		"tags":      f.TagsField,
	} {
		if field == "" {
			errs = append(errs, fmt.Errorf("%s field name is empty", name))
		}
	}
	if len(errs) > 0 {
		sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
		return fmt.Errorf("mapper: invalid field set: %w", errors.Join(errs...))
	}

	valid := f.ValidTags
	if len(valid) == 0 {
		valid = opts.ValidTags
	}
	f.validTags = tagSet(valid)
	f.defaultTag = opts.DefaultTag
	return nil
}

// Filtered reports whether rec fails any of the When conditions.
func (f *FieldSet) Filtered(rec Record) bool {
	for field, want := range f.When {
		raw, ok := rec.Field(field)
		if !ok {
			return true
		}
		got, err := asString(raw)
		if err != nil || got != want {
			return true
		}
	}
	return false
}

// Metric returns the metric name.
func (f *FieldSet) Metric(rec Record) (string, error) {
	raw, err := f.field(rec, f.MetricField)
	if err != nil {
		return "", err
	}
	s, err := asString(raw)
	if err != nil {
		return "", fmt.Errorf("field %q: %w", f.path(f.MetricField), err)
	}
	if s == "" {
		return "", fmt.Errorf("field %q: %w: empty metric name", f.path(f.MetricField), ErrWrongType)
	}
	return s, nil
}

// Timestamp returns the timestamp in Unix seconds or milliseconds, as
// carried by the record.
func (f *FieldSet) Timestamp(rec Record) (int64, error) {
	raw, err := f.field(rec, f.TimestampField)
	if err != nil {
		return 0, err
	}
	ts, err := asInt64(raw)
	if err != nil {
		return 0, fmt.Errorf("field %q: %w", f.path(f.TimestampField), err)
	}
	return ts, nil
}

// Value returns the sample value.
func (f *FieldSet) Value(rec Record) (backend.Value, error) {
	raw, err := f.field(rec, f.ValueField)
	if err != nil {
		return backend.Value{}, err
	}
	v, err := asValue(raw)
	if err != nil {
		return backend.Value{}, fmt.Errorf("field %q: %w", f.path(f.ValueField), err)
	}
	return v, nil
}

// Tags returns the filtered tag set. A missing tags field is treated as
// empty; the result always holds at least the default tag.
func (f *FieldSet) Tags(rec Record) (map[string]string, error) {
	raw, _ := rec.Field(f.path(f.TagsField))
	tags, err := asTags(raw)
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", f.path(f.TagsField), err)
	}
	return EnsureTags(FilterTags(tags, f.validTags), f.defaultTag), nil
}

func (f *FieldSet) path(field string) string {
	if f.Event == "" {
		return field
	}
	return f.Event + "." + field
}

func (f *FieldSet) field(rec Record, field string) (any, error) {
	p := f.path(field)
	v, ok := rec.Field(p)
	if !ok || v == nil {
		return nil, fmt.Errorf("%w: %q", ErrMissingField, p)
	}
	return v, nil
}
