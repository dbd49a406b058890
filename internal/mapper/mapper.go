package mapper

import (
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-tsdbsink/internal/infrastructure/config"
)

// Mapper is an ordered collection of FieldMappers.
//
// Thread Safety: Add must not be called concurrently with other methods.
// All other methods are safe for concurrent use once Prepare has returned.
type Mapper struct {
	mappers []FieldMapper

	prepareOnce sync.Once
	prepareErr  error
}

// New creates a Mapper holding the given FieldMappers in order.
func New(mappers ...FieldMapper) *Mapper {
	return &Mapper{mappers: mappers}
}

// Default returns a Mapper with a single DefaultFieldSet.
func Default() *Mapper {
	return New(DefaultFieldSet())
}

// Add appends a FieldMapper and returns the Mapper for chaining.
func (m *Mapper) Add(fm FieldMapper) *Mapper {
	m.mappers = append(m.mappers, fm)
	return m
}

// FieldMappers returns the FieldMappers in order.
func (m *Mapper) FieldMappers() []FieldMapper {
	out := make([]FieldMapper, len(m.mappers))
	copy(out, m.mappers)
	return out
}

// Len returns the number of FieldMappers.
func (m *Mapper) Len() int {
	return len(m.mappers)
}

// Prepare prepares every FieldMapper exactly once. Later calls return the
// result of the first.
func (m *Mapper) Prepare(opts Options) error {
	m.prepareOnce.Do(func() {
		if len(m.mappers) == 0 {
			m.prepareErr = ErrNoMappers
			return
		}
		var errs []error
		for i, fm := range m.mappers {
			if err := fm.Prepare(opts); err != nil {
				errs = append(errs, fmt.Errorf("mapper %d: %w", i, err))
			}
		}
		m.prepareErr = errors.Join(errs...)
	})
	return m.prepareErr
}

// FromConfig builds a Mapper from the sink configuration. With no mappers
// configured, the default field set is used.
func FromConfig(cfg config.SinkConfig) *Mapper {
	if len(cfg.Mappers) == 0 {
		return Default()
	}

	m := New()
	for _, mc := range cfg.Mappers {
		fs := NewFieldSet(
			orDefault(mc.Metric, DefaultMetricField),
			orDefault(mc.Timestamp, DefaultTimestampField),
			orDefault(mc.Value, DefaultValueField),
			orDefault(mc.Tags, DefaultTagsField),
		)
		fs.Event = mc.Event
		fs.ValidTags = mc.ValidTags
		for field, value := range mc.When {
			fs.WithCondition(field, value)
		}
		m.Add(fs)
	}
	return m
}

// OptionsFromConfig returns the Prepare options for the sink configuration.
func OptionsFromConfig(cfg config.SinkConfig) Options {
	return Options{
		ValidTags:  cfg.ValidTags,
		DefaultTag: Tag{Key: cfg.DefaultTag.Key, Value: cfg.DefaultTag.Value},
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
