package mapper_test

import (
	"errors"
	"maps"
	"testing"

	"github.com/nerrad567/gray-logic-tsdbsink/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/mapper"
)

func decode(t *testing.T, payload string) *mapper.MapRecord {
	t.Helper()
	rec, err := mapper.DecodeJSON("rec-1", "metrics/in", []byte(payload))
	if err != nil {
		t.Fatalf("DecodeJSON() error = %v", err)
	}
	return rec
}

func prepared(t *testing.T, fs *mapper.FieldSet, opts mapper.Options) *mapper.FieldSet {
	t.Helper()
	if err := fs.Prepare(opts); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	return fs
}

// =============================================================================
// Record Tests
// =============================================================================

func TestDecodeJSON_Invalid(t *testing.T) {
	for _, payload := range []string{`not json`, `[1,2]`, `null`} {
		if _, err := mapper.DecodeJSON("id", "t", []byte(payload)); !errors.Is(err, mapper.ErrInvalidPayload) {
			t.Errorf("DecodeJSON(%q) error = %v, want ErrInvalidPayload", payload, err)
		}
	}
}

func TestMapRecord_DottedPath(t *testing.T) {
	rec := decode(t, `{"event":{"metric":"cpu"},"a.b":1}`)

	if v, ok := rec.Field("event.metric"); !ok || v != "cpu" {
		t.Errorf(`Field("event.metric") = %v, %v`, v, ok)
	}
	if _, ok := rec.Field("a.b"); !ok {
		t.Error(`Field("a.b") should prefer the literal key`)
	}
	if _, ok := rec.Field("event.missing"); ok {
		t.Error(`Field("event.missing") ok = true`)
	}
}

func TestMapRecord_PayloadFromFields(t *testing.T) {
	rec := mapper.NewRecord("x", map[string]any{"metric": "m"})
	if got := string(rec.Payload()); got != `{"metric":"m"}` {
		t.Errorf("Payload() = %s", got)
	}
}

// =============================================================================
// FieldSet Tests
// =============================================================================

func TestFieldSet_Default(t *testing.T) {
	fs := prepared(t, mapper.DefaultFieldSet(), mapper.Options{})
	rec := decode(t, `{"metric":"sys.cpu","timestamp":1700000000,"value":42,"tags":{"host":"a"}}`)

	metric, err := fs.Metric(rec)
	if err != nil || metric != "sys.cpu" {
		t.Errorf("Metric() = %q, %v", metric, err)
	}
	ts, err := fs.Timestamp(rec)
	if err != nil || ts != 1700000000 {
		t.Errorf("Timestamp() = %d, %v", ts, err)
	}
	v, err := fs.Value(rec)
	if err != nil || !v.IsInt() || v.Int() != 42 {
		t.Errorf("Value() = %v (int=%v), %v", v, v.IsInt(), err)
	}
	tags, err := fs.Tags(rec)
	if err != nil || !maps.Equal(tags, map[string]string{"host": "a"}) {
		t.Errorf("Tags() = %v, %v", tags, err)
	}
}

func TestFieldSet_FloatValue(t *testing.T) {
	fs := prepared(t, mapper.DefaultFieldSet(), mapper.Options{})
	rec := decode(t, `{"value":42.5}`)

	v, err := fs.Value(rec)
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}
	if v.IsInt() || v.Float() != 42.5 {
		t.Errorf("Value() = %v (int=%v), want float 42.5", v, v.IsInt())
	}
}

func TestFieldSet_MappingErrors(t *testing.T) {
	fs := prepared(t, mapper.DefaultFieldSet(), mapper.Options{})

	tests := []struct {
		name    string
		payload string
		call    func(mapper.Record) error
		want    error
	}{
		{"missing metric", `{}`, func(r mapper.Record) error { _, err := fs.Metric(r); return err }, mapper.ErrMissingField},
		{"metric not string", `{"metric":{"x":1}}`, func(r mapper.Record) error { _, err := fs.Metric(r); return err }, mapper.ErrWrongType},
		{"timestamp fractional", `{"timestamp":1.5}`, func(r mapper.Record) error { _, err := fs.Timestamp(r); return err }, mapper.ErrWrongType},
		{"value not numeric", `{"value":"high"}`, func(r mapper.Record) error { _, err := fs.Value(r); return err }, mapper.ErrWrongType},
		{"value bool", `{"value":true}`, func(r mapper.Record) error { _, err := fs.Value(r); return err }, mapper.ErrWrongType},
		{"value NaN string", `{"value":"NaN"}`, func(r mapper.Record) error { _, err := fs.Value(r); return err }, mapper.ErrWrongType},
		{"value infinity string", `{"value":"-Infinity"}`, func(r mapper.Record) error { _, err := fs.Value(r); return err }, mapper.ErrWrongType},
		{"tags not map", `{"tags":"x"}`, func(r mapper.Record) error { _, err := fs.Tags(r); return err }, mapper.ErrWrongType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call(decode(t, tt.payload))
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestFieldSet_TagFiltering(t *testing.T) {
	tests := []struct {
		name  string
		fs    *mapper.FieldSet
		opts  mapper.Options
		input string
		want  map[string]string
	}{
		{
			name:  "allow-list keeps listed keys",
			fs:    mapper.DefaultFieldSet().WithValidTags("host", "dc"),
			input: `{"tags":{"host":"a","dc":"lon","noise":"x"}}`,
			want:  map[string]string{"host": "a", "dc": "lon"},
		},
		{
			name:  "sink-wide allow-list",
			fs:    mapper.DefaultFieldSet(),
			opts:  mapper.Options{ValidTags: []string{"host"}},
			input: `{"tags":{"host":"a","dc":"lon"}}`,
			want:  map[string]string{"host": "a"},
		},
		{
			name:  "empty values dropped",
			fs:    mapper.DefaultFieldSet(),
			input: `{"tags":{"host":"a","dc":""}}`,
			want:  map[string]string{"host": "a"},
		},
		{
			name:  "empty after filtering gets default",
			fs:    mapper.DefaultFieldSet().WithValidTags("host"),
			opts:  mapper.Options{DefaultTag: mapper.Tag{Key: "src", Value: "mqtt"}},
			input: `{"tags":{"dc":"lon"}}`,
			want:  map[string]string{"src": "mqtt"},
		},
		{
			name:  "missing tags gets fallback",
			fs:    mapper.DefaultFieldSet(),
			input: `{}`,
			want:  map[string]string{mapper.FallbackTag.Key: mapper.FallbackTag.Value},
		},
		{
			name:  "numeric tag values stringified",
			fs:    mapper.DefaultFieldSet(),
			input: `{"tags":{"core":3}}`,
			want:  map[string]string{"core": "3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := prepared(t, tt.fs, tt.opts)
			got, err := fs.Tags(decode(t, tt.input))
			if err != nil {
				t.Fatalf("Tags() error = %v", err)
			}
			if !maps.Equal(got, tt.want) {
				t.Errorf("Tags() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFieldSet_DoesNotMutateRecord(t *testing.T) {
	fs := prepared(t, mapper.DefaultFieldSet().WithValidTags("host"), mapper.Options{})
	rec := decode(t, `{"tags":{"host":"a","dc":"lon"}}`)

	if _, err := fs.Tags(rec); err != nil {
		t.Fatalf("Tags() error = %v", err)
	}
	raw, _ := rec.Field("tags")
	if len(raw.(map[string]any)) != 2 {
		t.Errorf("record tags modified: %v", raw)
	}
}

func TestFieldSet_Event(t *testing.T) {
	fs := prepared(t, mapper.NewEventFieldSet("event"), mapper.Options{})
	rec := decode(t, `{"event":{"metric":"m","timestamp":1,"value":2,"tags":{"k":"v"}}}`)

	metric, err := fs.Metric(rec)
	if err != nil || metric != "m" {
		t.Errorf("Metric() = %q, %v", metric, err)
	}
	if _, err := fs.Metric(decode(t, `{"metric":"top-level"}`)); !errors.Is(err, mapper.ErrMissingField) {
		t.Errorf("Metric() without event error = %v, want ErrMissingField", err)
	}
}

func TestFieldSet_Filtered(t *testing.T) {
	fs := mapper.DefaultFieldSet().WithCondition("type", "cpu")

	if fs.Filtered(decode(t, `{"type":"cpu"}`)) {
		t.Error("Filtered() = true for matching record")
	}
	if !fs.Filtered(decode(t, `{"type":"mem"}`)) {
		t.Error("Filtered() = false for non-matching record")
	}
	if !fs.Filtered(decode(t, `{}`)) {
		t.Error("Filtered() = false for record missing the field")
	}
}

func TestFieldSet_PrepareRejectsEmptyField(t *testing.T) {
	fs := mapper.NewFieldSet("metric", "", "value", "tags")
	if err := fs.Prepare(mapper.Options{}); err == nil {
		t.Fatal("Prepare() should fail with an empty field name")
	}
}

// =============================================================================
// Mapper Tests
// =============================================================================

func TestMapper_PrepareEmpty(t *testing.T) {
	if err := mapper.New().Prepare(mapper.Options{}); !errors.Is(err, mapper.ErrNoMappers) {
		t.Errorf("Prepare() error = %v, want ErrNoMappers", err)
	}
}

type countingMapper struct {
	*mapper.FieldSet
	prepares int
}

func (c *countingMapper) Prepare(opts mapper.Options) error {
	c.prepares++
	return c.FieldSet.Prepare(opts)
}

func TestMapper_PrepareOnce(t *testing.T) {
	cm := &countingMapper{FieldSet: mapper.DefaultFieldSet()}
	m := mapper.New(cm)

	for range 3 {
		if err := m.Prepare(mapper.Options{}); err != nil {
			t.Fatalf("Prepare() error = %v", err)
		}
	}
	if cm.prepares != 1 {
		t.Errorf("FieldMapper prepared %d times, want 1", cm.prepares)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.SinkConfig{
		ValidTags:  []string{"host"},
		DefaultTag: config.TagConfig{Key: "src", Value: "test"},
		Mappers: []config.MapperConfig{
			{Metric: "name"},
			{Event: "event", When: map[string]string{"kind": "gauge"}},
		},
	}

	m := mapper.FromConfig(cfg)
	if m.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", m.Len())
	}
	if err := m.Prepare(mapper.OptionsFromConfig(cfg)); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	first := m.FieldMappers()[0].(*mapper.FieldSet)
	if first.MetricField != "name" || first.ValueField != mapper.DefaultValueField {
		t.Errorf("first mapper fields = %+v", first)
	}
	second := m.FieldMappers()[1].(*mapper.FieldSet)
	if second.Event != "event" || second.When["kind"] != "gauge" {
		t.Errorf("second mapper = %+v", second)
	}

	tags, _ := first.Tags(decode(t, `{"tags":{"dc":"x"}}`))
	if !maps.Equal(tags, map[string]string{"src": "test"}) {
		t.Errorf("Tags() = %v, want default tag from config", tags)
	}
}

func TestFromConfig_Empty(t *testing.T) {
	if m := mapper.FromConfig(config.SinkConfig{}); m.Len() != 1 {
		t.Errorf("FromConfig(empty).Len() = %d, want 1", m.Len())
	}
}
