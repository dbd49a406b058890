package mapper

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for record mapping.
var (
	// ErrMissingField indicates a configured field is absent from the record.
	ErrMissingField = errors.New("mapper: missing field")

	// ErrWrongType indicates a field holds a value of the wrong type.
	ErrWrongType = errors.New("mapper: wrong field type")

	// ErrNoMappers indicates a Mapper was prepared without any FieldMappers.
	ErrNoMappers = errors.New("mapper: no field mappers configured")

	// ErrInvalidPayload indicates a payload could not be decoded into a record.
	ErrInvalidPayload = errors.New("mapper: invalid payload")
)

// Record is one upstream record, addressed by field name.
type Record interface {
	// ID identifies the record for logging and acknowledgement.
	ID() string

	// Field returns the named field and whether it is present.
	Field(name string) (any, bool)
}

// Source is implemented by records that remember where they came from.
type Source interface {
	Topic() string
	Payload() []byte
}

// MapRecord is a Record backed by a decoded JSON object.
//
// Field names may be dotted paths ("event.metric") into nested objects.
// A key containing a literal dot takes precedence over path traversal.
type MapRecord struct {
	id      string
	topic   string
	payload []byte
	fields  map[string]any
}

// NewRecord creates a record from already-decoded fields.
func NewRecord(id string, fields map[string]any) *MapRecord {
	if fields == nil {
		fields = map[string]any{}
	}
	return &MapRecord{id: id, fields: fields}
}

// DecodeJSON decodes a JSON object payload into a record.
//
// Numbers are kept as json.Number so integer values survive without
// float64 rounding.
func DecodeJSON(id, topic string, payload []byte) (*MapRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: payload is not a JSON object", ErrInvalidPayload)
	}

	return &MapRecord{
		id:      id,
		topic:   topic,
		payload: payload,
		fields:  fields,
	}, nil
}

// ID returns the record identifier.
func (r *MapRecord) ID() string { return r.id }

// Topic returns the topic the record was received on, if any.
func (r *MapRecord) Topic() string { return r.topic }

// Payload returns the raw payload. Records built with NewRecord return
// their fields encoded as JSON.
func (r *MapRecord) Payload() []byte {
	if r.payload != nil {
		return r.payload
	}
	data, err := json.Marshal(r.fields)
	if err != nil {
		return nil
	}
	return data
}

// Fields returns the decoded top-level fields. The map must not be modified.
func (r *MapRecord) Fields() map[string]any { return r.fields }

// Field returns the named field, following dotted paths into nested objects.
func (r *MapRecord) Field(name string) (any, bool) {
	return lookup(r.fields, name)
}

func lookup(fields map[string]any, name string) (any, bool) {
	if v, ok := fields[name]; ok {
		return v, true
	}

	head, rest, found := strings.Cut(name, ".")
	if !found {
		return nil, false
	}
	nested, ok := fields[head].(map[string]any)
	if !ok {
		return nil, false
	}
	return lookup(nested, rest)
}
