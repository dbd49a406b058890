// Package mapper converts upstream records into time-series data points.
//
// A FieldMapper extracts the four parts of one data point (metric name,
// timestamp, value and tags) from a Record. A Mapper is an ordered
// collection of FieldMappers; each record produces at most one point per
// FieldMapper, in collection order.
//
// FieldSet is the configurable FieldMapper used by the service. It reads
// named fields either from the top level of the record or from a nested
// "event" object, optionally restricts tags to an allow-list, and can be
// made conditional with equality filters so that one record stream can feed
// several metrics.
//
// Tag invariant: a point never leaves a FieldSet with an empty tag set. If
// filtering removes every tag, the configured default tag pair is added.
package mapper
