package sink

import (
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-tsdbsink/internal/backend"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/future"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/mapper"
)

// dispatch issues one write request per applicable FieldMapper, in mapper
// order. Mapping failures become already-failed requests so they take part in
// aggregation like any other failure. dispatch never blocks on the backend.
func (s *Sink) dispatch(rec mapper.Record) []*future.Future[backend.Point] {
	fms := s.mapper.FieldMappers()
	requests := make([]*future.Future[backend.Point], 0, len(fms))

	for i, fm := range fms {
		p, ok, err := s.mapOne(i, fm, rec)
		if err != nil {
			s.requests.Add(1)
			s.requestErrors.Add(1)
			requestsTotal.WithLabelValues(KindMapping.String()).Inc()
			requests = append(requests, future.Failed[backend.Point](err))
			continue
		}
		if !ok {
			continue
		}
		requests = append(requests, s.write(p))
	}

	return requests
}

// mapOne builds the point for one FieldMapper. ok is false when the mapper
// filters the record out. A panic inside the mapper is reported as a
// MappingError.
func (s *Sink) mapOne(idx int, fm mapper.FieldMapper, rec mapper.Record) (p backend.Point, ok bool, err error) {
	field := "filter"
	defer func() {
		if r := recover(); r != nil {
			err = &MappingError{Mapper: idx, Field: field, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if f, isFilter := fm.(mapper.Filter); isFilter && f.Filtered(rec) {
		return p, false, nil
	}

	field = "metric"
	if p.Metric, err = fm.Metric(rec); err != nil {
		return p, false, &MappingError{Mapper: idx, Field: field, Err: err}
	}

	field = "timestamp"
	if p.Timestamp, err = fm.Timestamp(rec); err != nil {
		return p, false, &MappingError{Mapper: idx, Field: field, Err: err}
	}

	field = "value"
	v, err := fm.Value(rec)
	if err != nil {
		return p, false, &MappingError{Mapper: idx, Field: field, Err: err}
	}
	p.Value = v.Normalize()

	field = "tags"
	tags, err := fm.Tags(rec)
	if err != nil {
		return p, false, &MappingError{Mapper: idx, Field: field, Err: err}
	}
	p.Tags = mapper.EnsureTags(mapper.FilterTags(tags, nil), s.defaultTag)

	field = "point"
	if err := p.Validate(); err != nil {
		return p, false, &MappingError{Mapper: idx, Field: field, Err: err}
	}

	return p, true, nil
}

// write sends p to the backend. An overloaded write raises the throttle flag
// and, while retries remain, is re-issued after the backoff from the
// completion path. The returned future resolves with the final attempt.
func (s *Sink) write(p backend.Point) *future.Future[backend.Point] {
	out, resolve := future.New[backend.Point]()

	s.requests.Add(1)
	s.inFlight.Add(1)
	requestsInFlight.Inc()

	var attempt func(n int)
	attempt = func(n int) {
		s.writer.AddPoint(p).OnComplete(func(stored backend.Point, err error) {
			if backend.IsOverload(err) {
				s.signalOverload()
				if n < s.cfg.OverloadRetries {
					overloadRetriesTotal.Inc()
					time.AfterFunc(s.cfg.OverloadBackoff, func() { attempt(n + 1) })
					return
				}
			}

			s.inFlight.Add(-1)
			requestsInFlight.Dec()
			if err != nil {
				s.requestErrors.Add(1)
				requestsTotal.WithLabelValues(Classify(err).String()).Inc()
			} else {
				requestsTotal.WithLabelValues("ok").Inc()
			}
			resolve(stored, err)
		})
	}
	attempt(0)

	return out
}

// aggregate combines the requests of one record into its combined outcome.
func (s *Sink) aggregate(requests []*future.Future[backend.Point]) *future.Future[[]backend.Point] {
	if s.cfg.PreserveOrder {
		return future.GroupInOrder(requests)
	}
	return future.Group(requests)
}
