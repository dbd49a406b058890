// Package tsdb is the VictoriaMetrics storage backend.
//
// It writes data points using InfluxDB line protocol over HTTP (POST /write),
// optionally gzip-compressed, and implements backend.Writer: every point gets
// a future that resolves when the batch carrying it has been flushed.
//
// # Usage
//
//	cfg := config.TSDBConfig{
//	    Enabled:       true,
//	    URL:           "http://localhost:8428",
//	    BatchSize:     1000,
//	    FlushInterval: 1,
//	    MaxPending:    10000,
//	}
//
//	client, err := tsdb.Connect(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	stored, err := client.AddPoint(p).Wait(ctx, time.Second)
//
// # Backpressure
//
// Two conditions fail a point with backend.ErrOverloaded: more than
// MaxPending points outstanding in the client, and an HTTP 429 or 503 from
// VictoriaMetrics (which fails the whole batch).
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
package tsdb
