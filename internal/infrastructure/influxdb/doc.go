// Package influxdb is the InfluxDB v2 storage backend.
//
// It wraps the official influxdb-client-go v2 library and implements
// backend.Writer: each point is written with the blocking write API on its
// own goroutine and resolves its future with the result.
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    Enabled:    true,
//	    URL:        "http://localhost:8086",
//	    Token:      "your-token",
//	    Org:        "tsdbsink",
//	    Bucket:     "metrics",
//	    MaxPending: 1000,
//	}
//
//	client, err := influxdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	_, err = client.AddPoint(p).Wait(ctx, time.Second)
//
// # Backpressure
//
// In-flight writes are bounded by a semaphore of MaxPending slots. A point
// that cannot get a slot fails at once with backend.ErrOverloaded, as does a
// write answered with HTTP 429 or 503.
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
package influxdb
