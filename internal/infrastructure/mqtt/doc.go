// Package mqtt provides the MQTT transport for the sink.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Topic subscriptions with wildcard support, feeding records in
//   - Manual acknowledgement, so a message is only released once its
//     record has been settled
//   - Publishing emitted results
//   - Last Will and Testament (LWT) for offline detection
//
// # Acknowledgement
//
// Auto-ack is disabled. Every Message handed to a MessageHandler must be
// acknowledged exactly once via Message.Ack; repeated calls are ignored.
// If a handler returns an error or panics, the client acknowledges the
// message itself.
//
// # Security Considerations
//
//   - TLS should be enabled for production deployments (cfg.Broker.TLS=true)
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.Source)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.SubscribeAll(cfg.Source.Topics, 1, func(msg *mqtt.Message) error {
//	    records <- msg
//	    return nil
//	})
package mqtt
