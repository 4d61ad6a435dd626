// Package mqtt publishes decoded KNX telegrams to an MQTT broker.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Last Will and Testament (LWT) for offline detection
//   - The EventPublisher mirror, which satisfies persist.Mirror
//
// # Topics
//
//	<prefix>/state/<main>/<middle>/<sub>   retained JSON state per group address
//	<prefix>/system/status                 retained online/offline status (LWT)
//
// A state message looks like:
//
//	{"ga":"5/0/2","name":"EG-Temperatur-Küche","dpt":"9.001","event":"write",
//	 "source":"1.1.4","value":21.7,"raw":"0c3d","ts":"2026-03-01T13:00:00+01:00"}
//
// # Security Considerations
//
//   - Enable TLS for brokers outside the local host (cfg.Broker.TLS=true)
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	pub, err := mqtt.NewEventPublisher(client, client.Topics(), byte(cfg.MQTT.QoS))
package mqtt
