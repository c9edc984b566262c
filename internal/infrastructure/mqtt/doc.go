// Package mqtt publishes Seedgate events to an MQTT broker.
//
// The gateway announces each user's service lifecycle (created, updated,
// destroyed) on seedgate/service/{username}/{event} so that processes
// managing torrent client connections can react. A retained message on
// seedgate/system/status, backed by a Last Will, reports whether the
// gateway is online.
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS) when the broker is not on localhost
//   - Payloads never carry password hashes or session tokens
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic, _ := mqtt.Topics{}.ServiceEvent("alice", mqtt.EventCreated)
//	err = client.PublishJSON(topic, event, false)
package mqtt
