// Package mqtt provides the outbound MQTT connection of the auth core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing of auth events and MFA notifications
//   - Last Will and Testament (LWT) for offline detection
//
// All topics live under rxhome/{site}/, see Topics.
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS=true) outside local development
//   - Auth events never carry secrets; MFA codes are only sent to notify topics
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Site.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{Site: cfg.Site.ID}.AuthEvent("user_added")
//	client.PublishJSON(topic, map[string]string{"user_id": id})
package mqtt
