// Package mqtt provides MQTT client connectivity for Emberlink.
//
// This package manages:
//   - Connection to the hub's MQTT broker with auto-reconnect
//   - Subscriptions to the hub's state-change event feed
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// The home-automation hub publishes every entity state change to
// hub/event/state/{domain}/{object_id}. Emberlink subscribes with a
// wildcard and feeds decoded events into the dispatch engine's bounded
// queue. MQTT QoS 1 gives at-least-once delivery from the hub, which is
// why the engine deduplicates by event id.
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.Hub)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{Prefix: cfg.Hub.TopicPrefix}.AllEntityStates(), 1,
//	    feed.HandleMessage)
package mqtt
