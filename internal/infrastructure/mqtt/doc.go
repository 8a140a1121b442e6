// Package mqtt provides the broker connection used by the GO DAIKIN bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Retained publishing with acknowledgement timeouts
//   - Wildcard subscriptions restored after every reconnect
//   - The bridge availability topic, driven by the Last Will and by the
//     connect and close paths
//   - The topic layout shared by discovery, state and command handling
//
// # Usage
//
//	topics := mqtt.NewTopics(cfg.Bridge.TopicPrefix, cfg.Bridge.DiscoveryPrefix)
//	client, err := mqtt.Connect(cfg.MQTT, topics)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(topics.AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        id, attr, _ := topics.ParseCommand(topic)
//	        log.Printf("command %s/%s = %s", id, attr, payload)
//	        return nil
//	    })
//
//	client.Publish(topics.State("daikin_4c50dd423066", "mode"), []byte("cool"), 1, true)
//
// Tests that need a running broker carry the integration build tag.
package mqtt
