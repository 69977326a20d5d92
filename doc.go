// Package mqttrt implements an MQTT 3.1.1 connection runtime: the
// CONNECT/CONNACK handshake, QoS 0/1 PUBLISH with retry, SUBSCRIBE and
// UNSUBSCRIBE, and keep-alive PINGREQ/PINGRESP, against a pluggable
// Transport. QoS 2 and MQTT v5 are out of scope.
//
// # Connecting
//
//	conn, err := mqttrt.Connect(ctx, mqttrt.NetworkInfo{
//	    Server: "tcp://localhost:1883",
//	}, mqttrt.ConnectInfo{
//	    ClientID:     "sensor-1",
//	    CleanSession: true,
//	    KeepAlive:    30 * time.Second,
//	}, 10*time.Second)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer conn.Disconnect(ctx, 0)
//
// # Publishing and subscribing
//
//	status, err := conn.SubscribeAndWait(ctx, mqttrt.SubscribeInfo{
//	    Topics: []string{"sensors/+/temperature"},
//	    QoS:    []mqttrt.QoS{mqttrt.AtLeastOnce},
//	    Callback: func(msg mqttrt.Message) {
//	        fmt.Printf("%s: %s\n", msg.Topic, msg.Payload)
//	    },
//	}, 0)
//
//	op, err := conn.Publish(ctx, mqttrt.PublishInfo{
//	    Topic:   "sensors/1/temperature",
//	    Payload: []byte("22.5"),
//	    QoS:     mqttrt.AtLeastOnce,
//	}, mqttrt.Waitable)
//
// Every request-issuing call returns an *Operation immediately; callers
// that need the outcome call Wait, or use the AndWait/Timed convenience
// wrappers. A request submitted without Waitable and without a callback
// still runs to completion, it simply has no observer.
//
// # AWS IoT profile
//
// Setting NetworkInfo.AWSMode clamps the keep-alive interval to [30s,
// 1200s] (0 remaps to 1200s rather than disabling it) and rewrites each
// QoS 1 PUBLISH retry's packet identifier bytes in place, so a retried
// frame is byte-identical to the original except for that field.
package mqttrt
