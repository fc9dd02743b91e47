// Package mqtt provides the inbound MQTT listener.
//
// An MQTT listener does not own a socket. It connects to an external broker
// with the Paho client, subscribes to one topic filter and hands every
// delivered message to the mediation engine. Acknowledgement is manual: a
// message is acknowledged only after it has been handed off, so messages
// that arrive while the listener is paused are neither routed nor acked and
// the broker may redeliver them to a persistent session.
//
//	cfg := config.ListenerConfig{
//	    Name:       "telemetry",
//	    Protocol:   protocol.ProtocolMQTT,
//	    Sequence:   "ingest",
//	    Parameters: map[string]string{"broker": "tcp://localhost:1883", "topic": "devices/+/telemetry"},
//	}
//	l, err := mqtt.NewListener(cfg, rt)
//	if err != nil {
//	    return err
//	}
//	return l.Start(ctx)
package mqtt
