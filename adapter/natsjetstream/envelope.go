package natsjetstream

import "encoding/json"

// wireEnvelope is how key and headers travel inside the JetStream message
// payload. NATS subjects carry no structured header concept the way AMQP
// or Kafka do without the newer nats.Header extension, so per the
// compatibility matrix's "JSON envelope" mapping, key/headers/body are
// wrapped together rather than relying on transport-level headers.
type wireEnvelope struct {
	Key     string            `json:"key,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body"`
}

func encodeEnvelope(body []byte, key string, headers map[string]string) ([]byte, error) {
	return json.Marshal(wireEnvelope{Key: key, Headers: headers, Body: body})
}

func decodeEnvelope(data []byte) wireEnvelope {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		// Not a wire envelope (e.g. a message published outside this
		// module) — treat the raw payload as the body.
		return wireEnvelope{Body: data}
	}
	return env
}
