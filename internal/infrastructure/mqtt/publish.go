package mqtt

import (
	"fmt"
)

// maxPayloadSize caps outbound messages at 1MB. Device state documents
// are a few hundred bytes; anything near this limit is a bug upstream.
const maxPayloadSize = 1 << 20

// validateTopicQoS rejects the two input mistakes the paho client would
// otherwise accept silently or fail on late: an empty topic and an
// out-of-range QoS.
func validateTopicQoS(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}

// Publish sends one message to the broker and waits for the send to
// complete or time out.
//
// The retained flag follows the topic's role: state documents and the
// online status are retained so a dashboard connecting mid-run sees the
// current fleet immediately, while unretained telemetry disappears once
// delivered.
//
// Returns ErrNotConnected while the connection is down; callers on the
// telemetry path treat that as a skipped publish rather than a failure.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validateTopicQoS(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// PublishString publishes a string payload. Equivalent to Publish with
// []byte(payload).
func (c *Client) PublishString(topic string, payload string, qos byte, retained bool) error {
	return c.Publish(topic, []byte(payload), qos, retained)
}

// PublishRetained publishes a retained message at the configured default
// QoS. Used for the topics that must survive the publisher: actuator
// state after a command echo, and the system status document.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, byte(c.cfg.QoS), true)
}
