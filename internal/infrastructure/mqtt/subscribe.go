package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Subscribe registers a handler for one topic filter.
//
// Filters may contain the single-level wildcard, e.g. "pill/+/status".
// The subscription is tracked and restored after every reconnect.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	return c.SubscribeAll([]string{topic}, qos, handler)
}

// SubscribeAll registers one handler for several filters in a single
// SUBSCRIBE packet. Either every filter is tracked or none is, so a
// rejected batch leaves nothing behind to restore on reconnect.
//
//	err := client.SubscribeAll(mqtt.Topics{}.Listener("pill/+"), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("%s: %s", topic, payload)
//	        return nil
//	    })
func (c *Client) SubscribeAll(topics []string, qos byte, handler MessageHandler) error {
	if len(topics) == 0 {
		return ErrInvalidTopic
	}
	for _, topic := range topics {
		if topic == "" {
			return ErrInvalidTopic
		}
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	filters := make(map[string]byte, len(topics))
	c.subMu.Lock()
	for _, topic := range topics {
		filters[topic] = qos
		c.subscriptions[topic] = subscription{topic: topic, qos: qos, handler: handler}
	}
	c.subMu.Unlock()

	var token pahomqtt.Token
	if len(topics) == 1 {
		token = c.client.Subscribe(topics[0], qos, c.wrapHandler(handler))
	} else {
		token = c.client.SubscribeMultiple(filters, c.wrapHandler(handler))
	}

	if !token.WaitTimeout(defaultPublishTimeout) {
		c.forget(topics...)
		return fmt.Errorf("%w: %w after %v", ErrSubscribeFailed, ErrTimeout, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		c.forget(topics...)
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// Unsubscribe removes a subscription.
// Messages already in flight may still be delivered.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.forget(topic)

	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %w after %v", ErrUnsubscribeFailed, ErrTimeout, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	return nil
}

func (c *Client) forget(topics ...string) {
	c.subMu.Lock()
	for _, topic := range topics {
		delete(c.subscriptions, topic)
	}
	c.subMu.Unlock()
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription checks if a subscription exists for the exact topic string.
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, exists := c.subscriptions[topic]
	return exists
}
