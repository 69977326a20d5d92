package mqttrt

import "github.com/skylinemq/mqttrt/internal/subtopic"

// MessageHandler receives messages delivered to a matching subscription.
type MessageHandler func(msg Message)

// subscription is a topic-filter registration bound to a callback. It is
// reference-counted because inbound dispatch (matchPublish) may still be
// invoking the callback concurrently with an Unsubscribe removing the
// record; the record is only freed once unsubscribed is true and no
// dispatch holds a reference.
type subscription struct {
	topicFilter  string
	qos          QoS
	packetID     uint16 // packet id of the SUBSCRIBE that (re)established this record
	references   int
	unsubscribed bool
	callback     MessageHandler
}

// addSubscription installs filter under subMu, keyed by packet id so a
// failed send can remove it again by correlation.
func (c *Connection) addSubscription(filter string, qos QoS, packetID uint16, cb MessageHandler) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subscriptions[filter] = &subscription{
		topicFilter: filter,
		qos:         qos,
		packetID:    packetID,
		callback:    cb,
	}
}

// removeSubscription deletes filter unconditionally (used by Unsubscribe,
// which must remove the record before sending regardless of in-flight
// dispatch; a dispatch holding a reference keeps the struct alive via the
// reference count, it simply stops being discoverable for new matches).
func (c *Connection) removeSubscription(filter string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if s, ok := c.subscriptions[filter]; ok {
		s.unsubscribed = true
		delete(c.subscriptions, filter)
	}
}

// removeSubscriptionsByPacketID removes every provisional record keyed by
// packetID, used when a SUBSCRIBE's send scheduling failed, or its Wait
// timed out, after the records were optimistically added.
func (c *Connection) removeSubscriptionsByPacketID(packetID uint16) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for filter, s := range c.subscriptions {
		if s.packetID == packetID {
			s.unsubscribed = true
			delete(c.subscriptions, filter)
		}
	}
}

// retainAccepted keeps only the subscriptions from packetID whose SUBACK
// return code accepted the subscription; the rest are removed.
func (c *Connection) retainAccepted(packetID uint16, accepted map[string]bool) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for filter, s := range c.subscriptions {
		if s.packetID != packetID {
			continue
		}
		if !accepted[filter] {
			s.unsubscribed = true
			delete(c.subscriptions, filter)
		}
	}
}

// matchPublish returns the callbacks of every subscription whose filter
// matches topic, incrementing each match's reference count first so the
// record survives a concurrent Unsubscribe until the callback returns.
// subMu is held only long enough to copy the matches out, per the
// concurrency model's "never invoke user callbacks while holding a lock".
func (c *Connection) matchPublish(topic string) []*subscription {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	var matches []*subscription
	for filter, s := range c.subscriptions {
		if subtopic.Match(filter, topic) {
			s.references++
			matches = append(matches, s)
		}
	}
	return matches
}

// releaseSubscription drops the reference taken by matchPublish, freeing
// the record if it has since been unsubscribed and this was the last hold.
func (c *Connection) releaseSubscription(s *subscription) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	s.references--
}
