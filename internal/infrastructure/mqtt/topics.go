package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every Seedgate topic.
const TopicPrefix = "seedgate"

// Service lifecycle event names used in ServiceEvent topics.
const (
	EventCreated   = "created"
	EventUpdated   = "updated"
	EventDestroyed = "destroyed"
)

// Topics provides builders for Seedgate MQTT topics.
//
//	topic, err := mqtt.Topics{}.ServiceEvent("alice", mqtt.EventCreated)
//	// Returns: "seedgate/service/alice/created"
type Topics struct{}

// SystemStatus returns the retained online/offline topic for this process.
//
// Example: seedgate/system/status
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// ServiceEvent returns the topic for a user's service lifecycle event.
// Usernames containing MQTT wildcard or separator characters are rejected.
//
// Example: seedgate/service/alice/destroyed
func (Topics) ServiceEvent(username, event string) (string, error) {
	if err := validateSegment(username); err != nil {
		return "", err
	}
	if err := validateSegment(event); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/service/%s/%s", TopicPrefix, username, event), nil
}

// AllServiceEvents returns a pattern matching every service event.
//
// Pattern: seedgate/service/+/+
func (Topics) AllServiceEvents() string {
	return TopicPrefix + "/service/+/+"
}

func validateSegment(s string) error {
	if s == "" || strings.ContainsAny(s, "/+#") || strings.ContainsRune(s, 0) {
		return fmt.Errorf("%w: segment %q", ErrInvalidTopic, s)
	}
	return nil
}
