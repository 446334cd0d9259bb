package mqtt

import "fmt"

// TopicPrefix is the root of every topic the auth core publishes.
const TopicPrefix = "rxhome"

// Topics builds site-scoped topic names.
//
//	topics := mqtt.Topics{Site: "site-001"}
//	topics.AuthEvent("user_added")
//	// Returns: "rxhome/site-001/auth/events/user_added"
type Topics struct {
	Site string
}

// Status returns the retained service status topic.
//
// Example: rxhome/site-001/auth/status
func (t Topics) Status() string {
	return fmt.Sprintf("%s/%s/auth/status", TopicPrefix, t.Site)
}

// AuthEvent returns the topic an auth event of the given type is forwarded to.
//
// Example: rxhome/site-001/auth/events/login_attempt
func (t Topics) AuthEvent(eventType string) string {
	return fmt.Sprintf("%s/%s/auth/events/%s", TopicPrefix, t.Site, eventType)
}

// AllAuthEvents returns the wildcard matching every auth event topic.
func (t Topics) AllAuthEvents() string {
	return fmt.Sprintf("%s/%s/auth/events/#", TopicPrefix, t.Site)
}

// Notify returns the delivery topic of a notification service.
//
// Example: rxhome/site-001/notify/mobile_app_phone
func (t Topics) Notify(service string) string {
	return fmt.Sprintf("%s/%s/notify/%s", TopicPrefix, t.Site, service)
}
