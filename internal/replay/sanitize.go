package replay

import "strings"

// SanitizeTopic turns an MQTT subscription filter into a feature query topic
// pattern: a trailing multi-level wildcard is dropped and single-level
// wildcards become "*".
func SanitizeTopic(topic string) string {
	topic = strings.TrimSuffix(topic, "/#")
	return strings.ReplaceAll(topic, "+", "*")
}
