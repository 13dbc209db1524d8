package nats

import (
	"strings"
)

// ToNATSSubject converts an MQTT topic or filter to a NATS subject.
// MQTT uses / as separator and +/# as wildcards, NATS uses . and */>.
// Each level becomes one subject token.
func ToNATSSubject(mqttTopic string) string {
	levels := strings.Split(mqttTopic, "/")
	for i, level := range levels {
		switch level {
		case "+":
			levels[i] = "*"
		case "#":
			levels[i] = ">"
		default:
			levels[i] = NormalizeSubject(level)
		}
	}
	return strings.Join(levels, ".")
}

// NormalizeSubject makes a single subject token safe for NATS. Empty tokens
// are not allowed by NATS and become "_".
func NormalizeSubject(token string) string {
	if token == "" {
		return "_"
	}
	replacer := strings.NewReplacer(
		".", "_",
		" ", "_",
		"\t", "_",
		"*", "_",
		">", "_",
		"+", "_",
		"#", "_",
	)
	return replacer.Replace(token)
}
