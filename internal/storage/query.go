package storage

import (
	"encoding/json"
	"regexp"
	"strings"

	"greplay/pkg/models"
)

// FeatureQuery selects stored messages by publication time and topic.
type FeatureQuery struct {
	TimeRange models.TimeRange
	// TopicPattern uses "*" for exactly one topic level and matches the
	// topic itself and everything beneath it.
	TopicPattern string
	Limit        int
	Offset       int
}

type FeaturePage struct {
	Features []json.RawMessage
	// NumberMatched is nil when the backend does not count.
	NumberMatched *int64
	HasMore       bool
}

// TopicRegex translates a topic pattern into an anchored regular expression.
// An empty pattern matches everything.
func TopicRegex(pattern string) string {
	pattern = strings.Trim(strings.TrimSpace(pattern), "/")
	if pattern == "" {
		return ".*"
	}

	levels := strings.Split(pattern, "/")
	for i, level := range levels {
		if level == "*" {
			levels[i] = "[^/]*"
			continue
		}
		levels[i] = regexp.QuoteMeta(level)
	}
	return "^" + strings.Join(levels, "/") + "(/.*)?$"
}

// fetchLimit asks for one extra row so HasMore can be answered without a count.
func fetchLimit(limit int) int {
	return limit + 1
}

func trimPage(features []json.RawMessage, limit int) ([]json.RawMessage, bool) {
	if len(features) > limit {
		return features[:limit], true
	}
	return features, false
}
