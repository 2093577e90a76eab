package models

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	PropertyPubTime = "pubtime"
	PropertyDataID  = "data_id"
	PropertyTopic   = "topic"
)

// NotificationMessage is a single event on the feed, in its GeoJSON feature form.
// Members without a field of their own are kept verbatim in Extra and written
// back out on encode.
type NotificationMessage struct {
	ID         string                 `json:"id" bson:"id"`
	Type       string                 `json:"type,omitempty" bson:"type,omitempty"`
	ConformsTo []string               `json:"conformsTo,omitempty" bson:"conformsTo,omitempty"`
	Version    string                 `json:"version,omitempty" bson:"version,omitempty"`
	Geometry   map[string]interface{} `json:"geometry" bson:"geometry,omitempty"`
	Properties map[string]interface{} `json:"properties" bson:"properties"`
	Links      []Link                 `json:"links" bson:"links"`

	Extra map[string]json.RawMessage `json:"-" bson:"-"`
}

// Link is one entry of a message's links array. Only the members the service
// reads are typed; length, hreflang, security and the rest stay in Extra.
type Link struct {
	Href  string `json:"href,omitempty" bson:"href,omitempty"`
	Rel   string `json:"rel,omitempty" bson:"rel,omitempty"`
	Type  string `json:"type,omitempty" bson:"type,omitempty"`
	Title string `json:"title,omitempty" bson:"title,omitempty"`
	Next  string `json:"next,omitempty" bson:"next,omitempty"`

	Extra map[string]json.RawMessage `json:"-" bson:"-"`
}

type (
	messageFields NotificationMessage
	linkFields    Link
)

var (
	messageKeys = []string{"id", "type", "conformsTo", "version", "geometry", "properties", "links"}
	linkKeys    = []string{"href", "rel", "type", "title", "next"}
)

func (m *NotificationMessage) UnmarshalJSON(data []byte) error {
	var known messageFields
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	extra, err := unknownMembers(data, messageKeys)
	if err != nil {
		return err
	}
	known.Extra = extra
	*m = NotificationMessage(known)
	return nil
}

func (m NotificationMessage) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(messageFields(m), m.Extra)
}

func (l *Link) UnmarshalJSON(data []byte) error {
	var known linkFields
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	extra, err := unknownMembers(data, linkKeys)
	if err != nil {
		return err
	}
	known.Extra = extra
	*l = Link(known)
	return nil
}

func (l Link) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(linkFields(l), l.Extra)
}

func unknownMembers(data []byte, known []string) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

// marshalWithExtra encodes the typed fields and merges the kept members back
// in. A typed field wins over an Extra entry of the same name.
func marshalWithExtra(fields interface{}, extra map[string]json.RawMessage) ([]byte, error) {
	raw, err := json.Marshal(fields)
	if err != nil || len(extra) == 0 {
		return raw, err
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(raw, &merged); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// ParseNotificationMessage decodes a raw feed payload and checks the fields
// every stored message must carry.
func ParseNotificationMessage(raw []byte) (*NotificationMessage, error) {
	var msg NotificationMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode notification message: %w", err)
	}
	if err := ValidateNotificationMessage(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (m *NotificationMessage) StringProperty(key string) string {
	if m.Properties == nil {
		return ""
	}
	if s, ok := m.Properties[key].(string); ok {
		return s
	}
	return ""
}

func (m *NotificationMessage) SetProperty(key string, value interface{}) {
	if m.Properties == nil {
		m.Properties = make(map[string]interface{})
	}
	m.Properties[key] = value
}

func (m *NotificationMessage) Topic() string {
	return m.StringProperty(PropertyTopic)
}

// DataID returns the originating data identifier, falling back to the message id.
func (m *NotificationMessage) DataID() string {
	if id := m.StringProperty(PropertyDataID); id != "" {
		return id
	}
	return m.ID
}

// PubTime parses properties.pubtime. ok is false when it is absent or malformed.
func (m *NotificationMessage) PubTime() (time.Time, bool) {
	raw := m.StringProperty(PropertyPubTime)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := ParseTimestamp(raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
