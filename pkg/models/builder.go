package models

import "time"

type NotificationMessageBuilder struct {
	msg *NotificationMessage
}

func NewNotificationMessageBuilder() *NotificationMessageBuilder {
	return &NotificationMessageBuilder{
		msg: &NotificationMessage{
			Type:       "Feature",
			Properties: make(map[string]interface{}),
			Links:      []Link{},
		},
	}
}

func (b *NotificationMessageBuilder) WithID(id string) *NotificationMessageBuilder {
	b.msg.ID = id
	return b
}

func (b *NotificationMessageBuilder) WithDataID(dataID string) *NotificationMessageBuilder {
	b.msg.Properties[PropertyDataID] = dataID
	return b
}

func (b *NotificationMessageBuilder) WithPubTime(t time.Time) *NotificationMessageBuilder {
	b.msg.Properties[PropertyPubTime] = t.UTC().Format(time.RFC3339)
	return b
}

func (b *NotificationMessageBuilder) WithTopic(topic string) *NotificationMessageBuilder {
	b.msg.Properties[PropertyTopic] = topic
	return b
}

func (b *NotificationMessageBuilder) WithPoint(lon, lat float64) *NotificationMessageBuilder {
	b.msg.Geometry = map[string]interface{}{
		"type":        "Point",
		"coordinates": []interface{}{lon, lat},
	}
	return b
}

func (b *NotificationMessageBuilder) Build() *NotificationMessage {
	if _, ok := b.msg.Properties[PropertyPubTime]; !ok {
		b.msg.Properties[PropertyPubTime] = time.Now().UTC().Format(time.RFC3339)
	}
	return b.msg
}
