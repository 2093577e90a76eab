package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const messageWithExtras = `{"id":"m1","type":"Feature","bbox":[1,2,3,4],"geometry":null,
	"properties":{"pubtime":"2024-03-01T10:00:00Z"},
	"links":[{"href":"https://x/a","rel":"canonical","length":"12","hreflang":"en",
		"security":{"default":{"type":"http","scheme":"basic"}}}]}`

func TestParseNotificationMessage_KeepsUnknownMembers(t *testing.T) {
	msg, err := ParseNotificationMessage([]byte(messageWithExtras))
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2,3,4]`, string(msg.Extra["bbox"]))
	require.Len(t, msg.Links, 1)
	assert.Equal(t, "https://x/a", msg.Links[0].Href)
	assert.JSONEq(t, `"12"`, string(msg.Links[0].Extra["length"]))
	assert.JSONEq(t, `"en"`, string(msg.Links[0].Extra["hreflang"]))

	msg.SetProperty(PropertyTopic, "cache/a/wis2/x")
	out, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, []interface{}{1.0, 2.0, 3.0, 4.0}, decoded["bbox"])
	link := decoded["links"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "12", link["length"])
	assert.Equal(t, "en", link["hreflang"])
	assert.Contains(t, link, "security")
	props := decoded["properties"].(map[string]interface{})
	assert.Equal(t, "cache/a/wis2/x", props["topic"])
}

func TestNotificationMessage_MarshalTypedFieldsWin(t *testing.T) {
	msg := NotificationMessage{
		ID:         "a",
		Properties: map[string]interface{}{},
		Extra:      map[string]json.RawMessage{"id": json.RawMessage(`"shadow"`), "bbox": json.RawMessage(`[0,0,1,1]`)},
	}

	out, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"a","geometry":null,"properties":{},"links":null,"bbox":[0,0,1,1]}`, string(out))
}

func TestNotificationMessage_NumericLinkLength(t *testing.T) {
	msg, err := ParseNotificationMessage([]byte(`{"id":"m","properties":{},"links":[{"href":"h","length":1024}]}`))
	require.NoError(t, err)

	out, err := json.Marshal(msg.Links[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"href":"h","length":1024}`, string(out))
}
