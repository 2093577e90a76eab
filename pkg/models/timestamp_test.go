package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Time
	}{
		{"fractional seconds", "2024-03-01T10:20:30.123Z", time.Date(2024, 3, 1, 10, 20, 30, 123000000, time.UTC)},
		{"seconds with offset", "2024-03-01T12:20:30+02:00", time.Date(2024, 3, 1, 10, 20, 30, 0, time.UTC)},
		{"no zone", "2024-03-01T10:20:30", time.Date(2024, 3, 1, 10, 20, 30, 0, time.UTC)},
		{"space separator", "2024-03-01 10:20:30Z", time.Date(2024, 3, 1, 10, 20, 30, 0, time.UTC)},
		{"minutes", "2024-03-01T10:20Z", time.Date(2024, 3, 1, 10, 20, 0, 0, time.UTC)},
		{"hours", "2024-03-01T10", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
		{"date", "2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"month", "2024-03", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"year", "2024", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimestamp(tt.value)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s got %s", tt.want, got)
		})
	}
}

func TestParseTimestamp_Invalid(t *testing.T) {
	for _, value := range []string{"", "yesterday", "2024-13-01", "01/02/2024"} {
		_, err := ParseTimestamp(value)
		assert.Error(t, err, value)
	}
}

func TestParseDatetime(t *testing.T) {
	t.Run("instant", func(t *testing.T) {
		r, err := ParseDatetime("2024-03-01T00:00:00Z")
		require.NoError(t, err)
		assert.True(t, r.IsInstant())
	})

	t.Run("closed interval", func(t *testing.T) {
		r, err := ParseDatetime("2024-03-01T00:00:00Z/2024-03-02T00:00:00Z")
		require.NoError(t, err)
		assert.False(t, r.IsInstant())
		assert.True(t, r.Contains(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))
		assert.False(t, r.Contains(time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)))
	})

	t.Run("open start", func(t *testing.T) {
		r, err := ParseDatetime("../2024-03-02T00:00:00Z")
		require.NoError(t, err)
		assert.True(t, r.Start.IsZero())
		assert.True(t, r.Contains(time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)))
	})

	t.Run("open end", func(t *testing.T) {
		r, err := ParseDatetime("2024-03-01T00:00:00Z/")
		require.NoError(t, err)
		assert.True(t, r.End.IsZero())
	})

	t.Run("errors", func(t *testing.T) {
		for _, value := range []string{"", "../..", "2024-03-02/2024-03-01", "a/b/c", "nope"} {
			_, err := ParseDatetime(value)
			assert.Error(t, err, value)
		}
	})
}

func TestNotificationMessage_Accessors(t *testing.T) {
	raw := []byte(`{"id":"abc","type":"Feature","geometry":null,
		"properties":{"data_id":"d/1","pubtime":"2024-03-01T10:00:00Z"},
		"links":[{"href":"https://example.org/x","rel":"canonical"}]}`)

	msg, err := ParseNotificationMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, "abc", msg.ID)
	assert.Equal(t, "d/1", msg.DataID())
	assert.Nil(t, msg.Geometry)

	pub, ok := msg.PubTime()
	require.True(t, ok)
	assert.Equal(t, 2024, pub.Year())

	msg.SetProperty(PropertyTopic, "cache/a/wis2/x")
	assert.Equal(t, "cache/a/wis2/x", msg.Topic())
}

func TestParseNotificationMessage_Rejects(t *testing.T) {
	_, err := ParseNotificationMessage([]byte(`{not json`))
	assert.Error(t, err)

	_, err = ParseNotificationMessage([]byte(`{"properties":{}}`))
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "id", vErr.Field)

	_, err = ParseNotificationMessage([]byte(`{"id":"x"}`))
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "properties", vErr.Field)
}
