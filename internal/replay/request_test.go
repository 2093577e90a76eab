package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greplay/pkg/errors"
)

func TestSanitizeTopic(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"cache/a/wis2/+/data/core/weather/#", "cache/a/wis2/*/data/core/weather"},
		{"cache/a/wis2/de-dwd", "cache/a/wis2/de-dwd"},
		{"cache/a/wis2/+/+/#", "cache/a/wis2/*/*"},
		{"origin/a/wis2/ca-eccc-msc/data/#/x", "origin/a/wis2/ca-eccc-msc/data/#/x"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeTopic(tt.in))
		})
	}
}

func validRequest() SubscriptionRequest {
	return SubscriptionRequest{
		Topic:        "cache/a/wis2/de-dwd/data/#",
		Datetime:     "2024-01-01T00:00:00Z/2024-01-02T00:00:00Z",
		SubscriberID: "0b7a1c5e-8f55-4a4a-9a4b-2a6c7e0d1f00",
	}
}

func TestSubscriptionRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *SubscriptionRequest)
		check   func(error) bool
		message string
	}{
		{
			name:    "missing topic",
			mutate:  func(r *SubscriptionRequest) { r.Topic = "" },
			check:   errors.IsValidation,
			message: msgRequired,
		},
		{
			name:    "missing datetime",
			mutate:  func(r *SubscriptionRequest) { r.Datetime = "" },
			check:   errors.IsValidation,
			message: msgRequired,
		},
		{
			name:    "missing subscriber id",
			mutate:  func(r *SubscriptionRequest) { r.SubscriberID = "" },
			check:   errors.IsValidation,
			message: msgRequired,
		},
		{
			name:    "shallow topic",
			mutate:  func(r *SubscriptionRequest) { r.Topic = "a/b" },
			check:   errors.IsValidation,
			message: msgTopicDepth,
		},
		{
			name:    "malformed datetime",
			mutate:  func(r *SubscriptionRequest) { r.Datetime = "yesterday" },
			check:   errors.IsValidation,
			message: msgDatetime,
		},
		{
			name:   "subscriber id is not a uuid",
			mutate: func(r *SubscriptionRequest) { r.SubscriberID = "not-a-uuid" },
			check:  errors.IsInvalidSubscriberID,
		},
		{
			name: "depth is checked before the subscriber id",
			mutate: func(r *SubscriptionRequest) {
				r.Topic = "a/b"
				r.SubscriberID = "not-a-uuid"
			},
			check:   errors.IsValidation,
			message: msgTopicDepth,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)

			err := req.Validate()
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
			if tt.message != "" {
				assert.Equal(t, tt.message, errors.ToErrorResponse(err)["error"])
			}
		})
	}
}

func TestSubscriptionRequest_ValidateAccepts(t *testing.T) {
	for _, mutate := range []func(r *SubscriptionRequest){
		func(r *SubscriptionRequest) {},
		func(r *SubscriptionRequest) { r.SubscriberID = "0B7A1C5E-8F55-4A4A-9A4B-2A6C7E0D1F00" },
		func(r *SubscriptionRequest) { r.Datetime = "2024-01-01T00:00:00Z/.." },
		func(r *SubscriptionRequest) { r.Datetime = "2024-01-01" },
		func(r *SubscriptionRequest) { r.Topic = "cache/a/wis2/fr-meteofrance" },
	} {
		req := validRequest()
		mutate(&req)
		assert.NoError(t, req.Validate(), "%+v", req)
	}
}

func TestInvalidSubscriberIDResponse(t *testing.T) {
	req := validRequest()
	req.SubscriberID = "not-a-uuid"

	resp := errors.ToErrorResponse(req.Validate())
	assert.Equal(t, "Invalid UUID", resp["error"])
	assert.Equal(t, "INVALID_SUBSCRIBER_ID", resp["error_code"])
}
