package replay

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	apperrors "greplay/pkg/errors"
	"greplay/pkg/models"
)

// MinTopicLevels is channel/a/wis2/centre-id.
const MinTopicLevels = 4

const (
	msgRequired   = "datetime/topic/subscriber-id required"
	msgTopicDepth = "topic level minimum of centre-id required"
	msgDatetime   = "datetime must be an RFC3339 instant or interval"
)

// SubscriptionRequest asks for stored messages matching Topic within Datetime
// to be replayed onto a channel named after SubscriberID.
type SubscriptionRequest struct {
	Topic        string `json:"topic" validate:"required,topicdepth"`
	Datetime     string `json:"datetime" validate:"required,interval"`
	SubscriberID string `json:"subscriber-id" validate:"required,subscriberid"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})

		// registration only fails for an empty tag or nil func
		_ = validate.RegisterValidation("topicdepth", func(fl validator.FieldLevel) bool {
			return len(strings.Split(fl.Field().String(), "/")) >= MinTopicLevels
		})
		_ = validate.RegisterValidation("interval", func(fl validator.FieldLevel) bool {
			_, err := models.ParseDatetime(fl.Field().String())
			return err == nil
		})
		_ = validate.RegisterValidation("subscriberid", func(fl validator.FieldLevel) bool {
			_, err := uuid.Parse(fl.Field().String())
			return err == nil
		})
	})
	return validate
}

// Validate reports the first failing rule in the order: missing fields,
// topic depth, datetime format, subscriber id.
func (r *SubscriptionRequest) Validate() error {
	err := getValidator().Struct(r)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.ErrValidation.WithCause(err)
	}

	failed := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		failed[fe.Tag()] = fe.Field()
	}

	switch {
	case failed["required"] != "":
		return apperrors.ErrValidation.
			WithDetail("message", msgRequired).
			WithDetail("field", failed["required"])
	case failed["topicdepth"] != "":
		return apperrors.ErrValidation.
			WithDetail("message", msgTopicDepth).
			WithDetail("field", "topic")
	case failed["interval"] != "":
		return apperrors.ErrValidation.
			WithDetail("message", msgDatetime).
			WithDetail("field", "datetime")
	case failed["subscriberid"] != "":
		return apperrors.ErrInvalidSubscriberID.WithDetail("field", "subscriber-id")
	}
	return apperrors.ErrValidation.WithCause(err)
}
