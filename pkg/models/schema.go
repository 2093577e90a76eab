package models

import "fmt"

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateNotificationMessage(msg *NotificationMessage) error {
	if msg == nil {
		return &ValidationError{
			Field:   "message",
			Message: "notification message cannot be nil",
		}
	}

	if msg.ID == "" {
		return &ValidationError{
			Field:   "id",
			Message: "message ID is required",
		}
	}

	if msg.Properties == nil {
		return &ValidationError{
			Field:   "properties",
			Message: "properties object is required",
		}
	}

	for i, link := range msg.Links {
		if link.Href == "" && link.Next == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("links[%d].href", i),
				Message: "link href is required",
			}
		}
	}

	return nil
}
