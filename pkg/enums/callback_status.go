package enums

import "fmt"

// CallbackStatus records the outcome of a merchant callback attempt.
type CallbackStatus string

const (
	CallbackStatusDelivered CallbackStatus = "delivered"
	CallbackStatusFailed    CallbackStatus = "failed"
)

var validCallbackStatuses = []CallbackStatus{
	CallbackStatusDelivered,
	CallbackStatusFailed,
}

// String implements fmt.Stringer.
func (c CallbackStatus) String() string {
	return string(c)
}

// IsValid reports whether the value is a known CallbackStatus.
func (c CallbackStatus) IsValid() bool {
	for _, candidate := range validCallbackStatuses {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCallbackStatus converts raw input into a CallbackStatus.
func ParseCallbackStatus(value string) (CallbackStatus, error) {
	for _, candidate := range validCallbackStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid callback status %q", value)
}
