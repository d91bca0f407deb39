package enums

import "fmt"

// PaymentChannel identifies which ingestion path produced a payment.
type PaymentChannel string

const (
	PaymentChannelDevice  PaymentChannel = "device"
	PaymentChannelWebhook PaymentChannel = "webhook"
)

var validPaymentChannels = []PaymentChannel{
	PaymentChannelDevice,
	PaymentChannelWebhook,
}

// String implements fmt.Stringer.
func (p PaymentChannel) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentChannel.
func (p PaymentChannel) IsValid() bool {
	for _, candidate := range validPaymentChannels {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentChannel converts raw input into a PaymentChannel.
func ParsePaymentChannel(value string) (PaymentChannel, error) {
	for _, candidate := range validPaymentChannels {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment channel %q", value)
}
