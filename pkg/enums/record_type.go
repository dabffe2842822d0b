package enums

import "fmt"

// RecordType is the judicial record extract requested (bulletin n°1, 2 or 3).
type RecordType string

const (
	RecordTypeB1 RecordType = "B1"
	RecordTypeB2 RecordType = "B2"
	RecordTypeB3 RecordType = "B3"
)

var validRecordTypes = []RecordType{RecordTypeB1, RecordTypeB2, RecordTypeB3}

func (r RecordType) IsValid() bool {
	for _, candidate := range validRecordTypes {
		if candidate == r {
			return true
		}
	}
	return false
}

func ParseRecordType(value string) (RecordType, error) {
	for _, candidate := range validRecordTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid record type %q", value)
}

// DeliveryMode is how the requester collects the extract.
type DeliveryMode string

const (
	DeliveryModeOnline   DeliveryMode = "online"
	DeliveryModeInPerson DeliveryMode = "in_person"
)

func (d DeliveryMode) IsValid() bool {
	return d == DeliveryModeOnline || d == DeliveryModeInPerson
}

// ContactChannel is the out-of-band channel used to reach the requester.
type ContactChannel string

const (
	ContactChannelEmail ContactChannel = "email"
	ContactChannelSMS   ContactChannel = "sms"
)

func (c ContactChannel) IsValid() bool {
	return c == ContactChannelEmail || c == ContactChannelSMS
}
