package enums

import "fmt"

// NotificationType names realtime events pushed to connected users.
type NotificationType string

const (
	NotificationTypeCaseAssigned       NotificationType = "case.assigned"
	NotificationTypeCaseReassigned     NotificationType = "case.reassigned"
	NotificationTypeCaseUnassigned     NotificationType = "case.unassigned"
	NotificationTypeCaseStatusChanged  NotificationType = "case.status_changed"
	NotificationTypeSystemAnnouncement NotificationType = "system.announcement"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeCaseAssigned,
	NotificationTypeCaseReassigned,
	NotificationTypeCaseUnassigned,
	NotificationTypeCaseStatusChanged,
	NotificationTypeSystemAnnouncement,
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw strings into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}
