package redis

import "fmt"

const ns = "slotbook:v1"

func KeyEventSummary(eventID int64) string {
	return fmt.Sprintf("%s:event:%d:summary", ns, eventID)
}

func KeySlotAvailability(slotID int64) string {
	return fmt.Sprintf("%s:slot:%d:availability", ns, slotID)
}

func KeyRateLimit(scope, id string) string {
	return fmt.Sprintf("%s:rl:%s:%s", ns, scope, id)
}

func ChannelSlotsChanged() string {
	return ns + ":slots:changed"
}
