package scheduling

import (
	"fmt"
	"strings"
	"time"
)

func firstName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "there"
	}
	if idx := strings.IndexByte(name, ' '); idx > 0 {
		return name[:idx]
	}
	return name
}

func confirmationBody(tenantName, customerName, service string, startsAt time.Time, loc *time.Location) string {
	when := startsAt.In(loc).Format("Monday, January 2 at 3:04 PM")
	if service != "" {
		return fmt.Sprintf("Hi %s! Your %s appointment at %s is confirmed for %s. Reply to this number with any questions.",
			firstName(customerName), service, tenantName, when)
	}
	return fmt.Sprintf("Hi %s! Your appointment at %s is confirmed for %s. Reply to this number with any questions.",
		firstName(customerName), tenantName, when)
}

func reminder24hBody(tenantName, customerName string, startsAt time.Time, loc *time.Location) string {
	when := startsAt.In(loc).Format("Monday at 3:04 PM")
	return fmt.Sprintf("Hi %s, a reminder from %s: your appointment is tomorrow, %s. See you then!",
		firstName(customerName), tenantName, when)
}

func reminder1hBody(tenantName, customerName string, startsAt time.Time, loc *time.Location) string {
	when := startsAt.In(loc).Format("3:04 PM")
	return fmt.Sprintf("Hi %s, your appointment at %s starts soon, at %s today.",
		firstName(customerName), tenantName, when)
}

func nurtureDay1Body(tenantName, customerName string) string {
	return fmt.Sprintf("Hi %s, thanks for talking with %s yesterday! Happy to answer any questions or find a time that works for you.",
		firstName(customerName), tenantName)
}

func nurtureDay4Body(tenantName, customerName string) string {
	return fmt.Sprintf("Hi %s, just checking in from %s. Spots fill up fast this time of year, so reply here if you'd like to grab one.",
		firstName(customerName), tenantName)
}
