package logging

import "strings"

// MaskPhone keeps the last two digits of a phone number and masks the rest,
// e.g. "+15005550006" becomes "**********06".
func MaskPhone(phone string) string {
	if len(phone) <= 2 {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-2) + phone[len(phone)-2:]
}
