package ics

import (
	"time"

	appLog "attendcal/internal/log"
)

// ResolveLocation loads the IANA zone name. When the runtime's zone database
// does not know it, a fixed zone with fallbackOffsetMinutes is returned so
// that conversions stay deterministic (no DST in the fallback).
func ResolveLocation(name string, fallbackOffsetMinutes int) *time.Location {
	if name != "" {
		loc, err := time.LoadLocation(name)
		if err == nil {
			return loc
		}
		appLog.Error("failed to load timezone; using fixed fallback offset", err,
			"name", name,
			"offset_minutes", fallbackOffsetMinutes,
		)
	}
	return time.FixedZone(fallbackZoneName(fallbackOffsetMinutes), fallbackOffsetMinutes*60)
}

func fallbackZoneName(offsetMinutes int) string {
	switch offsetMinutes {
	case 60:
		return "CET"
	case 120:
		return "CEST"
	case 0:
		return "UTC"
	default:
		sign := "+"
		if offsetMinutes < 0 {
			sign = "-"
			offsetMinutes = -offsetMinutes
		}
		return "UTC" + sign + twoDigits(offsetMinutes/60) + twoDigits(offsetMinutes%60)
	}
}

func twoDigits(n int) string {
	return string([]byte{byte('0' + n/10%10), byte('0' + n%10)})
}
