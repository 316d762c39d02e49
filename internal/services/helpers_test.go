package services

import "time"

func testTime() time.Time {
	return time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
}
