package testutil

import "time"

// FixedTime is the clock used by handler and service tests.
var FixedTime = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
