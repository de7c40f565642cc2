package testutil

import "testing"

// Given, When and Then nest subtests so a scenario reads top to bottom in the
// test output, e.g. "Given_a_pass/When_rotated/Then_old_token_admits".
func Given(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("Given "+desc, fn)
}

func When(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("When "+desc, fn)
}

func Then(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("Then "+desc, fn)
}
