// Package testutil holds test helpers shared across oxd packages.
//
// Helpers take [testing.TB]. Require* helpers stop the test on failure,
// Assert* helpers record it and return the result.
package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oxderr "github.com/zaphod72/oxd/pkg/errors"
)

// RequireErrorKind stops the test unless err is an *oxderr.Error of the
// given kind.
//
//	_, err := gate.Validate(ctx, cmd)
//	testutil.RequireErrorKind(t, err, oxderr.KindBlankAccessToken)
func RequireErrorKind(t testing.TB, err error, kind oxderr.Kind, msgAndArgs ...any) {
	t.Helper()
	require.Error(t, err, msgAndArgs...)
	oxdErr, ok := oxderr.AsError(err)
	require.True(t, ok, "expected *oxderr.Error, got %T: %v", err, err)
	require.Equal(t, kind, oxdErr.Kind,
		"error kind mismatch: got %q, want %q (%v)", oxdErr.Kind, kind, err)
}

// AssertErrorKind is the non-fatal form of RequireErrorKind, for table
// tests.
func AssertErrorKind(t testing.TB, err error, kind oxderr.Kind, msgAndArgs ...any) bool {
	t.Helper()
	if !assert.Error(t, err, msgAndArgs...) {
		return false
	}
	oxdErr, ok := oxderr.AsError(err)
	if !assert.True(t, ok, "expected *oxderr.Error, got %T: %v", err, err) {
		return false
	}
	return assert.Equal(t, kind, oxdErr.Kind,
		"error kind mismatch: got %q, want %q (%v)", oxdErr.Kind, kind, err)
}

// AssertNoOxdError fails when err is non-nil, printing the kind and reason
// if it is a taxonomy error.
func AssertNoOxdError(t testing.TB, err error) bool {
	t.Helper()
	if err == nil {
		return true
	}
	if oxdErr, ok := oxderr.AsError(err); ok {
		return assert.Fail(t, "unexpected oxd error",
			"kind=%s code=%s reason=%s", oxdErr.Kind, oxdErr.Code, oxdErr.Reason)
	}
	return assert.NoError(t, err)
}

// TempConfigFile writes content to config<ext> in a fresh temp dir and
// returns the path.
func TempConfigFile(t testing.TB, content, ext string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config"+ext)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600), "write %s", path)
	return path
}

// SetEnv sets key for the duration of the test. Tests using it must not
// call t.Parallel.
func SetEnv(t testing.TB, key, value string) {
	t.Helper()
	prev, existed := os.LookupEnv(key)
	require.NoError(t, os.Setenv(key, value), "set env var %s", key)
	t.Cleanup(func() {
		if existed {
			_ = os.Setenv(key, prev)
		} else {
			_ = os.Unsetenv(key)
		}
	})
}

// AssertJSONNotContains marshals v and asserts the output lacks
// unexpected. Used to check that secrets are not serialized.
func AssertJSONNotContains(t testing.TB, v any, unexpected string) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err, "json.Marshal failed")
	assert.NotContains(t, string(data), unexpected)
}
