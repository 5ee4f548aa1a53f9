// Package testutil provides test helpers for tagmail tests.
//
// The package is organized into focused files:
//   - assert.go: assertion helpers (MustNoErr, AssertStrings)
//   - store_helpers.go: database test setup (NewTestStore)
//   - builders.go: store.Message builders
//
// Raw RFC 5322 message construction lives in the email subpackage.
package testutil
