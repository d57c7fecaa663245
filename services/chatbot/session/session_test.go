// Copyright (C) 2026 Pelagic AI (oss@pelagicai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelate_EchoesSuppliedID(t *testing.T) {
	t.Parallel()

	// Supplied ids are opaque; even non-UUID values are echoed verbatim.
	assert.Equal(t, "sess-42", Correlate("sess-42"))
	assert.Equal(t, "not a uuid at all", Correlate("not a uuid at all"))
}

func TestCorrelate_GeneratesUUIDWhenEmpty(t *testing.T) {
	t.Parallel()

	id := Correlate("")

	require.NotEmpty(t, id)
	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), parsed.Version())
}

func TestCorrelate_GeneratedIDsAreUnique(t *testing.T) {
	t.Parallel()

	assert.NotEqual(t, Correlate(""), Correlate(""))
}
