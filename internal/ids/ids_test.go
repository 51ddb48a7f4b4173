// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package ids_test

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-pdp/aegis/internal/ids"
	"github.com/aegis-pdp/aegis/pkg/errutil"
)

func TestNew_IsSortedInCreationOrder(t *testing.T) {
	got := make([]string, 0, 1000)
	for range 1000 {
		got = append(got, ids.New())
	}
	assert.True(t, slices.IsSorted(got))
	assert.Len(t, slices.Compact(slices.Clone(got)), 1000)
}

func TestValidate(t *testing.T) {
	require.NoError(t, ids.Validate(ids.New()))
	errutil.AssertErrorCode(t, ids.Validate("not-a-ulid"), "INVALID_ID")
}
