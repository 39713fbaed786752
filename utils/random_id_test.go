package utils_test

import (
	"testing"

	"github.com/Darkness4/tsremux/utils"
	"github.com/stretchr/testify/require"
)

func TestRandomID(t *testing.T) {
	a := utils.RandomID(16)
	b := utils.RandomID(16)

	require.Len(t, a, 16)
	require.Regexp(t, `^[a-zA-Z0-9]{16}$`, a)
	require.NotEqual(t, a, b)
}

func TestMockRandomID(t *testing.T) {
	utils.MockRandomID("fixed")
	defer utils.MockRandomID("")

	require.Equal(t, "fixed", utils.RandomID(16))
}
