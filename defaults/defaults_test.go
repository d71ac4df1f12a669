package defaults

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memri/memri-go/internal/cvu"
)

func TestBundledFilesParseCleanly(t *testing.T) {
	names, srcs, err := Files()
	require.NoError(t, err)
	require.NotEmpty(t, names)

	total := 0
	for _, name := range names {
		defs, errs := cvu.ParseString(srcs[name], cvu.DomainDefaults)
		require.Empty(t, errs, "parse errors in %s", name)
		total += len(defs)
	}
	assert.NotZero(t, total)
}

func TestBundledFilesCoverCoreSelectors(t *testing.T) {
	names, srcs, err := Files()
	require.NoError(t, err)

	bySelector := map[string]bool{}
	byName := map[string]bool{}
	for _, name := range names {
		defs, errs := cvu.ParseString(srcs[name], cvu.DomainDefaults)
		require.Empty(t, errs)
		for _, d := range defs {
			bySelector[d.Selector] = true
			byName[d.Name] = true
		}
	}

	// The list fallbacks every query can land on.
	assert.True(t, bySelector["*[]"])
	assert.True(t, bySelector["*"])
	assert.True(t, bySelector["Note[]"])
	assert.True(t, byName["all-notes"])
	assert.True(t, byName["inbox"])
}
