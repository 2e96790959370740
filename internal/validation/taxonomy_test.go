package validation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTaxonomy_Units(t *testing.T) {
	tax := DefaultTaxonomy()
	assert.True(t, tax.IsRecognizedUnit("kg"))
	assert.True(t, tax.IsRecognizedUnit("kg CO2-eq"))
	assert.True(t, tax.IsRecognizedUnit(" KWH "))
	assert.False(t, tax.IsRecognizedUnit("florps"))
}

func TestDefaultTaxonomy_Categories(t *testing.T) {
	tax := DefaultTaxonomy()

	canonical, ok := tax.CanonicalCategory("Climate Change")
	require.True(t, ok)
	assert.Equal(t, "climate change", canonical)

	canonical, ok = tax.CanonicalCategory("GWP")
	require.True(t, ok)
	assert.Equal(t, "climate change", canonical)

	_, ok = tax.CanonicalCategory("vibes")
	assert.False(t, ok)
}

func TestDefaultTaxonomy_Stages(t *testing.T) {
	tax := DefaultTaxonomy()
	assert.True(t, tax.IsStage("A1"))
	assert.True(t, tax.IsStage("c4"))
	assert.True(t, tax.IsStage("D"))
	assert.False(t, tax.IsStage("Z9"))
}

func TestLoadTaxonomy_EmptyPathReturnsDefaults(t *testing.T) {
	tax, err := LoadTaxonomy("")
	require.NoError(t, err)
	assert.True(t, tax.IsRecognizedUnit("kg"))
}

func TestLoadTaxonomy_OverrideReplacesOnlyPresentFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taxonomy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("units:\n  - florps\n"), 0o644))

	tax, err := LoadTaxonomy(path)
	require.NoError(t, err)

	assert.True(t, tax.IsRecognizedUnit("florps"))
	assert.False(t, tax.IsRecognizedUnit("kg"))
	// Untouched fields keep their defaults.
	_, ok := tax.CanonicalCategory("gwp")
	assert.True(t, ok)
	assert.True(t, tax.IsStage("A1"))
}

func TestLoadTaxonomy_MissingFile(t *testing.T) {
	_, err := LoadTaxonomy(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
