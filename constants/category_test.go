package constants

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategoryTaxonomy(t *testing.T) {
	labels := AsStringSlice()
	assert.Len(t, labels, 15)
	assert.Contains(t, labels, "Dining & Restaurants")
	assert.Contains(t, labels, "Miscellaneous")
}

func TestIsValidCategoryCaseSensitive(t *testing.T) {
	assert.True(t, IsValidCategory("Groceries"))
	assert.False(t, IsValidCategory("groceries"))
	assert.False(t, IsValidCategory("Grocery"))
	assert.False(t, IsValidCategory(""))
}
