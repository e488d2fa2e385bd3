package classify

import (
	"fmt"
	"strings"
)

// Category is the closed classification outcome for a discovered file.
type Category string

// Constants representing the defined file categories.
const (
	CategoryText    Category = "Text"
	CategoryArchive Category = "Archive"
	CategoryEmail   Category = "Email"
	CategoryImage   Category = "Image"
	CategoryGarbage Category = "Garbage"
	CategoryUnknown Category = "Unknown"
)

// AllCategories lists every category in a stable order.
var AllCategories = []Category{
	CategoryText,
	CategoryArchive,
	CategoryEmail,
	CategoryImage,
	CategoryGarbage,
	CategoryUnknown,
}

// Retained reports whether files of this category are hashed and published downstream.
// Image, Garbage and Unknown files are only counted.
func (c Category) Retained() bool {
	switch c {
	case CategoryText, CategoryArchive, CategoryEmail:
		return true
	default:
		return false
	}
}

// String implements fmt.Stringer.
func (c Category) String() string { return string(c) }

// ParseCategory resolves a category name case-insensitively.
func ParseCategory(s string) (Category, error) {
	trimmed := strings.TrimSpace(s)
	for _, c := range AllCategories {
		if strings.EqualFold(trimmed, string(c)) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q (allowed: %v)", s, AllCategories)
}
