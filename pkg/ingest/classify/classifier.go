package classify

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-enry/go-enry/v2"
)

// Classifier maps a file name to a Category.
//
// Implementations must be pure (no I/O) and total: every name maps to some Category,
// with CategoryUnknown as the catch-all. Implementations must be safe for concurrent use.
type Classifier interface {
	// Classify returns the category for the given file name. Only the base name is considered.
	Classify(name string) Category
	// ExtensionOf returns the normalized extension of the file name: lowercase, without
	// the leading dot. Dotfiles without a further dot (".bashrc") have no extension.
	ExtensionOf(name string) string
}

// Config controls how a RuleClassifier is assembled.
type Config struct {
	// Rules are applied on top of DefaultRules in order; later entries win.
	Rules []Rules
	// DisableLanguageFallback turns off the go-enry lookup for names no rule matches.
	DisableLanguageFallback bool
}

// RuleClassifier implements Classifier with extension and exact-name tables,
// falling back to go-enry language and image detection for unmatched names.
type RuleClassifier struct {
	extensions       map[string]Category // normalized extension -> category
	names            map[string]Category // lowercase base name -> category
	garbagePrefixes  []string
	garbageSuffixes  []string
	languageFallback bool
}

// New builds a RuleClassifier from DefaultRules plus any rules in cfg.
// It returns an error when a rule references an unknown category.
func New(cfg Config) (*RuleClassifier, error) {
	c := &RuleClassifier{
		extensions:       make(map[string]Category),
		names:            make(map[string]Category),
		garbagePrefixes:  []string{"~$", ".~lock.", "._"},
		garbageSuffixes:  []string{"~"},
		languageFallback: !cfg.DisableLanguageFallback,
	}
	all := append([]Rules{DefaultRules()}, cfg.Rules...)
	for i, r := range all {
		if err := c.apply(r); err != nil {
			return nil, fmt.Errorf("classification rules #%d: %w", i, err)
		}
	}
	return c, nil
}

// NewDefault returns a classifier using only the built-in rules.
func NewDefault() *RuleClassifier {
	c, err := New(Config{})
	if err != nil {
		// Built-in rules only reference known categories.
		panic(err)
	}
	return c
}

func (c *RuleClassifier) apply(r Rules) error {
	if err := r.Validate(); err != nil {
		return err
	}
	for catName, exts := range r.Extensions {
		cat, err := ParseCategory(catName)
		if err != nil {
			return err
		}
		for _, ext := range exts {
			if norm := normalizeExtension(ext); norm != "" {
				c.extensions[norm] = cat
			}
		}
	}
	for catName, names := range r.Names {
		cat, err := ParseCategory(catName)
		if err != nil {
			return err
		}
		for _, n := range names {
			if norm := normalizeName(n); norm != "" {
				c.names[norm] = cat
			}
		}
	}
	return nil
}

// Classify implements the Classifier interface.
func (c *RuleClassifier) Classify(name string) Category {
	base := filepath.Base(name)
	if base == "." || base == string(filepath.Separator) || base == "" {
		return CategoryUnknown
	}
	lower := strings.ToLower(base)

	if cat, ok := c.names[lower]; ok {
		return cat
	}
	for _, p := range c.garbagePrefixes {
		if strings.HasPrefix(lower, p) {
			return CategoryGarbage
		}
	}
	for _, s := range c.garbageSuffixes {
		if strings.HasSuffix(lower, s) {
			return CategoryGarbage
		}
	}
	if ext := c.ExtensionOf(base); ext != "" {
		if cat, ok := c.extensions[ext]; ok {
			return cat
		}
	}
	if c.languageFallback {
		return classifyByLanguage(base)
	}
	return CategoryUnknown
}

// ExtensionOf implements the Classifier interface.
func (c *RuleClassifier) ExtensionOf(name string) string {
	base := filepath.Base(name)
	trimmed := strings.TrimLeft(base, ".")
	if !strings.Contains(trimmed, ".") {
		return ""
	}
	return normalizeExtension(filepath.Ext(trimmed))
}

// classifyByLanguage consults go-enry for names the rule tables do not cover.
// Any recognized language (source, markup, data or prose) is treated as text.
func classifyByLanguage(base string) Category {
	if enry.IsImage(base) {
		return CategoryImage
	}
	if lang, _ := enry.GetLanguageByExtension(base); lang != "" {
		return CategoryText
	}
	if lang, _ := enry.GetLanguageByFilename(base); lang != "" {
		return CategoryText
	}
	return CategoryUnknown
}

func normalizeExtension(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
