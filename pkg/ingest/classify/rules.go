package classify

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ErrRuleConflict is returned when one extension or file name is listed under two
// different categories in the same Rules.
var ErrRuleConflict = errors.New("conflicting classification rule")

// Rules maps category names to the extensions and exact file names that belong to them.
//
// A rules file looks like:
//
//	extensions:
//	  Text: [txt, log, csv]
//	  Archive: [zip, 7z]
//	names:
//	  Garbage: [thumbs.db, .ds_store]
type Rules struct {
	Extensions map[string][]string `yaml:"extensions" mapstructure:"extensions"`
	Names      map[string][]string `yaml:"names" mapstructure:"names"`
}

// LoadRules reads a YAML rules file and validates the category names it references.
func LoadRules(path string) (Rules, error) {
	var r Rules
	data, err := os.ReadFile(path)
	if err != nil {
		return r, fmt.Errorf("read classification rules %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("parse classification rules %s: %w", path, err)
	}
	if err := r.Validate(); err != nil {
		return r, fmt.Errorf("classification rules %s: %w", path, err)
	}
	return r, nil
}

// Validate checks that every category key names a known Category and that no
// extension or name is claimed by two categories.
func (r Rules) Validate() error {
	if err := validateTable("extension", r.Extensions, normalizeExtension); err != nil {
		return err
	}
	return validateTable("name", r.Names, normalizeName)
}

func validateTable(kind string, table map[string][]string, normalize func(string) string) error {
	owner := make(map[string]Category)
	for _, catName := range slices.Sorted(maps.Keys(table)) {
		cat, err := ParseCategory(catName)
		if err != nil {
			return err
		}
		for _, entry := range table[catName] {
			norm := normalize(entry)
			if norm == "" {
				continue
			}
			if prev, ok := owner[norm]; ok && prev != cat {
				return fmt.Errorf("%w: %s %q is listed under both %s and %s", ErrRuleConflict, kind, norm, prev, cat)
			}
			owner[norm] = cat
		}
	}
	return nil
}

// RulesFromExtensionMap converts a flat extension -> category map, as found in
// configuration files, into Rules.
func RulesFromExtensionMap(m map[string]string) (Rules, error) {
	r := Rules{Extensions: make(map[string][]string)}
	for ext, catName := range m {
		cat, err := ParseCategory(catName)
		if err != nil {
			return Rules{}, fmt.Errorf("extension %q: %w", ext, err)
		}
		r.Extensions[string(cat)] = append(r.Extensions[string(cat)], ext)
	}
	return r, nil
}

// DefaultRules returns the built-in classification tables.
func DefaultRules() Rules {
	return Rules{
		Extensions: map[string][]string{
			string(CategoryText): {
				"txt", "text", "log", "csv", "tsv", "md", "rtf", "tex",
				"doc", "docx", "dot", "dotx", "odt", "wpd", "pages",
				"xls", "xlsx", "xlsm", "ods", "ppt", "pptx", "odp",
				"pdf", "htm", "html", "xhtml", "xml", "json", "yaml", "yml",
				"ini", "cfg", "conf", "vcf", "ics",
			},
			string(CategoryArchive): {
				"zip", "rar", "7z", "tar", "gz", "tgz", "bz2", "tbz", "tbz2",
				"xz", "txz", "lz", "lzma", "zst", "z", "cab", "iso", "arj", "jar",
			},
			string(CategoryEmail): {
				"eml", "emlx", "msg", "mbox", "mbx", "pst", "ost", "dbx", "nsf",
			},
			string(CategoryImage): {
				"jpg", "jpeg", "jpe", "png", "gif", "bmp", "tif", "tiff", "webp",
				"heic", "heif", "ico", "svg", "psd", "raw", "cr2", "nef", "dng",
			},
			string(CategoryGarbage): {
				"tmp", "temp", "bak", "old", "swp", "swo", "part", "crdownload",
				"lnk", "dmp", "chk",
			},
		},
		Names: map[string][]string{
			string(CategoryGarbage): {
				"thumbs.db", "ehthumbs.db", "desktop.ini", ".ds_store", "icon\r",
			},
		},
	}
}
