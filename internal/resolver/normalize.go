package resolver

import (
	"path"
	"strings"

	"flag-classifier/internal/models"
)

// CompositePrefix marks the side-by-side rendition of an image.
const CompositePrefix = "composite_"

// NormalizeTown converts a town name to the directory segment used by every
// storage layout: trimmed, spaces replaced with underscores, upper case.
func NormalizeTown(town string) string {
	town = strings.TrimSpace(town)
	town = strings.Join(strings.Fields(town), "_")
	return strings.ToUpper(town)
}

// NormalizeName returns the file name of the given rendition. Directory
// components are dropped. Any run of composite markers is removed, and
// composite mode puts back exactly one, so the function is idempotent for
// either mode.
func NormalizeName(filename string, mode models.DisplayMode) string {
	name := path.Base(strings.TrimSpace(filename))
	if name == "." || name == "/" {
		return ""
	}

	for strings.HasPrefix(name, CompositePrefix) {
		name = strings.TrimPrefix(name, CompositePrefix)
	}

	if mode == models.ModeComposite {
		return CompositePrefix + name
	}
	return name
}

// identityKey is stable across renditions and spelling variants of the town.
func identityKey(rec models.ImageRecord) string {
	return NormalizeTown(rec.Town) + "/" + NormalizeName(rec.Filename, models.ModeCropped)
}

// explicitPath returns the catalog-supplied path for mode, if any.
func explicitPath(rec models.ImageRecord, mode models.DisplayMode) string {
	if mode == models.ModeComposite {
		return normalizePath(rec.CompositePath)
	}
	return normalizePath(rec.PrimaryPath)
}

// normalizePath makes relative catalog paths origin-absolute and leaves
// full URLs untouched.
func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || strings.Contains(p, "://") || strings.HasPrefix(p, "/") {
		return p
	}
	return "/" + strings.TrimPrefix(p, "./")
}

func joinRoot(root, town, name string) string {
	root = strings.TrimRight(strings.TrimSpace(root), "/")
	return root + "/" + town + "/" + name
}

// Candidates builds the ordered list of locations to try for rec in mode:
// the explicit path for the mode, every root with the normalized town and
// name, then the same for the alternate mode. Duplicates are removed.
func Candidates(rec models.ImageRecord, mode models.DisplayMode, roots []string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(c string) {
		if c == "" {
			return
		}
		if _, ok := seen[c]; ok {
			return
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}

	town := NormalizeTown(rec.Town)
	for _, m := range []models.DisplayMode{mode, mode.Alternate()} {
		add(explicitPath(rec, m))

		name := NormalizeName(rec.Filename, m)
		if name == "" || town == "" {
			continue
		}
		for _, root := range roots {
			add(joinRoot(root, town, name))
		}
	}

	return out
}
