package main

import (
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const modulePrefix = "github.com/NAFTeam/NAFF-sub001/"

type parsedPackage struct {
	ImportPath string
	Imports    []string
}

func main() {
	root := "."
	if len(os.Args) > 1 {
		root = os.Args[1]
	}

	packages, err := parsePackages(root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "arch-check: %v\n", err)
		os.Exit(1)
	}

	violations := collectViolations(packages)
	if len(violations) == 0 {
		_, _ = fmt.Fprintf(os.Stdout, "arch-check: passed\n")
		return
	}

	_, _ = fmt.Fprintf(os.Stdout, "arch-check: architecture violations:\n")
	for _, violation := range violations {
		_, _ = fmt.Fprintf(os.Stdout, "  - %s\n", violation)
	}
	os.Exit(1)
}

// parsePackages walks the tree and records the imports of every Go file,
// test files included, grouped by the directory's import path. Directories
// the toolchain would skip (dot, underscore, vendor, testdata) are skipped
// here too.
func parsePackages(root string) ([]parsedPackage, error) {
	fileSet := token.NewFileSet()
	importsByPackage := make(map[string][]string)

	walkErr := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		name := entry.Name()
		if entry.IsDir() {
			if path == root {
				return nil
			}
			if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor" || name == "testdata" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(name, ".go") || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			return nil
		}

		parsed, err := parser.ParseFile(fileSet, path, nil, parser.ImportsOnly)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}

		relDir, err := filepath.Rel(root, filepath.Dir(path))
		if err != nil {
			return fmt.Errorf("relativize %s: %w", path, err)
		}
		importPath := strings.TrimSuffix(modulePrefix, "/")
		if relDir != "." {
			importPath = modulePrefix + filepath.ToSlash(relDir)
		}

		for _, spec := range parsed.Imports {
			imported, err := strconv.Unquote(spec.Path.Value)
			if err != nil {
				return fmt.Errorf("unquote import in %s: %w", path, err)
			}
			importsByPackage[importPath] = append(importsByPackage[importPath], imported)
		}

		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	result := make([]parsedPackage, 0, len(importsByPackage))
	for importPath, imports := range importsByPackage {
		result = append(result, parsedPackage{ImportPath: importPath, Imports: imports})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ImportPath < result[j].ImportPath })

	return result, nil
}

func collectViolations(packages []parsedPackage) []string {
	found := make(map[string]struct{})

	for _, pkg := range packages {
		for _, imported := range pkg.Imports {
			reason := violationReason(pkg.ImportPath, imported)
			if reason == "" {
				continue
			}
			entry := fmt.Sprintf("%s -> %s (%s)", pkg.ImportPath, imported, reason)
			found[entry] = struct{}{}
		}
	}

	violations := make([]string, 0, len(found))
	for violation := range found {
		violations = append(violations, violation)
	}
	sort.Strings(violations)

	return violations
}

func violationReason(importer, imported string) string {
	if !strings.HasPrefix(imported, modulePrefix) {
		return ""
	}

	if strings.HasPrefix(importer, modulePrefix+"pkg/naff") &&
		!strings.HasPrefix(imported, modulePrefix+"pkg/naff") {
		return "pkg/naff must not import the rest of the module"
	}

	if strings.HasPrefix(importer, modulePrefix+"internal/") &&
		strings.HasPrefix(imported, modulePrefix+"pkg/bot") {
		return "internal/* must not import pkg/bot"
	}

	if strings.HasPrefix(imported, modulePrefix+"internal/") &&
		!strings.HasPrefix(importer, modulePrefix+"internal/") &&
		!strings.HasPrefix(importer, modulePrefix+"pkg/bot") &&
		!strings.HasPrefix(importer, modulePrefix+"cmd/") {
		return "only pkg/bot and cmd/* may import internal/*"
	}

	return ""
}
