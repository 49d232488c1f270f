// Package verify enforces project-level structural invariants.
//
// These tests catch problems unit tests cannot:
//   - packages under pkg/ that nothing outside tests imports
//   - interfaces whose only implementations are no-ops
//   - storage backends that configuration accepts but the client cannot open
//
// Run: go test -run 'TestNoDeadPackages|TestNoopOnlyInterfaces|TestStorageBackendsWired' .
package academy_client_test

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// modulePath reads the module path from go.mod in root.
func modulePath(t *testing.T, root string) string {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(root, "go.mod")) //nolint:gosec // test reads go.mod
	require.NoError(t, err)
	m := regexp.MustCompile(`(?m)^module\s+(\S+)`).FindSubmatch(raw)
	require.NotNil(t, m, "go.mod has no module line")
	return string(m[1])
}

// goSources calls fn for every non-test Go file under dir.
func goSources(dir string, fn func(path string, content []byte) error) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".go") || strings.HasSuffix(info.Name(), "_test.go") {
			return nil
		}
		content, err := os.ReadFile(path) //nolint:gosec // test reads source files
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		return fn(path, content)
	})
}

// discoverPackages returns the import path of every directory under pkgDir
// holding non-test Go source.
func discoverPackages(pkgDir, root, module string) (map[string]bool, error) {
	pkgs := map[string]bool{}
	err := goSources(pkgDir, func(path string, _ []byte) error {
		rel, err := filepath.Rel(root, filepath.Dir(path))
		if err != nil {
			return fmt.Errorf("computing relative path for %s: %w", path, err)
		}
		pkgs[module+"/"+filepath.ToSlash(rel)] = false
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking package directory: %w", err)
	}
	return pkgs, nil
}

// TestNoDeadPackages verifies that every package under pkg/ is imported by
// non-test code somewhere in pkg/, cmd/ or internal/.
func TestNoDeadPackages(t *testing.T) {
	root, err := filepath.Abs(".")
	require.NoError(t, err)
	module := modulePath(t, root)

	pkgs, err := discoverPackages(filepath.Join(root, "pkg"), root, module)
	require.NoError(t, err)
	require.NotEmpty(t, pkgs)

	importRe := regexp.MustCompile(`"(` + regexp.QuoteMeta(module) + `/[^"]+)"`)
	for _, dir := range []string{"pkg", "cmd", "internal"} {
		err := goSources(filepath.Join(root, dir), func(_ string, content []byte) error {
			for _, m := range importRe.FindAllSubmatch(content, -1) {
				if _, ok := pkgs[string(m[1])]; ok {
					pkgs[string(m[1])] = true
				}
			}
			return nil
		})
		require.NoError(t, err)
	}

	for pkg, imported := range pkgs {
		assert.True(t, imported,
			"package %q is never imported by non-test code; wire it into the client or delete it", pkg)
	}
}

// TestNoopOnlyInterfaces verifies that every interface with a noop
// implementation also has a real one. Implementations are found through
// `var _ Iface = (*Type)(nil)` assertions.
func TestNoopOnlyInterfaces(t *testing.T) {
	root, err := filepath.Abs(".")
	require.NoError(t, err)

	implRe := regexp.MustCompile(`var\s+_\s+(\S+)\s*=\s*\(\*(\w+)\)\(nil\)`)
	byInterface := map[string][]string{}
	err = goSources(filepath.Join(root, "pkg"), func(_ string, content []byte) error {
		for _, m := range implRe.FindAllSubmatch(content, -1) {
			byInterface[string(m[1])] = append(byInterface[string(m[1])], string(m[2]))
		}
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, byInterface, "should find interface compliance assertions in pkg/")

	for iface, types := range byInterface {
		var hasNoop, hasReal bool
		for _, name := range types {
			if strings.Contains(strings.ToLower(name), "noop") {
				hasNoop = true
			} else {
				hasReal = true
			}
		}
		if hasNoop {
			assert.True(t, hasReal, "interface %q has only noop implementation(s) %v", iface, types)
		}
	}
}

// TestStorageBackendsWired verifies that every storage backend name declared
// in pkg/storage is handled by the client's store factory.
func TestStorageBackendsWired(t *testing.T) {
	root, err := filepath.Abs(".")
	require.NoError(t, err)

	decl, err := os.ReadFile(filepath.Join(root, "pkg", "storage", "storage.go")) //nolint:gosec // test reads source files
	require.NoError(t, err)
	factory, err := os.ReadFile(filepath.Join(root, "pkg", "client", "store.go")) //nolint:gosec // test reads source files
	require.NoError(t, err)

	backends := regexp.MustCompile(`(?m)^\s+(Backend\w+)\s+=`).FindAllSubmatch(decl, -1)
	require.NotEmpty(t, backends)
	for _, m := range backends {
		assert.Contains(t, string(factory), "storage."+string(m[1]),
			"backend %s is declared but client.OpenStore does not handle it", m[1])
	}
}
