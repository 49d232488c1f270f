package migrate

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	migrateTestFileCount    = 2
	migrateTestSuccess      = "success"
	migrateTestFactoryError = "factory error"
	migrateTestUpFile       = "migrations/000001_client_store.up.sql"
	migrateTestDownFile     = "migrations/000001_client_store.down.sql"
)

// mockMigrator implements the migrator interface for testing.
type mockMigrator struct {
	upErr      error
	versionVal uint
	dirty      bool
	versionErr error
}

func (m *mockMigrator) Up() error { return m.upErr }
func (m *mockMigrator) Version() (version uint, dirty bool, err error) {
	return m.versionVal, m.dirty, m.versionErr
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrations.ReadDir("migrations")
	require.NoError(t, err)
	assert.Len(t, entries, migrateTestFileCount)

	fileNames := make(map[string]bool)
	for _, e := range entries {
		fileNames[e.Name()] = true
	}
	assert.True(t, fileNames["000001_client_store.up.sql"])
	assert.True(t, fileNames["000001_client_store.down.sql"])
}

func TestMigration001_UpContent(t *testing.T) {
	content, err := migrations.ReadFile(migrateTestUpFile)
	require.NoError(t, err)

	sqlText := string(content)
	assert.Contains(t, sqlText, "CREATE TABLE IF NOT EXISTS client_store")
	for _, col := range []string{"namespace", "store_key", "store_value", "updated_at"} {
		assert.Contains(t, sqlText, col, "up migration should define column %s", col)
	}
	assert.Contains(t, sqlText, "PRIMARY KEY (namespace, store_key)")
}

func TestMigration001_DownContent(t *testing.T) {
	content, err := migrations.ReadFile(migrateTestDownFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "DROP TABLE IF EXISTS client_store")
}

func TestRun(t *testing.T) {
	origFactory := migratorFactory
	defer func() { migratorFactory = origFactory }()

	t.Run(migrateTestSuccess, func(t *testing.T) {
		migratorFactory = func(_ *sql.DB) (migrator, error) {
			return &mockMigrator{versionVal: 1}, nil
		}
		assert.NoError(t, Run(nil))
	})

	t.Run("no change is not an error", func(t *testing.T) {
		migratorFactory = func(_ *sql.DB) (migrator, error) {
			return &mockMigrator{upErr: migrate.ErrNoChange, versionVal: 1}, nil
		}
		assert.NoError(t, Run(nil))
	})

	t.Run("up error", func(t *testing.T) {
		migratorFactory = func(_ *sql.DB) (migrator, error) {
			return &mockMigrator{upErr: errors.New("up failed")}, nil
		}
		err := Run(nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "running migrations")
	})

	t.Run(migrateTestFactoryError, func(t *testing.T) {
		migratorFactory = func(_ *sql.DB) (migrator, error) {
			return nil, errors.New("factory failed")
		}
		err := Run(nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "factory failed")
	})

	t.Run("version error", func(t *testing.T) {
		migratorFactory = func(_ *sql.DB) (migrator, error) {
			return &mockMigrator{versionErr: errors.New("version failed")}, nil
		}
		err := Run(nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "getting migration version")
	})

	t.Run("nil version is not an error", func(t *testing.T) {
		migratorFactory = func(_ *sql.DB) (migrator, error) {
			return &mockMigrator{versionErr: migrate.ErrNilVersion}, nil
		}
		assert.NoError(t, Run(nil))
	})

	t.Run("dirty state logs warning", func(t *testing.T) {
		migratorFactory = func(_ *sql.DB) (migrator, error) {
			return &mockMigrator{versionVal: 1, dirty: true}, nil
		}
		assert.NoError(t, Run(nil))
	})
}

func TestVersion(t *testing.T) {
	origFactory := migratorFactory
	defer func() { migratorFactory = origFactory }()

	t.Run(migrateTestSuccess, func(t *testing.T) {
		migratorFactory = func(_ *sql.DB) (migrator, error) {
			return &mockMigrator{versionVal: 1}, nil
		}
		version, dirty, err := Version(nil)
		require.NoError(t, err)
		assert.Equal(t, uint(1), version)
		assert.False(t, dirty)
	})

	t.Run(migrateTestFactoryError, func(t *testing.T) {
		migratorFactory = func(_ *sql.DB) (migrator, error) {
			return nil, errors.New("factory failed")
		}
		_, _, err := Version(nil)
		assert.Error(t, err)
	})
}

// TestMigrationTablesHaveConsumers verifies that every table created by a
// migration is referenced by DML in non-test Go code under pkg/.
//
// If this test fails, one of two things is true:
//  1. A migration creates a table that no Go code uses: delete the migration.
//  2. Go code exists but isn't wired up: wire it into the client or delete it.
func TestMigrationTablesHaveConsumers(t *testing.T) {
	entries, err := migrations.ReadDir("migrations")
	require.NoError(t, err)

	createTableRe := regexp.MustCompile(`(?i)CREATE TABLE\s+(?:IF NOT EXISTS\s+)?(\w+)`)

	var tables []string
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}
		content, readErr := migrations.ReadFile("migrations/" + entry.Name())
		require.NoError(t, readErr)
		for _, m := range createTableRe.FindAllStringSubmatch(string(content), -1) {
			tables = append(tables, m[1])
		}
	}
	require.NotEmpty(t, tables, "migrations should contain CREATE TABLE statements")

	var goFiles []string
	require.NoError(t, collectGoSourceFiles("../../../pkg", &goFiles))
	require.NotEmpty(t, goFiles)

	var corpus strings.Builder
	for _, path := range goFiles {
		content, readErr := os.ReadFile(path) //nolint:gosec // test reads source files, not user input
		require.NoError(t, readErr)
		corpus.Write(content)  //nolint:revive // strings.Builder.Write never returns an error
		corpus.WriteByte('\n') //nolint:revive // strings.Builder.WriteByte never returns an error
	}
	source := corpus.String()

	for _, table := range tables {
		found := false
		for _, pattern := range []string{"INSERT INTO %s", "FROM %s", "UPDATE %s", "DELETE FROM %s"} {
			if strings.Contains(source, fmt.Sprintf(pattern, table)) {
				found = true
				break
			}
		}
		assert.True(t, found,
			"table %q is created by a migration but no non-test Go code references it", table)
	}
}

// collectGoSourceFiles walks dir recursively and appends non-test, non-migration
// Go source file paths to dst.
func collectGoSourceFiles(dir string, dst *[]string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading directory %s: %w", dir, err)
	}
	for _, entry := range entries {
		path := dir + "/" + entry.Name()
		if entry.IsDir() {
			if entry.Name() == "migrate" {
				continue
			}
			if err := collectGoSourceFiles(path, dst); err != nil {
				return err
			}
			continue
		}
		if strings.HasSuffix(entry.Name(), ".go") && !strings.HasSuffix(entry.Name(), "_test.go") {
			*dst = append(*dst, path)
		}
	}
	return nil
}
