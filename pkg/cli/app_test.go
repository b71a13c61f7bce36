package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCSV = `person_id,eligible,ps_01,ps_02,dv_01,dv_02
p1,true,1,0,1,1
p2,false,0,1,1,0
`

func TestMain(m *testing.M) {
	initLogging(false)
	os.Exit(m.Run())
}

func run(t *testing.T, args ...string) error {
	t.Helper()
	app := newApp()
	return app.Run(append([]string{appName}, args...))
}

func TestApp_ImportAndQuery(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dbPath := filepath.Join(t.TempDir(), "test.db")

	csvPath := filepath.Join(t.TempDir(), "responses.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(testCSV), 0600))

	require.NoError(t, run(t, "--db", dbPath, "import", "responses", "--file", csvPath))
	require.NoError(t, run(t, "--db", dbPath, "query", "summary"))
	require.NoError(t, run(t, "--db", dbPath, "--format", "yaml", "query", "persons"))
	require.NoError(t, run(t, "--db", dbPath, "query", "persons", "--flagged"))
}

func TestApp_ImportMissingFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dbPath := filepath.Join(t.TempDir(), "test.db")

	err := run(t, "--db", dbPath, "import", "responses", "--file", "no-such.csv")
	assert.Error(t, err)
}

func TestApp_ScreenRunNoData(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dbPath := filepath.Join(t.TempDir(), "test.db")

	err := run(t, "--db", dbPath, "screen", "run")
	assert.Error(t, err)
}

func TestGetHomeDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := getHomeDir()
	assert.Equal(t, filepath.Join(home, "."+appName), dir)
	_, err := os.Stat(dir)
	assert.NoError(t, err)
}

func TestEncode(t *testing.T) {
	outputFormat = formatJSON
	assert.NoError(t, encode(map[string]int{"a": 1}))

	outputFormat = formatYAML
	assert.NoError(t, encode(map[string]int{"a": 1}))
	outputFormat = formatJSON
}
