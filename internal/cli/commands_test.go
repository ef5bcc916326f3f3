package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/geofencer/internal/geo"
)

type cliRun struct {
	stdout string
	stderr string
	err    error
}

// execute runs the root command with a temp database unless args sets --db.
func execute(t *testing.T, db string, stdin string, args ...string) cliRun {
	t.Helper()
	cmd := NewRootCommand()
	out, errBuf := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errBuf)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--db", db}, args...))

	err := cmd.Execute()
	return cliRun{stdout: out.String(), stderr: errBuf.String(), err: err}
}

func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "geofencer.db")
}

func decodeData(t *testing.T, output string, data interface{}) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp), "output: %s", output)
	require.Equal(t, "ok", resp.Status)
	require.NoError(t, json.Unmarshal(resp.Data, data))
}

func listGeofences(t *testing.T, db string) listResult {
	t.Helper()
	r := execute(t, db, "", "list", "--format", "json")
	require.NoError(t, r.err)

	var result listResult
	decodeData(t, r.stdout, &result)
	return result
}

func TestAddListRemove(t *testing.T) {
	db := tempDB(t)

	r := execute(t, db, "", "add", "home", "--lat", "52.52", "--lon", "13.405", "--radius", "200")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "✓ Added home")

	r = execute(t, db, "", "add", "office", "--lat", "52.53", "--lon", "13.38", "--radius", "150", "--no-exit")
	require.NoError(t, r.err)

	result := listGeofences(t, db)
	require.Len(t, result.Geofences, 2)
	assert.Equal(t, "home", result.Geofences[0].Identifier)
	assert.True(t, result.Geofences[0].NotifyOnExit)
	assert.Equal(t, "office", result.Geofences[1].Identifier)
	assert.False(t, result.Geofences[1].NotifyOnExit)
	assert.Equal(t, 2, result.Status.Geofences)
	assert.False(t, result.Status.Activated)

	r = execute(t, db, "", "list")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "home (52.520000, 13.405000) r=200m")
	assert.Contains(t, r.stdout, "2 geofence(s), monitoring off")

	r = execute(t, db, "", "remove", "home")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "✓ Removed home")

	result = listGeofences(t, db)
	require.Len(t, result.Geofences, 1)
	assert.Equal(t, "office", result.Geofences[0].Identifier)
}

func TestAdd_ReplacesSameIdentifier(t *testing.T) {
	db := tempDB(t)

	require.NoError(t, execute(t, db, "", "add", "home", "--lat", "52.52", "--lon", "13.405", "--radius", "200").err)
	require.NoError(t, execute(t, db, "", "add", "home", "--lat", "52.52", "--lon", "13.405", "--radius", "500").err)

	result := listGeofences(t, db)
	require.Len(t, result.Geofences, 1)
	assert.Equal(t, 500.0, result.Geofences[0].Radius)
}

func TestAdd_GeneratedIdentifier(t *testing.T) {
	db := tempDB(t)

	r := execute(t, db, "", "add", "--lat", "52.52", "--lon", "13.405", "--radius", "200", "--format", "json")
	require.NoError(t, r.err)

	var g geo.Geofence
	decodeData(t, r.stdout, &g)
	assert.NotEmpty(t, g.Identifier)
	assert.Equal(t, 200.0, g.Radius)
}

func TestAdd_InvalidGeofence(t *testing.T) {
	db := tempDB(t)

	r := execute(t, db, "", "add", "home", "--lat", "95", "--lon", "13.405", "--radius", "200")
	require.Error(t, r.err)
	assert.Equal(t, ExitFailure, GetExitCode(r.err))
	assert.Contains(t, r.stdout, string(geo.ErrCodeInvalidGeofence))

	assert.Empty(t, listGeofences(t, db).Geofences)
}

func TestAdd_MissingFlags(t *testing.T) {
	r := execute(t, tempDB(t), "", "add", "home", "--lat", "52.52")
	require.Error(t, r.err)
	assert.Contains(t, r.err.Error(), "required flag")
}

func TestRemove_Unknown(t *testing.T) {
	r := execute(t, tempDB(t), "", "remove", "nowhere")
	require.Error(t, r.err)
	assert.Equal(t, ExitFailure, GetExitCode(r.err))
	assert.Contains(t, r.stdout, ErrCodeNotFound)
	assert.Contains(t, r.stdout, "not found")
}

func TestList_Empty(t *testing.T) {
	db := tempDB(t)

	r := execute(t, db, "", "list")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "No geofences")

	r = execute(t, db, "", "list", "--format", "json")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, `"geofences":[]`)
}

func TestInvalidFormat(t *testing.T) {
	r := execute(t, tempDB(t), "", "list", "--format", "yaml")
	require.Error(t, r.err)
	assert.Contains(t, r.err.Error(), "invalid format")
}

func TestOpenStore_BadPath(t *testing.T) {
	db := filepath.Join(t.TempDir(), "missing", "dir", "geofencer.db")

	r := execute(t, db, "", "list")
	require.Error(t, r.err)
	assert.Equal(t, ExitCommandError, GetExitCode(r.err))
}

func TestClear(t *testing.T) {
	db := tempDB(t)
	require.NoError(t, execute(t, db, "", "add", "home", "--lat", "52.52", "--lon", "13.405", "--radius", "200").err)
	require.NoError(t, execute(t, db, "", "add", "office", "--lat", "52.53", "--lon", "13.38", "--radius", "150").err)
	require.NoError(t, execute(t, db, "", "run", "--start").err)
	require.True(t, listGeofences(t, db).Status.Activated)

	r := execute(t, db, "", "clear")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "✓ Cleared all geofences")

	result := listGeofences(t, db)
	assert.Empty(t, result.Geofences)
	assert.True(t, result.Status.Activated, "clear keeps monitoring switched on")

	require.NoError(t, execute(t, db, "", "clear", "--stop").err)
	assert.False(t, listGeofences(t, db).Status.Activated)
}

const berlinCatalog = `package berlin

geofence: home: {latitude: 52.52, longitude: 13.405, radius: 200}
geofence: office: {
	latitude:     52.53
	longitude:    13.38
	radius:       150
	notifyOnExit: false
}

notification: arriving: {title: "Welcome", body: "You have arrived"}
`

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fences.cue"), []byte(content), 0644))
	return dir
}

func TestImport(t *testing.T) {
	db := tempDB(t)
	dir := writeCatalog(t, berlinCatalog)

	r := execute(t, db, "", "import", dir)
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "✓ Imported 2 geofence(s)")
	assert.Contains(t, r.stdout, `arriving template: "Welcome"`)

	result := listGeofences(t, db)
	require.Len(t, result.Geofences, 2)
	assert.Equal(t, "home", result.Geofences[0].Identifier)
	assert.True(t, result.Geofences[0].NotifyOnEntry)
	assert.False(t, result.Geofences[1].NotifyOnExit)
}

func TestImport_JSON(t *testing.T) {
	r := execute(t, tempDB(t), "", "import", writeCatalog(t, berlinCatalog), "--format", "json")
	require.NoError(t, r.err)

	var result importResult
	decodeData(t, r.stdout, &result)
	assert.Len(t, result.Geofences, 2)
	assert.True(t, result.Arriving)
	assert.False(t, result.Leaving)
}

func TestImport_InvalidCatalog(t *testing.T) {
	db := tempDB(t)
	dir := writeCatalog(t, `package bad

geofence: home: {latitude: 52.52, longitude: 13.405, radius: 0}
geofence: away: {latitude: 91, longitude: 13.405, radius: 100}
`)

	r := execute(t, db, "", "import", dir)
	require.Error(t, r.err)
	assert.Equal(t, ExitCommandError, GetExitCode(r.err))
	assert.Contains(t, r.stdout, "✗ Catalog invalid")
	assert.Contains(t, r.err.Error(), "2 error(s)")

	assert.Empty(t, listGeofences(t, db).Geofences, "nothing is stored from an invalid catalog")
}

func TestImport_MissingDir(t *testing.T) {
	r := execute(t, tempDB(t), "", "import", filepath.Join(t.TempDir(), "nope"), "--format", "json")
	require.Error(t, r.err)
	assert.Equal(t, ExitCommandError, GetExitCode(r.err))
	assert.Contains(t, r.stdout, ErrCodeCatalog)
}

func TestTemplates_RequiresOne(t *testing.T) {
	r := execute(t, tempDB(t), "", "templates")
	require.Error(t, r.err)
	assert.Equal(t, ExitCommandError, GetExitCode(r.err))
	assert.Contains(t, r.stdout, ErrCodeInvalidInput)
}

func TestTemplates_NotificationWhileDetached(t *testing.T) {
	db := tempDB(t)
	require.NoError(t, execute(t, db, "", "add", "home", "--lat", "52.52", "--lon", "13.405", "--radius", "200").err)

	r := execute(t, db, "", "templates", "--arriving-title", "Welcome", "--arriving-body", "You are home")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "✓ Stored notification templates")

	fixes := `{"latitude": 52.40, "longitude": 13.10}
{"latitude": 52.52, "longitude": 13.405}
`
	r = execute(t, db, fixes, "run", "--start", "--detached")
	require.NoError(t, r.err)
	assert.Contains(t, r.stderr, "local notification")
	assert.Contains(t, r.stderr, "title=Welcome")
	assert.NotContains(t, r.stderr, "geofence event")

	require.NoError(t, execute(t, db, "", "templates", "--clear").err)

	r = execute(t, db, `{"latitude": 52.40, "longitude": 13.10}
{"latitude": 52.52, "longitude": 13.405}
`, "run", "--detached")
	require.NoError(t, r.err)
	assert.NotContains(t, r.stderr, "local notification")
}

func TestRun_DispatchesToResponder(t *testing.T) {
	db := tempDB(t)
	require.NoError(t, execute(t, db, "", "add", "home", "--lat", "52.52", "--lon", "13.405", "--radius", "200").err)

	fixes := `{"latitude": 52.40, "longitude": 13.10}
{"latitude": 52.52, "longitude": 13.405, "accuracy": 5}
{"latitude": 52.40, "longitude": 13.10}
`
	r := execute(t, db, fixes, "run", "--start")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "Processed 3 fix(es); 1 region(s) monitored")
	assert.Contains(t, r.stderr, "geofence event")
	assert.Contains(t, r.stderr, "geofence=home")
	assert.Contains(t, r.stderr, "action=ENTER")
	assert.Contains(t, r.stderr, "action=EXIT")
}

func TestRun_RestartsWhenActivated(t *testing.T) {
	db := tempDB(t)
	require.NoError(t, execute(t, db, "", "add", "home", "--lat", "52.52", "--lon", "13.405", "--radius", "200").err)

	// Not switched on yet: nothing is registered.
	r := execute(t, db, "", "run", "--format", "json")
	require.NoError(t, r.err)
	var result runResult
	decodeData(t, r.stdout, &result)
	assert.Equal(t, 0, result.Status.MonitoredRegions)
	assert.False(t, result.Status.Activated)

	require.NoError(t, execute(t, db, "", "run", "--start").err)

	r = execute(t, db, "", "run", "--format", "json")
	require.NoError(t, r.err)
	decodeData(t, r.stdout, &result)
	assert.Equal(t, 1, result.Status.MonitoredRegions)
	assert.True(t, result.Status.Activated)
}

func TestRun_SkipsInvalidFix(t *testing.T) {
	r := execute(t, tempDB(t), `{"latitude": 123, "longitude": 13.1}
{"latitude": 52.5, "longitude": 13.1}
`, "run")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "Processed 1 fix(es)")
	assert.Contains(t, r.stderr, "fix skipped")
}

func TestRun_MalformedInput(t *testing.T) {
	r := execute(t, tempDB(t), "not json\n", "run")
	require.Error(t, r.err)
	assert.Equal(t, ExitCommandError, GetExitCode(r.err))
}
