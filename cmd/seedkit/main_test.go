package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tordrt/seedkit/internal/config"
	"github.com/tordrt/seedkit/internal/db"
)

// execute runs the CLI with args and returns what it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// newSQLiteDB creates a database file with the given schema and returns
// its URL.
func newSQLiteDB(t *testing.T, ddl string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.db")
	url := "sqlite://" + path

	st, err := db.Open(context.Background(), url)
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.Exec(context.Background(), ddl))
	return url
}

func countRows(t *testing.T, url, table string, where ...db.Predicate) int64 {
	t.Helper()
	st, err := db.Open(context.Background(), url)
	require.NoError(t, err)
	defer st.Close()
	n, err := st.Count(context.Background(), table, where...)
	require.NoError(t, err)
	return n
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATABASE_URL", "SUPABASE_DB_URL",
		"SUPABASE_URL", "NEXT_PUBLIC_SUPABASE_URL",
		"SUPABASE_SERVICE_ROLE_KEY", "SUPABASE_ANON_KEY", "NEXT_PUBLIC_SUPABASE_ANON_KEY",
		"GENERATION_API_KEY", "XAI_API_KEY", "OPENAI_API_KEY",
		"ELEVENLABS_API_KEY", "ELEVENLABS_VOICE_ID", "REDIS_URL",
	} {
		t.Setenv(k, "")
	}
}

const coverageSchema = `
CREATE TABLE practice_problems (id INTEGER PRIMARY KEY, rule_id TEXT);
CREATE TABLE guided_practice (id INTEGER PRIMARY KEY, rule_id TEXT);
INSERT INTO practice_problems (rule_id) VALUES ('R1'), ('R2'), ('R2'), ('R3'), (NULL), ('');
INSERT INTO guided_practice (rule_id) VALUES ('R1'), ('R3'), ('R9');
`

func TestCoverageCommand(t *testing.T) {
	clearEnv(t)
	url := newSQLiteDB(t, coverageSchema)

	out, err := execute(t, "coverage", "--db-url", url, "--page-size", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Expected:  3")
	assert.Contains(t, out, "Covered:   2")
	assert.Contains(t, out, "Missing:   1")
	assert.Contains(t, out, "67%")
	assert.Contains(t, out, "  - R2")

	_, err = execute(t, "coverage", "--db-url", url, "--strict")
	assert.ErrorContains(t, err, "1 expected keys missing")
}

func TestCoverageCommand_Truncated(t *testing.T) {
	clearEnv(t)
	url := newSQLiteDB(t, coverageSchema)

	out, err := execute(t, "coverage", "--db-url", url, "--expected-max-rows", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "practice_problems.rule_id scan stopped at the row cap")

	_, err = execute(t, "coverage", "--db-url", url, "--expected-max-rows", "3", "--strict")
	assert.ErrorContains(t, err, "incomplete")
}

func TestCoverageCommand_BadRef(t *testing.T) {
	clearEnv(t)
	_, err := execute(t, "coverage", "--db-url", "sqlite://:memory:", "--expected", "rule_id")
	assert.ErrorContains(t, err, "want table.column")
}

func TestMissingConfiguration(t *testing.T) {
	clearEnv(t)
	_, err := execute(t, "count", "practice_problems")

	var missing *config.MissingError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"DATABASE_URL"}, missing.Vars)

	_, err = execute(t, "count", "--rest", "--tier", "anon", "practice_problems")
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"SUPABASE_URL", "SUPABASE_ANON_KEY"}, missing.Vars)
}

const stuckSchema = `
CREATE TABLE kid_stuck_responses (
	id INTEGER PRIMARY KEY,
	question_type TEXT NOT NULL,
	subject TEXT NOT NULL,
	age_group TEXT NOT NULL,
	response TEXT NOT NULL,
	response_tone TEXT NOT NULL,
	times_used INTEGER DEFAULT 0
);
`

func stuckItem(i int) map[string]any {
	return map[string]any{
		"question_type": "stuck",
		"subject":       "math",
		"age_group":     "K-2",
		"response":      fmt.Sprintf("Let's try it together, step %d.", i),
		"response_tone": "encouraging",
	}
}

func TestImportCountPurge(t *testing.T) {
	clearEnv(t)
	url := newSQLiteDB(t, stuckSchema)

	items := make([]map[string]any, 0, 7)
	for i := 0; i < 6; i++ {
		items = append(items, stuckItem(i))
	}
	items = append(items, map[string]any{"subject": "math"})
	data, err := json.Marshal(items)
	require.NoError(t, err)
	file := filepath.Join(t.TempDir(), "stuck.json")
	require.NoError(t, os.WriteFile(file, data, 0o644))

	out, err := execute(t, "import", file, "--db-url", url, "--kind", "stuck-response", "--batch-size", "4")
	require.NoError(t, err)
	assert.Contains(t, out, "kid_stuck_responses")
	assert.Contains(t, out, "Imported 6 of 7 items")
	assert.Contains(t, out, "item 6 rejected")

	failed, err := os.ReadFile(filepath.Join(filepath.Dir(file), "stuck.failed.json"))
	require.NoError(t, err)
	var leftovers []map[string]any
	require.NoError(t, json.Unmarshal(failed, &leftovers))
	assert.Len(t, leftovers, 1)

	out, err = execute(t, "count", "kid_stuck_responses", "--db-url", url, "--where", "subject=math")
	require.NoError(t, err)
	assert.Contains(t, out, "subject=math")
	assert.Contains(t, out, "6")

	out, err = execute(t, "purge", "kid_stuck_responses", "--db-url", url, "--where", "age_group=K-2")
	require.NoError(t, err)
	assert.Contains(t, out, "6 rows in kid_stuck_responses match age_group=K-2")

	out, err = execute(t, "purge", "kid_stuck_responses", "--db-url", url, "--where", "age_group=K-2", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 6 rows from kid_stuck_responses")

	_, err = execute(t, "purge", "kid_stuck_responses", "--db-url", url)
	assert.ErrorContains(t, err, "--where")
}

func TestImportManifest(t *testing.T) {
	clearEnv(t)
	url := newSQLiteDB(t, stuckSchema)
	dir := t.TempDir()

	data, err := json.Marshal([]map[string]any{stuckItem(1), stuckItem(2)})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stuck.json"), data, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "prepare.sql"),
		[]byte("CREATE TABLE return_messages (id INTEGER PRIMARY KEY, message TEXT NOT NULL);"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "messages.json"),
		[]byte(`[{"message":"Welcome back!"},{"message":"Ready for more?"}]`), 0o644))

	manifest := filepath.Join(dir, "themed.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(`
prepare: prepare.sql
imports:
  - name: stuck
    file: stuck.json
    kind: stuck_response
  - file: messages.json
    table: return_messages
  - name: absent
    file: absent.json
    table: return_messages
`), 0o644))

	out, err := execute(t, "import", "--manifest", manifest, "--db-url", url)
	assert.ErrorContains(t, err, "1 of 3 files could not be imported")
	assert.Contains(t, out, "Imported 4 of 4 items")

	out, err = execute(t, "count", "kid_stuck_responses", "return_messages", "--db-url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "Total: 4")
}

func TestImport_RerunWithConflictHandling(t *testing.T) {
	clearEnv(t)
	url := newSQLiteDB(t, `CREATE TABLE return_messages (id TEXT PRIMARY KEY, message TEXT NOT NULL);`)
	file := filepath.Join(t.TempDir(), "messages.json")

	require.NoError(t, os.WriteFile(file, []byte(`[{"id":"m1","message":"Welcome back!"}]`), 0o644))
	_, err := execute(t, "import", file, "--db-url", url, "--table", "return_messages")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(file, []byte(`[
  {"id":"m1","message":"Hello again!"},
  {"id":"m2","message":"Ready for more?"}
]`), 0o644))

	out, err := execute(t, "import", file, "--db-url", url, "--table", "return_messages")
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 0 of 2 items")

	out, err = execute(t, "import", file, "--db-url", url, "--table", "return_messages",
		"--on-conflict", "id", "--ignore-duplicates")
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 1 of 2 items")
	assert.Contains(t, out, "Skipped 1 items already present")
	_, err = os.Stat(filepath.Join(filepath.Dir(file), "messages.failed.json"))
	assert.True(t, os.IsNotExist(err), "a clean re-run removes the sidecar")

	assert.EqualValues(t, 1, countRows(t, url, "return_messages", db.Predicate{Column: "message", Value: "Welcome back!"}))

	out, err = execute(t, "import", file, "--db-url", url, "--table", "return_messages", "--on-conflict", "id")
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 2 of 2 items")

	assert.EqualValues(t, 1, countRows(t, url, "return_messages", db.Predicate{Column: "message", Value: "Hello again!"}))
	assert.EqualValues(t, 2, countRows(t, url, "return_messages"))
}

func TestSchemaAndMigrateCommands(t *testing.T) {
	clearEnv(t)
	url := newSQLiteDB(t, stuckSchema)

	out, err := execute(t, "schema", "exists", "kid_stuck_responses", "return_messages", "--db-url", url)
	assert.ErrorContains(t, err, "missing tables: return_messages")
	assert.Contains(t, out, "exists")

	sqlFile := filepath.Join(t.TempDir(), "001_return_messages.sql")
	require.NoError(t, os.WriteFile(sqlFile, []byte("CREATE TABLE return_messages (id INTEGER PRIMARY KEY, message TEXT);"), 0o644))
	out, err = execute(t, "migrate", sqlFile, "--db-url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "applied "+sqlFile)

	_, err = execute(t, "schema", "exists", "kid_stuck_responses", "return_messages", "--db-url", url)
	require.NoError(t, err)

	out, err = execute(t, "schema", "columns", "kid_stuck_responses", "--db-url", url, "--require", "response,theme")
	assert.ErrorContains(t, err, "missing columns: theme")
	assert.Contains(t, out, "response_tone")

	_, err = execute(t, "migrate", "--db-url", url)
	assert.Error(t, err)
}

func chatCompletion(content string) string {
	body, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "grok-3",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	})
	return string(body)
}

func TestGenerateCommand(t *testing.T) {
	clearEnv(t)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		items, _ := json.Marshal([]map[string]any{stuckItem(int(n)), stuckItem(int(n) + 100)})
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, chatCompletion("Here you go:\n```json\n"+string(items)+"\n```"))
	}))
	defer srv.Close()

	t.Setenv("GENERATION_API_KEY", "test-key")
	t.Setenv("SEEDKIT_GENERATION_BASE_URL", srv.URL)
	t.Setenv("SEEDKIT_GENERATION_REQUESTS_PER_MINUTE", "0")

	dir := t.TempDir()
	plan := filepath.Join(dir, "stuck.yaml")
	require.NoError(t, os.WriteFile(plan, []byte(`
kind: stuck_response
template: "Write two replies for {{.subject}}."
matrix:
  - name: subject
    values: [math, reading, coding]
`), 0o644))
	metricsFile := filepath.Join(dir, "seedkit.prom")

	out, err := execute(t, "generate", plan, "--output-dir", dir, "--limit", "2", "--metrics-file", metricsFile)
	require.NoError(t, err)
	assert.Contains(t, out, "Generation: stuck")
	assert.Contains(t, out, "Items:     4")
	assert.EqualValues(t, 2, calls.Load())

	out, err = execute(t, "generate", plan, "--output-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "(started at 2)")
	assert.EqualValues(t, 3, calls.Load())

	data, err := os.ReadFile(filepath.Join(dir, "stuck-response.json"))
	require.NoError(t, err)
	var items []map[string]any
	require.NoError(t, json.Unmarshal(data, &items))
	assert.Len(t, items, 6)

	prom, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `seedkit_generation_items_total 4`)

	_, err = execute(t, "generate", plan, "--checkpoint", "etcd")
	assert.ErrorContains(t, err, "invalid --checkpoint")
}

func TestGenerateCommand_ImportsEachCheckpoint(t *testing.T) {
	clearEnv(t)
	url := newSQLiteDB(t, stuckSchema)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		items, _ := json.Marshal([]map[string]any{stuckItem(int(n)), stuckItem(int(n) + 100)})
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, chatCompletion("```json\n"+string(items)+"\n```"))
	}))
	defer srv.Close()

	t.Setenv("GENERATION_API_KEY", "test-key")
	t.Setenv("SEEDKIT_GENERATION_BASE_URL", srv.URL)
	t.Setenv("SEEDKIT_GENERATION_REQUESTS_PER_MINUTE", "0")
	t.Setenv("SEEDKIT_GENERATION_CHECKPOINT_EVERY", "2")

	dir := t.TempDir()
	plan := filepath.Join(dir, "stuck.yaml")
	require.NoError(t, os.WriteFile(plan, []byte(`
kind: stuck_response
template: "Write two replies for {{.subject}}."
matrix:
  - name: subject
    values: [math, reading, coding]
`), 0o644))

	out, err := execute(t, "generate", plan, "--output-dir", dir, "--db-url", url, "--import", "--limit", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "stuck[0:2]")
	assert.Contains(t, out, "stuck[2:4]")
	assert.Contains(t, out, "Imported 4 of 4 items")
	assert.EqualValues(t, 4, countRows(t, url, "kid_stuck_responses"))

	// the resumed run imports only its own job
	out, err = execute(t, "generate", plan, "--output-dir", dir, "--db-url", url, "--import")
	require.NoError(t, err)
	assert.Contains(t, out, "stuck[4:6]")
	assert.Contains(t, out, "Imported 2 of 2 items")
	assert.EqualValues(t, 6, countRows(t, url, "kid_stuck_responses"))

	_, err = execute(t, "generate", plan, "--output-dir", t.TempDir(), "--import")
	var missing *config.MissingError
	require.True(t, errors.As(err, &missing))
	assert.Contains(t, missing.Vars, "DATABASE_URL")
}

func TestGenerateCommand_RequiresKey(t *testing.T) {
	clearEnv(t)
	plan := filepath.Join(t.TempDir(), "p.yaml")
	require.NoError(t, os.WriteFile(plan, []byte("kind: analogy\ntemplate: x\n"), 0o644))

	_, err := execute(t, "generate", plan)
	var missing *config.MissingError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"GENERATION_API_KEY"}, missing.Vars)
}

func TestRESTCommands(t *testing.T) {
	clearEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodHead && r.URL.Path == "/rest/v1/practice_problems":
			w.Header().Set("Content-Range", "*/3573")
		case r.URL.Path == "/functions/v1/generate-lesson-v2":
			_, _ = io.WriteString(w, `{"lesson":"ok"}`)
		case r.URL.Path == "/functions/v1/broken":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, `{"error":"boom"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/storage/v1/bucket":
			_, _ = io.WriteString(w, `[{"id":"audio","name":"audio","public":true}]`)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusTeapot)
		}
	}))
	defer srv.Close()

	t.Setenv("SUPABASE_URL", srv.URL)
	t.Setenv("SUPABASE_ANON_KEY", "anon")
	t.Setenv("SUPABASE_SERVICE_ROLE_KEY", "service")

	out, err := execute(t, "count", "--rest", "--tier", "anon", "practice_problems")
	require.NoError(t, err)
	assert.Contains(t, out, "3,573")
	assert.Contains(t, out, "anon key")

	out, err = execute(t, "smoke", "generate-lesson-v2", "--body", `{"skill_id":"x"}`)
	require.NoError(t, err)
	assert.Contains(t, out, `{"lesson":"ok"}`)

	_, err = execute(t, "smoke", "broken")
	assert.ErrorContains(t, err, "answered 500")

	_, err = execute(t, "smoke", "broken", "--body", "{nope")
	assert.ErrorContains(t, err, "not valid JSON")

	out, err = execute(t, "bucket", "ensure", "audio", "--max-size", "10MB")
	require.NoError(t, err)
	assert.Contains(t, out, "bucket audio already exists")

	_, err = execute(t, "bucket", "ensure", "audio", "--max-size", "lots")
	assert.ErrorContains(t, err, "invalid --max-size")
}

func TestTTSSay(t *testing.T) {
	clearEnv(t)
	var uploaded atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/v1/text-to-speech/"):
			_, _ = io.WriteString(w, "ID3-audio")
		case strings.HasPrefix(r.URL.Path, "/storage/v1/object/sign/audio/tts/"):
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"statusCode":"404","error":"not_found","message":"Object not found"}`)
		case strings.HasPrefix(r.URL.Path, "/storage/v1/object/audio/tts/"):
			assert.Equal(t, "true", r.Header.Get("x-upsert"))
			uploaded.Store(true)
			_, _ = io.WriteString(w, `{"Key":"ok"}`)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	t.Setenv("ELEVENLABS_API_KEY", "xi")
	t.Setenv("SEEDKIT_TTS_BASE_URL", srv.URL)
	t.Setenv("SUPABASE_URL", srv.URL)
	t.Setenv("SUPABASE_SERVICE_ROLE_KEY", "service")

	_, err := execute(t, "tts", "say", "hello", "--out", "x.mp3")
	assert.ErrorContains(t, err, "no voice")

	file := filepath.Join(t.TempDir(), "hello.mp3")
	out, err := execute(t, "tts", "say", "Hi! I'm your learning helper!", "--voice", "v1", "--out", file, "--upload")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 9 bytes")
	assert.Contains(t, out, "/storage/v1/object/public/audio/tts/")
	assert.True(t, uploaded.Load())

	audio, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "ID3-audio", string(audio))
}

func TestTTSSay_CachedPhraseIsNotSynthesized(t *testing.T) {
	clearEnv(t)
	var synthesized, uploaded atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/v1/text-to-speech/"):
			synthesized.Store(true)
			_, _ = io.WriteString(w, "fresh-audio")
		case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/storage/v1/object/sign/audio/tts/"):
			_, _ = io.WriteString(w, `{"signedURL":"/object/sign/audio/tts/x.mp3?token=t"}`)
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/storage/v1/object/audio/tts/"):
			_, _ = io.WriteString(w, "cached-audio")
		case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/storage/v1/object/audio/tts/"):
			uploaded.Store(true)
			_, _ = io.WriteString(w, `{"Key":"ok"}`)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	t.Setenv("ELEVENLABS_API_KEY", "xi")
	t.Setenv("SEEDKIT_TTS_BASE_URL", srv.URL)
	t.Setenv("SUPABASE_URL", srv.URL)
	t.Setenv("SUPABASE_SERVICE_ROLE_KEY", "service")

	out, err := execute(t, "tts", "say", "Great job!", "--voice", "v1", "--upload")
	require.NoError(t, err)
	assert.Contains(t, out, "already cached at")

	file := filepath.Join(t.TempDir(), "great.mp3")
	_, err = execute(t, "tts", "say", "Great job!", "--voice", "v1", "--upload", "--out", file)
	require.NoError(t, err)
	audio, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "cached-audio", string(audio))

	assert.False(t, synthesized.Load())
	assert.False(t, uploaded.Load())
}

func TestParseFilters(t *testing.T) {
	fs, err := parseFilters([]string{"subject=math", "note=a=b", "empty="})
	require.NoError(t, err)
	assert.Equal(t, "subject=math,note=a=b,empty=", describeFilters(fs))

	_, err = parseFilters([]string{"nofilter"})
	assert.Error(t, err)
	_, err = parseFilters([]string{"=x"})
	assert.Error(t, err)
}
