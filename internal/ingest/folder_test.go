package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Ashfaaq98/osint-console/internal/dispatch"
	"github.com/Ashfaaq98/osint-console/internal/osint"
	"github.com/Ashfaaq98/osint-console/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	mu     sync.Mutex
	values []string
	err    error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, target osint.Target) (dispatch.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values = append(f.values, target.Value)
	if f.err != nil {
		target.Status = osint.StatusError
		return dispatch.Outcome{Target: target}, f.err
	}
	target.Status = osint.StatusAnalyzed
	return dispatch.Outcome{Target: target}, nil
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.values)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadCSV(t *testing.T) {
	in := "Type,Value,Description,Tools\n" +
		"ip,1.2.3.4,scanner,virustotal;abuseipdb\n" +
		"# comment\n" +
		"asn,AS1,,\n" +
		"domain, example.com ,,\n"

	var recs []Record
	var errs []int
	require.NoError(t, ReadCSV(strings.NewReader(in), func(line int, rec Record, err error) {
		if err != nil {
			errs = append(errs, line)
			return
		}
		recs = append(recs, rec)
	}))

	require.Len(t, recs, 2)
	assert.Equal(t, []string{"virustotal", "abuseipdb"}, recs[0].Tools)
	assert.Equal(t, "example.com", recs[1].Value)
	assert.Len(t, errs, 1)

	err := ReadCSV(strings.NewReader("value\n1.1.1.1\n"), func(int, Record, error) {})
	assert.Error(t, err)
}

func TestReadJSONAndJSONL(t *testing.T) {
	var got []Record
	collect := func(_ int, rec Record, err error) {
		if err == nil {
			got = append(got, rec)
		}
	}

	require.NoError(t, ReadJSON([]byte(`[{"type":"IP","value":"9.9.9.9"},{"type":"hash"}]`), collect))
	require.NoError(t, ReadJSON([]byte(`{"type":"email","value":"a@b.example"}`), collect))
	assert.Error(t, ReadJSON([]byte(`[{"type":`), collect))

	n, err := ReadJSONL(strings.NewReader("{\"type\":\"url\",\"value\":\"http://x.example/a\"}\n\nnot json\n"), collect)
	require.NoError(t, err)
	assert.Equal(t, int64(len("{\"type\":\"url\",\"value\":\"http://x.example/a\"}\n\nnot json\n")), n)

	require.Len(t, got, 3)
	assert.Equal(t, "ip", got[0].Type)
	assert.Equal(t, "email", got[1].Type)
	assert.Equal(t, "url", got[2].Type)
}

func TestReadJSONLOffsets(t *testing.T) {
	var got []string
	collect := func(_ int, rec Record, err error) {
		if err == nil {
			got = append(got, rec.Value)
		}
	}

	crlf := "{\"type\":\"ip\",\"value\":\"1.1.1.1\"}\r\n{\"type\":\"ip\",\"value\":\"2.2.2.2\"}\r\n"
	n, err := ReadJSONL(strings.NewReader(crlf), collect)
	require.NoError(t, err)
	assert.Equal(t, int64(len(crlf)), n)

	// A half-written last line is left for the next read.
	complete := "{\"type\":\"ip\",\"value\":\"3.3.3.3\"}\n"
	n, err = ReadJSONL(strings.NewReader(complete+`{"type":"ip","val`), collect)
	require.NoError(t, err)
	assert.Equal(t, int64(len(complete)), n)

	// An unterminated but complete record is consumed exactly.
	last := `{"type":"ip","value":"4.4.4.4"}`
	n, err = ReadJSONL(strings.NewReader(last), collect)
	require.NoError(t, err)
	assert.Equal(t, int64(len(last)), n)

	assert.Equal(t, []string{"1.1.1.1", "2.2.2.2", "3.3.3.3", "4.4.4.4"}, got)
}

func TestOneShotImport(t *testing.T) {
	st := newTestStore(t)
	dir := t.TempDir()
	writeFile(t, dir, "a.jsonl", `{"type":"ip","value":"8.8.8.8"}
{"type":"ip","value":"8.8.8.8"}
{"type":"domain","value":"evil.example","investigation":"Phishing"}
{"type":"nope","value":"x"}
`)
	writeFile(t, dir, "b.csv", "type,value\nhash,44d88612fea8a8f36de82e1278abb02f\n")
	writeFile(t, dir, "ignored.txt", "ip,1.1.1.1\n")

	d := &fakeDispatcher{}
	imp := NewFolderImporter(st, d, FolderOptions{Dir: dir, Analyze: true})
	require.NoError(t, imp.Run(context.Background()))

	s := imp.Stats()
	assert.Equal(t, 3, s.Imported)
	assert.Equal(t, 1, s.Duplicates)
	assert.Equal(t, 1, s.Invalid)
	assert.Equal(t, 3, s.Dispatched)
	assert.Equal(t, 3, d.count())

	invs, err := st.ListInvestigations(context.Background())
	require.NoError(t, err)
	names := []string{}
	for _, inv := range invs {
		names = append(names, inv.Name)
	}
	assert.ElementsMatch(t, []string{DefaultInvestigation, "Phishing"}, names)

	targets, err := st.ListTargets(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, targets, 3)

	// A second pass only finds duplicates.
	again := NewFolderImporter(st, nil, FolderOptions{Dir: dir})
	require.NoError(t, again.Run(context.Background()))
	assert.Equal(t, 0, again.Stats().Imported)
	assert.Equal(t, 4, again.Stats().Duplicates)
}

func TestImportRecordDispatchError(t *testing.T) {
	st := newTestStore(t)
	d := &fakeDispatcher{err: errors.New("database is locked")}
	imp := NewFolderImporter(st, d, FolderOptions{Dir: t.TempDir(), Analyze: true})

	target, created, err := imp.ImportRecord(context.Background(), Record{Type: "ip", Value: "10.0.0.1"})
	require.Error(t, err)
	assert.True(t, created)
	assert.Equal(t, osint.StatusError, target.Status)
	assert.Equal(t, 1, imp.Stats().Errors)

	_, _, err = imp.ImportRecord(context.Background(), Record{Type: "ip"})
	assert.Error(t, err)
	assert.Equal(t, 1, imp.Stats().Invalid)
}

func TestRunMissingDir(t *testing.T) {
	imp := NewFolderImporter(newTestStore(t), nil, FolderOptions{Dir: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, imp.Run(context.Background()))
}

func TestWatchTailsJSONL(t *testing.T) {
	st := newTestStore(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "feed.jsonl", `{"type":"ip","value":"1.1.1.1"}`+"\n")

	imp := NewFolderImporter(st, nil, FolderOptions{Dir: dir, Watch: true, TailFromEnd: true})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- imp.Run(ctx) }()

	// Give the watcher a moment to register before appending.
	time.Sleep(200 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"type":"ip","value":"2.2.2.2"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool { return imp.Stats().Imported == 1 }, 5*time.Second, 20*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	targets, err := st.ListTargets(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "2.2.2.2", targets[0].Value)
}
