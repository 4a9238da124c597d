package export

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bl4ck0w1/tesuite/internal/tenable"
	"github.com/bl4ck0w1/tesuite/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

// fakeExport scripts one domain of the vendor export API.
type fakeExport struct {
	spec        DomainSpec
	id          string
	startStatus int
	startBody   string
	// statuses are served in order; the last one repeats.
	statuses []string
	chunks   map[int]string
}

// fakeAPI is an httptest server that serves the start, status and chunk
// endpoints of every registered fakeExport.
type fakeAPI struct {
	t       *testing.T
	server  *httptest.Server
	mu      sync.Mutex
	exports []*fakeExport
	calls   map[string]int
	bodies  map[models.Domain]string
}

func newFakeAPI(t *testing.T, exports ...*fakeExport) *fakeAPI {
	t.Helper()
	api := &fakeAPI{
		t:       t,
		exports: exports,
		calls:   make(map[string]int),
		bodies:  make(map[models.Domain]string),
	}
	api.server = httptest.NewServer(http.HandlerFunc(api.handle))
	t.Cleanup(api.server.Close)
	return api
}

func (a *fakeAPI) handle(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls[r.Method+" "+r.URL.Path]++

	for _, e := range a.exports {
		if r.Method == http.MethodPost && r.URL.Path == e.spec.StartPath {
			body, _ := io.ReadAll(r.Body)
			a.bodies[e.spec.Domain] = string(body)
			if e.startStatus != 0 {
				w.WriteHeader(e.startStatus)
				_, _ = io.WriteString(w, `{"error": "denied"}`)
				return
			}
			if e.startBody != "" {
				_, _ = io.WriteString(w, e.startBody)
				return
			}
			_, _ = fmt.Fprintf(w, `{"export_uuid": %q}`, e.id)
			return
		}

		prefix := e.spec.BasePath + "/" + e.id + "/"
		if r.Method != http.MethodGet || !strings.HasPrefix(r.URL.Path, prefix) {
			continue
		}
		rest := strings.TrimPrefix(r.URL.Path, prefix)
		switch {
		case rest == "status":
			n := a.calls[r.Method+" "+r.URL.Path] - 1
			if n >= len(e.statuses) {
				n = len(e.statuses) - 1
			}
			_, _ = io.WriteString(w, e.statuses[n])
			return
		case strings.HasPrefix(rest, "chunks/"):
			cid, err := strconv.Atoi(strings.TrimPrefix(rest, "chunks/"))
			body, ok := e.chunks[cid]
			if err != nil || !ok {
				http.NotFound(w, r)
				return
			}
			_, _ = io.WriteString(w, body)
			return
		}
	}
	http.NotFound(w, r)
}

func (a *fakeAPI) count(method, path string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[method+" "+path]
}

func (a *fakeAPI) body(d models.Domain) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bodies[d]
}

func (a *fakeAPI) session(t *testing.T, logger *logrus.Logger) *tenable.Session {
	t.Helper()
	s, err := tenable.NewSession(tenable.SessionConfig{
		BaseURL:      a.server.URL,
		AccessKey:    "ak",
		SecretKey:    "sk",
		VerifySSL:    true,
		RetryBackoff: time.Millisecond,
	}, logger, nil)
	require.NoError(t, err)
	return s
}

func finished(chunks string, extra string) string {
	if extra != "" {
		extra = ", " + extra
	}
	return fmt.Sprintf(`{"status": "FINISHED", "chunks_available": %s%s}`, chunks, extra)
}

// ndjson renders n small records, one per line.
func ndjson(prefix string, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, `{"id": "%s-%d", "asset": {"uuid": "a-%d", "ipv4": ["10.0.0.%d"]}, "plugin": {"cve": [{"id": "CVE-1"}]}}`+"\n", prefix, i, i, i)
	}
	return b.String()
}

func quietLogger() (*logrus.Logger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logger, hook
}

func countLevel(hook *test.Hook, level logrus.Level) int {
	n := 0
	for _, e := range hook.AllEntries() {
		if e.Level == level {
			n++
		}
	}
	return n
}

func fastOptions(attempts int) Options {
	return Options{PollInterval: 0, PollMaxAttempts: attempts}
}
