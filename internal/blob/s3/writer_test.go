package s3blob

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	t.Setenv("AWS_CONFIG_FILE", "/dev/null")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", "/dev/null")
	c, err := New(context.Background(), ClientConfig{
		Endpoint:       srv.URL,
		Region:         "us-east-1",
		Bucket:         "reports",
		AccessKey:      "ak",
		SecretKey:      "sk",
		ForcePathStyle: true,
		Prefix:         "status",
	})
	require.NoError(t, err)
	return c
}

type putObject struct {
	Path        string
	ContentType string
	Body        string
}

func TestWriter_Put(t *testing.T) {
	var (
		mu   sync.Mutex
		puts []putObject
	)
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		puts = append(puts, putObject{Path: r.URL.Path, ContentType: r.Header.Get("Content-Type"), Body: string(body)})
		mu.Unlock()
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	}))

	err := NewWriter(c).Put(context.Background(), "1/100-101.csv", strings.NewReader("100,0,0,0\n"), "text/csv")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, puts, 1)
	assert.Equal(t, "/reports/status/1/100-101.csv", puts[0].Path)
	assert.Equal(t, "text/csv", puts[0].ContentType)
	assert.Contains(t, puts[0].Body, "100,0,0,0")
}

func TestWriter_PutLargeBodyUsesMultipart(t *testing.T) {
	var (
		mu  sync.Mutex
		ops []string
	)
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		q := r.URL.Query()
		var op string
		switch {
		case r.Method == http.MethodPost && q.Has("uploads"):
			op = "create"
			w.Header().Set("Content-Type", "application/xml")
			_, _ = io.WriteString(w, `<InitiateMultipartUploadResult><Bucket>reports</Bucket>`+
				`<Key>status/big.csv</Key><UploadId>up-1</UploadId></InitiateMultipartUploadResult>`)
		case r.Method == http.MethodPut && q.Has("partNumber"):
			op = "part"
			w.Header().Set("ETag", `"part-`+q.Get("partNumber")+`"`)
		case r.Method == http.MethodPost && q.Get("uploadId") == "up-1":
			op = "complete"
			w.Header().Set("Content-Type", "application/xml")
			_, _ = io.WriteString(w, `<CompleteMultipartUploadResult><Bucket>reports</Bucket>`+
				`<Key>status/big.csv</Key><ETag>"done"</ETag></CompleteMultipartUploadResult>`)
		default:
			op = r.Method + " " + r.URL.RawQuery
		}
		mu.Lock()
		ops = append(ops, op)
		mu.Unlock()
	}))

	body := strings.Repeat("x", int(minPartSize)+1)
	err := NewWriter(c).Put(context.Background(), "big.csv", strings.NewReader(body), "text/csv")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, ops, 4)
	assert.Equal(t, "create", ops[0])
	assert.ElementsMatch(t, []string{"part", "part"}, ops[1:3])
	assert.Equal(t, "complete", ops[3])
}

func TestNew_Validates(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), ClientConfig{Region: "us-east-1"})
	require.Error(t, err)
	_, err = New(context.Background(), ClientConfig{Bucket: "b"})
	require.Error(t, err)
}

func TestNormaliseEndpoint(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "http://x", normaliseEndpoint("http://x", true))
}

func TestKeyPrefix(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a/b.csv", (&Client{}).key("a/b.csv"))
	assert.Equal(t, "p/a/b.csv", (&Client{prefix: "p/"}).key("a/b.csv"))
}
