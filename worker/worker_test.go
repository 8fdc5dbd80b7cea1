package worker_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/docworker/annotation"
	"github.com/tsawler/docworker/client"
	"github.com/tsawler/docworker/contentstream"
	"github.com/tsawler/docworker/internal/pdftest"
	"github.com/tsawler/docworker/rpc"
	"github.com/tsawler/docworker/store"
	"github.com/tsawler/docworker/telemetry"
	"github.com/tsawler/docworker/text"
	"github.com/tsawler/docworker/worker"
)

func start(t *testing.T, opts worker.Options) (*client.Client, *worker.Server) {
	t.Helper()
	a, b := rpc.Pipe()
	srv := worker.NewServer(b, opts)
	c := client.New(a, nil)
	ctx := testContext(t)
	require.NoError(t, srv.Start(ctx))
	require.NoError(t, c.WaitReady(ctx))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Close(ctx)
		c.Close()
	})
	return c, srv
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func wireError(t *testing.T, err error) *rpc.WireError {
	t.Helper()
	var we *rpc.WireError
	require.ErrorAs(t, err, &we)
	return we
}

func TestTestMessage(t *testing.T) {
	c, _ := start(t, worker.Options{})
	ok, err := c.Test(testContext(t))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpenData(t *testing.T) {
	c, srv := start(t, worker.Options{})
	ctx := testContext(t)
	data := pdftest.Build(pdftest.Options{Pages: 10})

	d, err := c.Open(ctx, client.OpenOptions{Data: data})
	require.NoError(t, err)
	assert.Equal(t, 10, d.NumPages())
	assert.NotEmpty(t, d.Fingerprints()[0])
	assert.Equal(t, int64(len(data)), d.Length())
	assert.Equal(t, 1, srv.Sessions())

	page, err := d.Page(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, page.Ref)
	require.NotNil(t, page.RefStr)
	assert.Equal(t, []float64{0, 0, 612, 792}, page.View)

	idx, err := d.PageIndex(ctx, *page.Ref)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	_, err = d.Page(ctx, 10)
	assert.Error(t, err)

	got, err := d.Data(ctx)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	pos, err := d.StartXRefPos(ctx)
	require.NoError(t, err)
	assert.Positive(t, pos)

	prev, err := d.XRefPrevValue(ctx)
	require.NoError(t, err)
	assert.Nil(t, prev)
}

func TestOpenRecovers(t *testing.T) {
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	c, _ := start(t, worker.Options{Metrics: metrics})
	ctx := testContext(t)

	_, err := c.Open(ctx, client.OpenOptions{Data: pdftest.Build(pdftest.Options{Pages: 2})})
	require.NoError(t, err)
	assert.Zero(t, testutil.ToFloat64(metrics.LoadRecoveries), "a clean file loads without recovery")

	d, err := c.Open(ctx, client.OpenOptions{
		Data: pdftest.Build(pdftest.Options{Pages: 3, BrokenXRef: true}),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, d.NumPages())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.LoadRecoveries))
}

func TestOpenInvalid(t *testing.T) {
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	c, srv := start(t, worker.Options{Metrics: metrics})
	_, err := c.Open(testContext(t), client.OpenOptions{Data: []byte("this is not a pdf file at all")})
	assert.Equal(t, rpc.InvalidPDFException, wireError(t, err).Name)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.LoadRecoveries), "exactly one recovery pass before failing")
	assert.Eventually(t, func() bool { return srv.Sessions() == 0 }, time.Second, 10*time.Millisecond)
}

func TestDuplicateDocID(t *testing.T) {
	c, _ := start(t, worker.Options{})
	ctx := testContext(t)
	data := pdftest.Build(pdftest.Options{})
	_, err := c.Open(ctx, client.OpenOptions{DocID: "same", Data: data})
	require.NoError(t, err)
	_, err = c.Open(ctx, client.OpenOptions{DocID: "same", Data: data})
	assert.ErrorContains(t, err, "already in use")
}

func TestPassword(t *testing.T) {
	c, _ := start(t, worker.Options{})
	ctx := testContext(t)
	data := pdftest.Build(pdftest.Options{Pages: 2, Encrypt: true, UserPassword: "secret"})

	var codes []int
	answers := []string{"wrong", "secret"}
	d, err := c.Open(ctx, client.OpenOptions{
		Data: data,
		OnPassword: func(_ context.Context, code int) (string, error) {
			codes = append(codes, code)
			pw := answers[0]
			answers = answers[1:]
			return pw, nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, d.NumPages())
	assert.Equal(t, []int{1, 2}, codes)

	d, err = c.Open(ctx, client.OpenOptions{Data: data, Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, 2, d.NumPages())

	_, err = c.Open(ctx, client.OpenOptions{Data: data})
	we := wireError(t, err)
	assert.Equal(t, rpc.PasswordException, we.Name)
	assert.Equal(t, 1, we.Code)
}

func TestMetadataAndNavigation(t *testing.T) {
	c, _ := start(t, worker.Options{})
	ctx := testContext(t)
	d, err := c.Open(ctx, client.OpenOptions{
		Data: pdftest.Build(pdftest.Options{
			Pages:      3,
			Info:       map[string]string{"Title": "Quarterly report"},
			Metadata:   "<x:xmpmeta/>",
			Navigation: true,
		}),
		Filename: "report.pdf",
	})
	require.NoError(t, err)

	info, xmp, err := d.Metadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Quarterly report", info["Title"])
	assert.Contains(t, xmp, "xmpmeta")

	outline, err := d.Outline(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, outline)

	labels, err := d.PageLabels(ctx)
	require.NoError(t, err)
	assert.Len(t, labels, 3)

	dests, err := d.Destinations(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, dests)
}

func TestTextContent(t *testing.T) {
	c, _ := start(t, worker.Options{})
	ctx := testContext(t)
	d, err := c.Open(ctx, client.OpenOptions{Data: pdftest.Build(pdftest.Options{Pages: 2})})
	require.NoError(t, err)

	var sb strings.Builder
	err = d.TextContent(ctx, 1, client.TextContentOptions{}, func(c text.Chunk) error {
		for _, item := range c.Items {
			sb.WriteString(item.Str)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Contains(t, sb.String(), "Page 2")
}

func TestOperatorList(t *testing.T) {
	c, _ := start(t, worker.Options{})
	ctx := testContext(t)
	d, err := c.Open(ctx, client.OpenOptions{Data: pdftest.Build(pdftest.Options{})})
	require.NoError(t, err)

	var chunks []contentstream.Chunk
	err = d.OperatorList(ctx, 0, client.OperatorListOptions{Intent: "display", ChunkSize: 1}, func(c contentstream.Chunk) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	last := chunks[len(chunks)-1]
	assert.True(t, last.LastChunk)

	var ops []contentstream.OpCode
	for _, c := range chunks {
		ops = append(ops, c.FnArray...)
	}
	assert.Contains(t, ops, contentstream.OpShowText)
	assert.Equal(t, len(ops), last.Length)
}

func TestSaveWithoutChanges(t *testing.T) {
	c, _ := start(t, worker.Options{})
	ctx := testContext(t)
	data := pdftest.Build(pdftest.Options{Pages: 2, AcroForm: true})
	d, err := c.Open(ctx, client.OpenOptions{Data: data})
	require.NoError(t, err)

	out, err := d.Save(ctx, client.SaveRequest{NumPages: 2})
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestSaveField(t *testing.T) {
	revisions, err := store.Open(filepath.Join(t.TempDir(), "revisions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { revisions.Close() })

	c, _ := start(t, worker.Options{Revisions: revisions})
	ctx := testContext(t)
	data := pdftest.Build(pdftest.Options{Pages: 2, AcroForm: true})
	d, err := c.Open(ctx, client.OpenOptions{DocID: "form", Data: data})
	require.NoError(t, err)

	fields, err := d.FieldObjects(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, fields["name"])
	id := fields["name"][0].ID

	req := client.SaveRequest{
		NumPages:          2,
		AnnotationStorage: map[string]json.RawMessage{id: json.RawMessage(`{"value":"Grace"}`)},
	}
	out, err := d.Save(ctx, req)
	require.NoError(t, err)
	require.Greater(t, len(out), len(data))
	assert.True(t, bytes.HasPrefix(out, data), "update must append to the original")
	assert.Contains(t, string(out[len(data):]), "/V (Grace)")

	reopened, err := c.Open(ctx, client.OpenOptions{Data: out})
	require.NoError(t, err)
	fields, err = reopened.FieldObjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Grace", fields["name"][0].Value)

	revs, err := revisions.List(ctx, "form")
	require.NoError(t, err)
	require.Len(t, revs, 1)
	assert.Equal(t, int64(len(out)), revs[0].Size)
	assert.Equal(t, d.Fingerprints()[0], revs[0].Fingerprint)

	again, err := d.Save(ctx, req)
	require.NoError(t, err)
	assert.Len(t, again, len(out), "saving the same edits twice allocates the same objects")

	results := make([][]byte, 4)
	var wg sync.WaitGroup
	for i := range results {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := d.Save(ctx, req)
			assert.NoError(t, err)
			results[i] = r
		}()
	}
	wg.Wait()
	for i, r := range results {
		require.Len(t, r, len(out), "concurrent save %d", i)
		doc, err := c.Open(ctx, client.OpenOptions{Data: r})
		require.NoError(t, err)
		fields, err := doc.FieldObjects(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Grace", fields["name"][0].Value, "concurrent save %d", i)
	}
}

// altNode finds the structure element whose alt text is alt.
func altNode(children []any, alt string) map[string]any {
	for _, c := range children {
		n, ok := c.(map[string]any)
		if !ok {
			continue
		}
		if n["alt"] == alt {
			return n
		}
		if kids, ok := n["children"].([]any); ok {
			if found := altNode(kids, alt); found != nil {
				return found
			}
		}
	}
	return nil
}

func TestSaveEditorStructTree(t *testing.T) {
	tests := []struct {
		name   string
		tagged bool
	}{
		{name: "untagged document gets a new tree", tagged: false},
		{name: "tagged document tree is extended", tagged: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := start(t, worker.Options{})
			ctx := testContext(t)
			data := pdftest.Build(pdftest.Options{Pages: 2, StructTree: tt.tagged})
			d, err := c.Open(ctx, client.OpenOptions{Data: data})
			require.NoError(t, err)

			editor, err := json.Marshal(&annotation.Editor{
				AnnotationType:    annotation.TypeFreeText,
				PageIndex:         0,
				Rect:              []float64{72, 700, 272, 730},
				Color:             []int{0, 0, 0},
				FontSize:          12,
				Value:             "Remember",
				AccessibilityData: &annotation.AccessibilityData{Type: "Figure", Alt: "A note"},
			})
			require.NoError(t, err)
			out, err := d.Save(ctx, client.SaveRequest{
				NumPages:          2,
				AnnotationStorage: map[string]json.RawMessage{annotation.EditorPrefix + "0": editor},
			})
			require.NoError(t, err)
			require.True(t, bytes.HasPrefix(out, data), "update must append to the original")
			assert.Contains(t, string(out[len(data):]), "/StructTreeRoot")

			reopened, err := c.Open(ctx, client.OpenOptions{Data: out})
			require.NoError(t, err)
			annots, err := reopened.Annotations(ctx, 0, "display")
			require.NoError(t, err)
			require.Len(t, annots, 1)
			assert.Equal(t, "FreeText", annots[0].Subtype)
			require.NotNil(t, annots[0].StructParent)

			tree, err := reopened.StructTree(ctx, 0)
			require.NoError(t, err)
			require.NotNil(t, tree)
			node := altNode(tree.Children, "A note")
			require.NotNil(t, node, "new element missing from %+v", tree)
			assert.Equal(t, "Figure", node["role"])
			if tt.tagged {
				assert.Len(t, tree.Children, 2, "existing elements are kept")
			}
		})
	}
}

func TestSaveXFA(t *testing.T) {
	c, _ := start(t, worker.Options{EnableXFA: true})
	ctx := testContext(t)
	data := pdftest.Build(pdftest.Options{XFA: true})
	d, err := c.Open(ctx, client.OpenOptions{Data: data, EnableXFA: true})
	require.NoError(t, err)

	save := func(storage map[string]json.RawMessage) []byte {
		t.Helper()
		out, err := d.Save(ctx, client.SaveRequest{IsPureXFA: true, NumPages: 1, AnnotationStorage: storage})
		require.NoError(t, err)
		return out
	}
	assert.Equal(t, data, save(nil), "empty storage")
	assert.Equal(t, data, save(map[string]json.RawMessage{"form1.name": json.RawMessage(`{"value":"Ada"}`)}), "unchanged value")

	out := save(map[string]json.RawMessage{"form1.name": json.RawMessage(`{"value":"Grace"}`)})
	require.Greater(t, len(out), len(data))
	require.True(t, bytes.HasPrefix(out, data))

	reopened, err := c.Open(ctx, client.OpenOptions{Data: out, EnableXFA: true})
	require.NoError(t, err)
	datasets, err := reopened.XFADatasets(ctx)
	require.NoError(t, err)
	require.NotNil(t, datasets)
	assert.Contains(t, *datasets, "<name>Grace</name>")
	assert.Contains(t, *datasets, "<city>Paris</city>")
}

func TestHostReader(t *testing.T) {
	data := pdftest.Build(pdftest.Options{Pages: 4})
	tests := []struct {
		name string
		opts client.OpenOptions
	}{
		{
			name: "sequential",
			opts: client.OpenOptions{ReadChunkSize: 512},
		},
		{
			name: "ranges",
			opts: client.OpenOptions{RangeSupported: true, RangeChunkSize: 1024},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := start(t, worker.Options{})
			ctx := testContext(t)
			var progress atomic.Int64
			opts := tt.opts
			opts.Reader = bytes.NewReader(data)
			opts.Size = int64(len(data))
			opts.OnProgress = func(loaded, _ int64) { progress.Store(loaded) }

			d, err := c.Open(ctx, opts)
			require.NoError(t, err)
			assert.Equal(t, 4, d.NumPages())
			assert.Equal(t, int64(len(data)), d.Length())

			got, err := d.Data(ctx)
			require.NoError(t, err)
			assert.Equal(t, data, got)
			assert.Eventually(t, func() bool { return progress.Load() > 0 }, time.Second, 10*time.Millisecond)
		})
	}
}

func TestOpenURL(t *testing.T) {
	data := pdftest.Build(pdftest.Options{Pages: 2})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/doc.pdf" {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, "doc.pdf", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(ts.Close)

	c, _ := start(t, worker.Options{})
	ctx := testContext(t)
	d, err := c.Open(ctx, client.OpenOptions{URL: ts.URL + "/doc.pdf"})
	require.NoError(t, err)
	assert.Equal(t, 2, d.NumPages())

	_, err = c.Open(ctx, client.OpenOptions{URL: ts.URL + "/missing.pdf"})
	assert.Equal(t, rpc.MissingPDFException, wireError(t, err).Name)
}

func TestTerminate(t *testing.T) {
	c, srv := start(t, worker.Options{})
	ctx := testContext(t)
	d, err := c.Open(ctx, client.OpenOptions{Data: pdftest.Build(pdftest.Options{})})
	require.NoError(t, err)
	require.Equal(t, 1, srv.Sessions())

	require.NoError(t, d.Terminate(ctx))
	assert.Equal(t, 0, srv.Sessions())

	_, err = d.Page(ctx, 0)
	assert.ErrorIs(t, err, rpc.ErrDestroyed)
}

func TestServerClose(t *testing.T) {
	c, srv := start(t, worker.Options{})
	ctx := testContext(t)
	for i := 0; i < 3; i++ {
		_, err := c.Open(ctx, client.OpenOptions{Data: pdftest.Build(pdftest.Options{})})
		require.NoError(t, err)
	}
	require.Equal(t, 3, srv.Sessions())
	require.NoError(t, srv.Close(ctx))
	assert.Equal(t, 0, srv.Sessions())
}
