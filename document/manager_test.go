package document

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/tsawler/docworker/core"
	"github.com/tsawler/docworker/crypt"
	"github.com/tsawler/docworker/internal/pdftest"
	"github.com/tsawler/docworker/text"
)

type memStream struct {
	*bytes.Reader
	data    []byte
	aborted error
}

func newMemStream(data []byte) *memStream {
	return &memStream{Reader: bytes.NewReader(data), data: data}
}

func (s *memStream) Length() int64 { return int64(len(s.data)) }

func (s *memStream) Loaded(ctx context.Context) ([]byte, error) { return s.data, nil }

func (s *memStream) Abort(err error) { s.aborted = err }

// load runs the load stages the way the worker does, retrying once in
// recovery mode.
func load(t *testing.T, data []byte, opts Options) *Manager {
	t.Helper()
	m, err := tryLoad(data, opts)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	return m
}

func tryLoad(data []byte, opts Options) (*Manager, error) {
	ctx := context.Background()
	m := NewManager(newMemStream(data), opts)
	run := func(recovery bool) error {
		if err := m.CheckHeader(ctx); err != nil {
			return err
		}
		if err := m.ParseStartXRef(ctx); err != nil {
			return err
		}
		if err := m.Parse(ctx, recovery); err != nil {
			return err
		}
		if err := m.CheckFirstPage(ctx, recovery); err != nil {
			return err
		}
		return m.CheckLastPage(ctx, recovery)
	}
	err := run(false)
	if core.IsXRefParseError(err) {
		err = run(true)
	}
	return m, err
}

// TestLoad tests loading files with cross-reference tables and streams
func TestLoad(t *testing.T) {
	for _, stream := range []bool{false, true} {
		data := pdftest.Build(pdftest.Options{Pages: 10, XRefStream: stream})
		m := load(t, data, Options{})
		ctx := context.Background()

		n, err := m.NumPages(ctx)
		if err != nil || n != 10 {
			t.Fatalf("NumPages() = %d, %v; want 10", n, err)
		}
		if v := m.Version(); v != "1.7" {
			t.Errorf("Version() = %q, want 1.7", v)
		}
		p, err := m.GetPage(ctx, 9)
		if err != nil {
			t.Fatalf("GetPage(9): %v", err)
		}
		if p.Index() != 9 || p.Ref() == nil {
			t.Errorf("page 9: index %d ref %v", p.Index(), p.Ref())
		}
		idx, err := m.PageIndex(ctx, *p.Ref())
		if err != nil || idx != 9 {
			t.Errorf("PageIndex() = %d, %v; want 9", idx, err)
		}
		if _, err := m.GetPage(ctx, 10); err == nil {
			t.Error("GetPage(10) should fail")
		}
		again, _ := m.GetPage(ctx, 9)
		if again != p {
			t.Error("pages should be cached")
		}
	}
}

// TestLoadRecovery tests that a broken startxref is reported as a parse
// error and that the recovery pass still reads the file
func TestLoadRecovery(t *testing.T) {
	data := pdftest.Build(pdftest.Options{Pages: 3, BrokenXRef: true})
	ctx := context.Background()

	m := NewManager(newMemStream(data), Options{})
	if err := m.ParseStartXRef(ctx); err != nil {
		t.Fatal(err)
	}
	err := m.Parse(ctx, false)
	if !core.IsXRefParseError(err) {
		t.Fatalf("Parse() error = %v, want XRefParseError", err)
	}

	m = load(t, data, Options{})
	if n, err := m.NumPages(ctx); err != nil || n != 3 {
		t.Errorf("NumPages() = %d, %v; want 3", n, err)
	}
}

// TestLoadGarbage tests that unreadable input fails in recovery too
func TestLoadGarbage(t *testing.T) {
	_, err := tryLoad([]byte("this is not a pdf file at all"), Options{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, core.ErrInvalidPDF) {
		t.Errorf("error = %v, want ErrInvalidPDF", err)
	}
}

// TestPassword tests the password exchange of encrypted files
func TestPassword(t *testing.T) {
	data := pdftest.Build(pdftest.Options{Pages: 1, Encrypt: true, UserPassword: "secret"})
	ctx := context.Background()

	m := NewManager(newMemStream(data), Options{})
	if err := m.ParseStartXRef(ctx); err != nil {
		t.Fatal(err)
	}
	err := m.Parse(ctx, false)
	pe, ok := crypt.AsPasswordError(err)
	if !ok || pe.Code != crypt.NeedPassword {
		t.Fatalf("Parse() error = %v, want NeedPassword", err)
	}

	m.UpdatePassword("wrong")
	_, ok = crypt.AsPasswordError(m.Parse(ctx, false))
	if !ok {
		t.Fatal("wrong password should be rejected")
	}

	m.UpdatePassword("secret")
	if err := m.Parse(ctx, false); err != nil {
		t.Fatalf("Parse() with password: %v", err)
	}
	perms, err := m.Permissions(ctx)
	if err != nil || len(perms) == 0 {
		t.Errorf("Permissions() = %v, %v", perms, err)
	}
	if m.Encrypter() == nil {
		t.Error("Encrypter() should be set")
	}

	p, err := m.GetPage(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	var got strings.Builder
	err = p.TextContent(ctx, TextOptions{}, func(c text.Chunk) error {
		for _, item := range c.Items {
			got.WriteString(item.Str)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got.String(), "Page 1") {
		t.Errorf("decrypted text = %q", got.String())
	}
}

// TestFingerprints tests fingerprints from /ID and from the file hash
func TestFingerprints(t *testing.T) {
	ctx := context.Background()

	m := load(t, pdftest.Build(pdftest.Options{}), Options{})
	fp, err := m.Fingerprints(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := hex.EncodeToString(pdftest.FileID)
	if fp[0] != want || fp[1] != "" {
		t.Errorf("Fingerprints() = %v, want [%s ]", fp, want)
	}
	out, _ := json.Marshal(fp)
	if string(out) != `["`+want+`",null]` {
		t.Errorf("json = %s", out)
	}

	data := pdftest.Build(pdftest.Options{NoID: true})
	m = load(t, data, Options{})
	fp, err = m.Fingerprints(ctx)
	if err != nil {
		t.Fatal(err)
	}
	sum := md5.Sum(data[:min(len(data), fingerprintBytes)])
	if fp[0] != hex.EncodeToString(sum[:]) {
		t.Errorf("hash fingerprint = %s", fp[0])
	}
}

// TestNotLoaded tests accessors before parsing
func TestNotLoaded(t *testing.T) {
	m := NewManager(newMemStream(nil), Options{})
	if _, err := m.NumPages(context.Background()); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("NumPages() error = %v, want ErrNotLoaded", err)
	}
}

// TestTerminate tests that termination aborts the stream and fails later
// calls
func TestTerminate(t *testing.T) {
	data := pdftest.Build(pdftest.Options{Pages: 2})
	stream := newMemStream(data)
	m := NewManager(stream, Options{})
	ctx := context.Background()
	if err := m.ParseStartXRef(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.Parse(ctx, false); err != nil {
		t.Fatal(err)
	}

	reason := errors.New("worker was terminated")
	m.Terminate(reason)
	m.Terminate(reason)
	if stream.aborted != reason {
		t.Errorf("stream aborted with %v", stream.aborted)
	}
	if _, err := m.GetPage(ctx, 0); !errors.Is(err, ErrTerminated) {
		t.Errorf("GetPage() error = %v, want ErrTerminated", err)
	}
}

// TestLinearization tests that ordinary files are not linearized
func TestLinearization(t *testing.T) {
	m := load(t, pdftest.Build(pdftest.Options{}), Options{})
	lin, err := m.Linearization(context.Background())
	if err != nil || lin != nil {
		t.Errorf("Linearization() = %v, %v", lin, err)
	}
}

// TestMetadata tests /Info, XMP and file facts
func TestMetadata(t *testing.T) {
	data := pdftest.Build(pdftest.Options{
		Info:     map[string]string{"Title": "Report", "Department": "Research"},
		Metadata: "<x:xmpmeta/>",
	})
	m := load(t, data, Options{Filename: "report.pdf"})
	md, err := m.Metadata(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if md.Info["Title"] != "Report" {
		t.Errorf("Title = %v", md.Info["Title"])
	}
	custom, _ := md.Info["Custom"].(map[string]any)
	if custom["Department"] != "Research" {
		t.Errorf("Custom = %v", md.Info["Custom"])
	}
	if md.Info["PDFFormatVersion"] != "1.7" || md.Info["IsLinearized"] != false {
		t.Errorf("Info = %v", md.Info)
	}
	if md.Metadata != "<x:xmpmeta/>" {
		t.Errorf("Metadata = %q", md.Metadata)
	}
	if md.ContentDispositionFilename != "report.pdf" || md.ContentLength != int64(len(data)) {
		t.Errorf("file facts = %q %d", md.ContentDispositionFilename, md.ContentLength)
	}
}
