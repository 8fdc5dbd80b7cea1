package document

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/tsawler/docworker/core"
	"github.com/tsawler/docworker/crypt"
	"github.com/tsawler/docworker/pages"
	"github.com/tsawler/docworker/structtree"
	"github.com/tsawler/docworker/text"
)

// fingerprintBytes is how much of the file is hashed when the trailer has
// no usable /ID.
const fingerprintBytes = 1024

// Stream is the byte source of a document.
type Stream interface {
	io.ReaderAt
	Length() int64
	// Loaded returns the complete file, fetching whatever is still missing.
	Loaded(ctx context.Context) ([]byte, error)
}

// Aborter is implemented by streams that may have requests in flight.
type Aborter interface {
	Abort(err error)
}

// Options configures a Manager.
type Options struct {
	Password  string
	EnableXFA bool
	// Filename is the name the host received the file under, reported with
	// the metadata and hashed into new file identifiers.
	Filename string
	Logger   *slog.Logger
}

// Manager owns one parsed document. The load stages are called in order
// by a single goroutine; once they succeed every accessor is safe for
// concurrent use.
type Manager struct {
	stream Stream
	opts   Options
	log    *slog.Logger

	mu             sync.Mutex
	password       string
	terminated     bool
	xref           *core.XRef
	handler        *crypt.Handler
	catalog        *pages.Catalog
	tree           *pages.PageTree
	startXRef      int64
	version        string
	actualNumPages int

	fonts      *text.FontCache
	pages      memoMap[int, *Page]
	linearized memo[core.Dict]
	structTree memo[*structtree.Root]
	fields     memo[*fieldSet]
	xfaImages  memo[map[string][]byte]
}

// NewManager creates a manager reading from stream.
func NewManager(stream Stream, opts Options) *Manager {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		stream:   stream,
		opts:     opts,
		log:      log,
		password: opts.Password,
		fonts:    text.NewFontCache(),
	}
}

// Stream returns the byte source.
func (m *Manager) Stream() Stream {
	return m.stream
}

// Filename returns the name the document was opened under.
func (m *Manager) Filename() string {
	return m.opts.Filename
}

// CheckHeader reads the version from the %PDF- header. A missing header is
// not an error; the cross-reference stages decide whether the file is
// usable.
func (m *Manager) CheckHeader(ctx context.Context) error {
	if err := m.alive(); err != nil {
		return err
	}
	buf := make([]byte, min(int64(fingerprintBytes), m.stream.Length()))
	n, err := m.stream.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read header: %w", err)
	}
	buf = buf[:n]
	i := bytes.Index(buf, []byte("%PDF-"))
	if i < 0 {
		m.log.Warn("document header not found")
		return nil
	}
	j := i + 5
	for j < len(buf) && (buf[j] == '.' || (buf[j] >= '0' && buf[j] <= '9')) {
		j++
	}
	m.mu.Lock()
	m.version = string(buf[i+5 : j])
	m.mu.Unlock()
	return nil
}

// ParseStartXRef locates the newest cross-reference section. When no
// startxref keyword is found the offset stays 0 and parsing falls back to
// recovery.
func (m *Manager) ParseStartXRef(ctx context.Context) error {
	if err := m.alive(); err != nil {
		return err
	}
	start, err := core.NewXRefParser(m.stream, m.stream.Length()).FindXRef()
	if err != nil {
		m.log.Warn("startxref not found", "error", err)
		start = 0
	}
	m.mu.Lock()
	m.startXRef = start
	m.mu.Unlock()
	return nil
}

// Parse reads the cross-reference data, sets up decryption and loads the
// catalog. Outside recovery every structural failure is reported as a
// *core.XRefParseError so the caller can retry with recovery set.
func (m *Manager) Parse(ctx context.Context, recovery bool) error {
	if err := m.alive(); err != nil {
		return err
	}
	m.mu.Lock()
	startXRef, password := m.startXRef, m.password
	m.mu.Unlock()

	xrefErr := func(err error) error {
		if recovery {
			return fmt.Errorf("%w: %v", core.ErrInvalidPDF, err)
		}
		if core.IsXRefParseError(err) {
			return err
		}
		return &core.XRefParseError{Offset: startXRef, Err: err}
	}

	xref := core.NewXRef(m.stream, m.stream.Length())
	if err := xref.Parse(startXRef, recovery); err != nil {
		return xrefErr(err)
	}
	trailer := xref.Trailer()

	var handler *crypt.Handler
	if encObj := trailer.Get("Encrypt"); encObj != nil {
		resolved, err := xref.Resolve(encObj)
		if err != nil {
			return xrefErr(fmt.Errorf("failed to resolve /Encrypt: %w", err))
		}
		encDict, ok := resolved.(core.Dict)
		if !ok {
			return xrefErr(errors.New("/Encrypt is not a dictionary"))
		}
		var fileID []byte
		if ids, ok := trailer.GetArray("ID"); ok && len(ids) > 0 {
			if s, ok := ids[0].(core.String); ok {
				fileID = []byte(s)
			}
		}
		handler, err = crypt.NewHandler(encDict, fileID, password)
		if err != nil {
			return err
		}
		xref.SetDecrypter(handler)
	}

	rootRef, ok := trailer.GetIndirectRef("Root")
	if !ok {
		return xrefErr(errors.New("trailer has no /Root reference"))
	}
	rootObj, err := xref.Fetch(rootRef)
	if err != nil {
		return xrefErr(fmt.Errorf("failed to fetch catalog: %w", err))
	}
	rootDict, ok := rootObj.(core.Dict)
	if !ok {
		return xrefErr(errors.New("invalid root reference"))
	}
	catalog := pages.NewCatalog(rootDict, rootRef, xref)
	pagesDict, err := catalog.Pages()
	if err != nil {
		return xrefErr(err)
	}

	m.mu.Lock()
	m.xref = xref
	m.handler = handler
	m.catalog = catalog
	m.tree = pages.NewPageTree(pagesDict, xref)
	m.actualNumPages = 0
	m.mu.Unlock()
	m.resetCaches()
	return nil
}

func (m *Manager) resetCaches() {
	m.fonts.Clear()
	m.pages.reset()
	m.linearized.reset()
	m.structTree.reset()
	m.fields.reset()
	m.xfaImages.reset()
}

// entryError reports whether err comes from a broken xref entry.
func entryError(err error) bool {
	var e *core.XRefEntryError
	return errors.As(err, &e)
}

// CheckFirstPage loads the first page. A broken xref entry is reported as
// a parse error outside recovery; other failures are left for the page
// requests to report.
func (m *Manager) CheckFirstPage(ctx context.Context, recovery bool) error {
	if recovery {
		return nil
	}
	if _, err := m.GetPage(ctx, 0); err != nil {
		if entryError(err) {
			m.Cleanup()
			return &core.XRefParseError{Err: err}
		}
		m.log.Debug("first page check failed", "error", err)
	}
	return nil
}

// CheckLastPage loads the last page announced by /Count. When that fails
// the page count becomes the number of pages actually found in the tree,
// or 1 when the tree cannot be walked.
func (m *Manager) CheckLastPage(ctx context.Context, recovery bool) error {
	tree, err := m.pageTree()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.actualNumPages = 0
	m.mu.Unlock()

	numPages, err := tree.Count()
	if err == nil {
		if numPages <= 1 {
			return nil
		}
		if _, err = tree.GetPage(numPages - 1); err == nil {
			return nil
		}
	}
	m.Cleanup()
	if entryError(err) && !recovery {
		return &core.XRefParseError{Err: err}
	}
	m.log.Warn("invalid /Pages tree /Count", "count", numPages, "error", err)

	found, lenErr := tree.Len()
	if lenErr != nil || found == 0 {
		if entryError(lenErr) && !recovery {
			return &core.XRefParseError{Err: lenErr}
		}
		found = 1
	}
	m.mu.Lock()
	m.actualNumPages = found
	m.mu.Unlock()
	return nil
}

// NumPages returns the page count.
func (m *Manager) NumPages(ctx context.Context) (int, error) {
	tree, err := m.pageTree()
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	actual := m.actualNumPages
	m.mu.Unlock()
	if actual > 0 {
		return actual, nil
	}
	return tree.Count()
}

// Fingerprints identifies a document: the hex encoded permanent and
// changing parts of /ID, or an MD5 of the first kilobyte when /ID is
// missing. An empty element marshals as null.
type Fingerprints [2]string

// MarshalJSON implements json.Marshaler.
func (f Fingerprints) MarshalJSON() ([]byte, error) {
	out := make([]*string, 2)
	for i := range f {
		if f[i] != "" {
			out[i] = &f[i]
		}
	}
	return json.Marshal(out)
}

func validID(obj core.Object) ([]byte, bool) {
	s, ok := obj.(core.String)
	if !ok || len(s) != 16 {
		return nil, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] != 0 {
			return []byte(s), true
		}
	}
	return nil, false
}

// Fingerprints returns the document fingerprints.
func (m *Manager) Fingerprints(ctx context.Context) (Fingerprints, error) {
	xref, err := m.xrefOrErr()
	if err != nil {
		return Fingerprints{}, err
	}
	var fp Fingerprints
	ids, _ := xref.Trailer().GetArray("ID")
	if len(ids) > 0 {
		if first, ok := validID(ids[0]); ok {
			fp[0] = hex.EncodeToString(first)
			if len(ids) > 1 {
				if second, ok := validID(ids[1]); ok && !bytes.Equal(first, second) {
					fp[1] = hex.EncodeToString(second)
				}
			}
			return fp, nil
		}
	}
	buf := make([]byte, min(int64(fingerprintBytes), m.stream.Length()))
	n, err := m.stream.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return Fingerprints{}, fmt.Errorf("failed to read document start: %w", err)
	}
	sum := md5.Sum(buf[:n])
	fp[0] = hex.EncodeToString(sum[:])
	return fp, nil
}

// HTMLForXFA returns the HTML rendering of an XFA form. Forms are never
// laid out here so the result is always nil.
func (m *Manager) HTMLForXFA(ctx context.Context) (any, error) {
	return nil, nil
}

// UpdatePassword sets the password used by the next Parse.
func (m *Manager) UpdatePassword(password string) {
	m.mu.Lock()
	m.password = password
	m.mu.Unlock()
}

// RequestLoaded waits for the complete file.
func (m *Manager) RequestLoaded(ctx context.Context) ([]byte, error) {
	if err := m.alive(); err != nil {
		return nil, err
	}
	return m.stream.Loaded(ctx)
}

// StartXRef returns the offset found by ParseStartXRef.
func (m *Manager) StartXRef() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startXRef
}

// Version returns the version from the file header, or the catalog's
// /Version when that is newer.
func (m *Manager) Version() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.version
	if m.catalog != nil {
		if cv := m.catalog.Version(); cv > v {
			v = cv
		}
	}
	return v
}

// XRef returns the parsed cross-reference data.
func (m *Manager) XRef() (*core.XRef, error) {
	return m.xrefOrErr()
}

func (m *Manager) xrefOrErr() (*core.XRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.terminated {
		return nil, ErrTerminated
	}
	if m.xref == nil {
		return nil, ErrNotLoaded
	}
	return m.xref, nil
}

func (m *Manager) catalogOrErr() (*pages.Catalog, *core.XRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.terminated {
		return nil, nil, ErrTerminated
	}
	if m.catalog == nil {
		return nil, nil, ErrNotLoaded
	}
	return m.catalog, m.xref, nil
}

func (m *Manager) pageTree() (*pages.PageTree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.terminated {
		return nil, ErrTerminated
	}
	if m.tree == nil {
		return nil, ErrNotLoaded
	}
	return m.tree, nil
}

func (m *Manager) alive() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.terminated {
		return ErrTerminated
	}
	return nil
}

// Encrypter returns the security handler for encrypting rewritten
// objects, or nil for unencrypted documents.
func (m *Manager) Encrypter() core.Encrypter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handler == nil {
		return nil
	}
	return m.handler
}

// CatalogRef returns the reference of the document catalog.
func (m *Manager) CatalogRef() (core.IndirectRef, core.Dict, error) {
	catalog, _, err := m.catalogOrErr()
	if err != nil {
		return core.IndirectRef{}, nil, err
	}
	return catalog.Ref(), catalog.Dict(), nil
}

// Linearization returns the linearization parameter dictionary, or nil
// when the file is not linearized or its /L does not match the length.
func (m *Manager) Linearization(ctx context.Context) (core.Dict, error) {
	return m.linearized.get(ctx, func() (core.Dict, error) {
		if err := m.alive(); err != nil {
			return nil, err
		}
		buf := make([]byte, min(int64(fingerprintBytes), m.stream.Length()))
		n, err := m.stream.ReadAt(buf, 0)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to read document start: %w", err)
		}
		buf = buf[:n]
		i := bytes.Index(buf, []byte(" obj"))
		if i < 0 {
			return nil, nil
		}
		obj, err := core.NewParser(bytes.NewReader(buf[i+4:])).ParseObject()
		if err != nil {
			return nil, nil
		}
		dict, ok := obj.(core.Dict)
		if !ok || !dict.Has("Linearized") {
			return nil, nil
		}
		if l, ok := core.ToInt(dict.Get("L")); !ok || int64(l) != m.stream.Length() {
			return nil, nil
		}
		return dict, nil
	})
}

// StructTreeRoot returns the structure tree, or nil when there is none.
func (m *Manager) StructTreeRoot(ctx context.Context) (*structtree.Root, error) {
	return m.structTree.get(ctx, func() (*structtree.Root, error) {
		catalog, xref, err := m.catalogOrErr()
		if err != nil {
			return nil, err
		}
		return structtree.Load(xref, catalog.Dict())
	})
}

// GetPage returns the page at index. Concurrent calls for one index share
// a single load.
func (m *Manager) GetPage(ctx context.Context, index int) (*Page, error) {
	tree, err := m.pageTree()
	if err != nil {
		return nil, err
	}
	return m.pages.get(ctx, index, func() (*Page, error) {
		p, err := tree.GetPage(index)
		if err != nil {
			return nil, err
		}
		return &Page{m: m, index: index, page: p}, nil
	})
}

// PageIndex returns the index of the page stored at ref.
func (m *Manager) PageIndex(ctx context.Context, ref core.IndirectRef) (int, error) {
	tree, err := m.pageTree()
	if err != nil {
		return 0, err
	}
	return tree.PageIndex(ref)
}

// FontCount returns the number of fonts loaded so far.
func (m *Manager) FontCount() int {
	return m.fonts.Len()
}

// Cleanup drops loaded pages, fonts and parsed objects. The
// cross-reference table stays so the document remains usable.
func (m *Manager) Cleanup() {
	m.fonts.Clear()
	m.pages.reset()
	m.fields.reset()
	m.structTree.reset()
	m.mu.Lock()
	xref := m.xref
	m.mu.Unlock()
	if xref != nil {
		xref.Cleanup()
	}
}

// Terminate aborts outstanding reads and releases every cache. Later calls
// fail with ErrTerminated.
func (m *Manager) Terminate(reason error) {
	m.mu.Lock()
	if m.terminated {
		m.mu.Unlock()
		return
	}
	m.terminated = true
	m.mu.Unlock()

	if a, ok := m.stream.(Aborter); ok {
		a.Abort(reason)
	}
	m.Cleanup()
	m.resetCaches()
}
