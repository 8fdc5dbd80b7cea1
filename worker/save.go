package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tsawler/docworker/annotation"
	"github.com/tsawler/docworker/core"
	"github.com/tsawler/docworker/document"
	"github.com/tsawler/docworker/incremental"
	"github.com/tsawler/docworker/structtree"
	"github.com/tsawler/docworker/task"
	"github.com/tsawler/docworker/telemetry"
)

// SaveRequest is the SaveDocument payload.
type SaveRequest struct {
	IsPureXFA         bool                       `json:"isPureXfa"`
	NumPages          int                        `json:"numPages"`
	AnnotationStorage map[string]json.RawMessage `json:"annotationStorage"`
	Filename          string                     `json:"filename"`
}

// treeAction is what a save does to the structure tree.
type treeAction int

const (
	treeUntouched treeAction = iota
	treeCreate
	treeUpdate
)

// saveInputs are the document facts a save needs, fetched together.
type saveInputs struct {
	original      []byte
	acroForm      core.Dict
	acroFormRef   *core.IndirectRef
	startXRef     int64
	xref          *core.XRef
	linearization core.Dict
	structRoot    *structtree.Root
}

func (s *Session) fetchSaveInputs(ctx context.Context, m *document.Manager) (*saveInputs, error) {
	in := &saveInputs{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		in.original, err = m.RequestLoaded(gctx)
		return err
	})
	g.Go(func() (err error) {
		in.acroForm, in.acroFormRef, err = m.AcroForm(gctx)
		return err
	})
	g.Go(func() error {
		in.startXRef = m.StartXRef()
		return nil
	})
	g.Go(func() (err error) {
		in.xref, err = m.XRef()
		return err
	})
	g.Go(func() (err error) {
		in.linearization, err = m.Linearization(gctx)
		return err
	})
	g.Go(func() (err error) {
		in.structRoot, err = m.StructTreeRoot(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return in, nil
}

func (s *Session) saveDocument(ctx context.Context, req SaveRequest) (out []byte, err error) {
	m, err := s.doc()
	if err != nil {
		return nil, err
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	start := time.Now()
	outcome := telemetry.SaveError
	defer func() {
		s.metrics.Saves.WithLabelValues(outcome).Inc()
		s.metrics.SaveDuration.Observe(time.Since(start).Seconds())
	}()

	storage, err := annotation.ParseStorage(req.AnnotationStorage)
	if err != nil {
		return nil, err
	}
	if storage.Empty() {
		outcome = telemetry.SaveNoop
		return m.RequestLoaded(ctx)
	}
	in, err := s.fetchSaveInputs(ctx, m)
	if err != nil {
		return nil, err
	}
	xref := in.xref
	defer xref.ResetTemporaryRefs()

	var catalogRef *core.IndirectRef
	if ref, ok := xref.Trailer().GetIndirectRef("Root"); ok {
		catalogRef = &ref
	}
	var byPage map[int][]*annotation.Editor
	if !req.IsPureXFA {
		byPage = storage.ByPage()
	}

	changes := core.NewChangeSet()
	g, gctx := errgroup.WithContext(ctx)

	if len(byPage) > 0 {
		pages, err := s.editorPages(ctx, m, byPage)
		if err != nil {
			return nil, err
		}
		action := s.treeAction(in.structRoot, catalogRef, pages, byPage)
		saveNew := func(g *errgroup.Group, ctx context.Context) {
			for idx, editors := range byPage {
				idx, editors := idx, editors
				g.Go(func() error {
					return s.tasks.Run(ctx, fmt.Sprintf("Save (editor): page %d", idx), func(t *task.Task) error {
						p, err := m.GetPage(t.Context(), idx)
						if err != nil {
							return err
						}
						return p.SaveNewAnnotations(t.Context(), editors, changes)
					})
				})
			}
		}
		if action == treeUntouched {
			saveNew(g, gctx)
		} else {
			g.Go(func() error {
				inner, ictx := errgroup.WithContext(gctx)
				saveNew(inner, ictx)
				if err := inner.Wait(); err != nil {
					return err
				}
				enc := m.Encrypter()
				if action == treeCreate {
					_, catalog, err := m.CatalogRef()
					if err != nil {
						return err
					}
					return structtree.Create(xref, enc, *catalogRef, catalog, pages, byPage, changes)
				}
				return in.structRoot.Update(xref, enc, pages, byPage, changes)
			})
		}
	}

	var xfaData []byte
	if req.IsPureXFA {
		g.Go(func() (err error) {
			xfaData, err = m.SerializeXFAData(gctx, storage.XFA)
			return err
		})
	} else {
		numPages := req.NumPages
		if numPages <= 0 {
			if numPages, err = m.NumPages(ctx); err != nil {
				return nil, err
			}
		}
		for idx := 0; idx < numPages; idx++ {
			idx := idx
			g.Go(func() error {
				return s.tasks.Run(gctx, fmt.Sprintf("Save: page %d", idx), func(t *task.Task) error {
					p, err := m.GetPage(t.Context(), idx)
					if err != nil {
						return err
					}
					return p.Save(t.Context(), storage.Fields, changes, t.EnsureNotTerminated)
				})
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if req.IsPureXFA {
		if xfaData == nil {
			outcome = telemetry.SaveNoop
			return in.original, nil
		}
	} else if changes.Len() == 0 {
		outcome = telemetry.SaveNoop
		return in.original, nil
	}

	opts, err := s.updateOptions(m, in, req, changes)
	if err != nil {
		return nil, err
	}
	opts.XFAData = xfaData
	out, err = incremental.Write(*opts)
	if err != nil {
		return nil, err
	}
	outcome = telemetry.SaveIncremental
	s.recordRevision(ctx, m, out)
	return out, nil
}

// editorPages looks up the pages that receive new annotations.
func (s *Session) editorPages(ctx context.Context, m *document.Manager, byPage map[int][]*annotation.Editor) (map[int]structtree.Page, error) {
	idx := make([]int, 0, len(byPage))
	for i := range byPage {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	pages := make(map[int]structtree.Page, len(idx))
	for _, i := range idx {
		p, err := m.GetPage(ctx, i)
		if err != nil {
			return nil, err
		}
		pages[i] = structtree.Page{Ref: p.Ref(), Dict: p.Dict()}
	}
	return pages, nil
}

// treeAction decides whether the new annotations get structure elements:
// a new tree when the document has none, new elements in the existing
// tree when it can take them, and nothing otherwise.
func (s *Session) treeAction(root *structtree.Root, catalogRef *core.IndirectRef, pages map[int]structtree.Page, byPage map[int][]*annotation.Editor) treeAction {
	if root == nil {
		err := structtree.CanCreate(catalogRef, pages, byPage)
		if err == nil {
			return treeCreate
		}
		if !errors.Is(err, structtree.ErrNothingToTag) {
			s.log.Debug("structure tree not created", "error", err)
		}
		return treeUntouched
	}
	if err := root.CanUpdate(pages, byPage); err != nil {
		s.log.Debug("structure tree not updated", "error", err)
		return treeUntouched
	}
	return treeUpdate
}

// updateOptions assembles the trailer and form facts of the incremental
// update.
func (s *Session) updateOptions(m *document.Manager, in *saveInputs, req SaveRequest, changes *core.ChangeSet) (*incremental.Options, error) {
	xref := in.xref
	opts := &incremental.Options{
		Original:      in.original,
		Changes:       changes,
		Resolver:      xref,
		Encrypter:     m.Encrypter(),
		AcroFormRef:   in.acroFormRef,
		AcroForm:      in.acroForm,
		UseXRefStream: xref.TopIsStream(),
		Logger:        s.log,
	}
	opts.NeedAppearances = in.acroFormRef != nil && in.acroForm != nil && changes.NeedAppearances()

	if in.acroForm != nil {
		xfa, err := xref.Resolve(in.acroForm.Get("XFA"))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve /XFA: %w", err)
		}
		switch v := xfa.(type) {
		case nil:
		case core.Array:
			opts.HasXFA = true
			for i := 0; i+1 < len(v); i += 2 {
				if name, ok := v[i].(core.String); ok && string(name) == "datasets" {
					if ref, ok := v[i+1].(core.IndirectRef); ok {
						opts.XFADatasetsRef = &ref
					}
					opts.HasXFADatasetsEntry = true
				}
			}
			if opts.XFADatasetsRef == nil {
				ref := xref.NewTemporaryRef()
				opts.XFADatasetsRef = &ref
			}
		default:
			opts.HasXFA = true
			s.log.Warn("unsupported XFA type")
		}
	}

	infoRef, encryptRef, err := m.TrailerRefs()
	if err != nil {
		return nil, err
	}
	info, err := m.InfoStrings()
	if err != nil {
		return nil, err
	}
	ids, err := m.FileIDs()
	if err != nil {
		return nil, err
	}
	var rootRef *core.IndirectRef
	if ref, ok := xref.Trailer().GetIndirectRef("Root"); ok {
		rootRef = &ref
	}
	startXRef := in.startXRef
	if in.linearization == nil {
		if pos, ok := xref.LastXRefStreamPos(); ok {
			startXRef = pos
		}
	}
	opts.XRefInfo = incremental.XRefInfo{
		RootRef:    rootRef,
		EncryptRef: encryptRef,
		InfoRef:    infoRef,
		NewRef:     xref.NewTemporaryRef(),
		Info:       info,
		FileIDs:    ids,
		StartXRef:  startXRef,
		Filename:   req.Filename,
	}
	return opts, nil
}

func (s *Session) recordRevision(ctx context.Context, m *document.Manager, data []byte) {
	if s.revisions == nil {
		return
	}
	var fingerprint string
	if fp, err := m.Fingerprints(ctx); err == nil {
		fingerprint = fp[0]
	}
	if err := s.revisions.SaveRevision(ctx, s.id, fingerprint, data); err != nil {
		s.log.Warn("failed to record revision", "error", err)
	}
}
