package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tsawler/docworker/annotation"
	"github.com/tsawler/docworker/contentstream"
	"github.com/tsawler/docworker/core"
	"github.com/tsawler/docworker/document"
	"github.com/tsawler/docworker/rpc"
	"github.com/tsawler/docworker/structtree"
	"github.com/tsawler/docworker/task"
	"github.com/tsawler/docworker/text"
)

type none struct{}

type pageRequest struct {
	PageIndex int `json:"pageIndex"`
}

// Ref is an object reference as hosts see it.
type Ref struct {
	Num int `json:"num"`
	Gen int `json:"gen"`
}

// PageInfo is the GetPage result.
type PageInfo struct {
	Rotate   int       `json:"rotate"`
	Ref      *Ref      `json:"ref"`
	RefStr   *string   `json:"refStr"`
	UserUnit float64   `json:"userUnit"`
	View     []float64 `json:"view"`
}

func (s *Session) getPage(ctx context.Context, req pageRequest) (*PageInfo, error) {
	p, err := s.page(ctx, req.PageIndex)
	if err != nil {
		return nil, err
	}
	info := &PageInfo{}
	var g errgroup.Group
	g.Go(func() error {
		info.Rotate = p.Rotate()
		return nil
	})
	g.Go(func() error {
		if ref := p.Ref(); ref != nil {
			str := ref.Key()
			info.Ref = &Ref{Num: ref.Number, Gen: ref.Generation}
			info.RefStr = &str
		}
		return nil
	})
	g.Go(func() error {
		info.UserUnit = p.UserUnit()
		return nil
	})
	g.Go(func() (err error) {
		info.View, err = p.View()
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return info, nil
}

func (s *Session) getPageIndex(ctx context.Context, req Ref) (int, error) {
	m, err := s.doc()
	if err != nil {
		return 0, err
	}
	return m.PageIndex(ctx, core.IndirectRef{Number: req.Num, Generation: req.Gen})
}

func (s *Session) getDestinations(ctx context.Context, _ none) (map[string]any, error) {
	m, err := s.doc()
	if err != nil {
		return nil, err
	}
	return m.Destinations(ctx)
}

type destinationRequest struct {
	ID string `json:"id"`
}

func (s *Session) getDestination(ctx context.Context, req destinationRequest) (any, error) {
	m, err := s.doc()
	if err != nil {
		return nil, err
	}
	return m.Destination(ctx, req.ID)
}

func (s *Session) getPageLabels(ctx context.Context, _ none) ([]string, error) {
	m, err := s.doc()
	if err != nil {
		return nil, err
	}
	return m.PageLabels(ctx)
}

func (s *Session) getPageLayout(ctx context.Context, _ none) (string, error) {
	m, err := s.doc()
	if err != nil {
		return "", err
	}
	return m.PageLayout(ctx)
}

func (s *Session) getPageMode(ctx context.Context, _ none) (string, error) {
	m, err := s.doc()
	if err != nil {
		return "", err
	}
	return m.PageMode(ctx)
}

func (s *Session) getViewerPreferences(ctx context.Context, _ none) (map[string]any, error) {
	m, err := s.doc()
	if err != nil {
		return nil, err
	}
	return m.ViewerPreferences(ctx)
}

func (s *Session) getOpenAction(ctx context.Context, _ none) (*document.OpenAction, error) {
	m, err := s.doc()
	if err != nil {
		return nil, err
	}
	return m.OpenAction(ctx)
}

func (s *Session) getAttachments(ctx context.Context, _ none) (map[string]*document.Attachment, error) {
	m, err := s.doc()
	if err != nil {
		return nil, err
	}
	return m.Attachments(ctx)
}

func (s *Session) getDocJSActions(ctx context.Context, _ none) (map[string][]string, error) {
	m, err := s.doc()
	if err != nil {
		return nil, err
	}
	return m.DocJSActions(ctx)
}

func (s *Session) getPageJSActions(ctx context.Context, req pageRequest) (map[string][]string, error) {
	p, err := s.page(ctx, req.PageIndex)
	if err != nil {
		return nil, err
	}
	return p.JSActions(ctx)
}

func (s *Session) getOutline(ctx context.Context, _ none) ([]*document.OutlineItem, error) {
	m, err := s.doc()
	if err != nil {
		return nil, err
	}
	return m.Outline(ctx)
}

func (s *Session) getOptionalContentConfig(ctx context.Context, _ none) (*document.OptionalContentConfig, error) {
	m, err := s.doc()
	if err != nil {
		return nil, err
	}
	return m.OptionalContentConfig(ctx)
}

func (s *Session) getPermissions(ctx context.Context, _ none) ([]int32, error) {
	m, err := s.doc()
	if err != nil {
		return nil, err
	}
	return m.Permissions(ctx)
}

// getMetadata answers with the document information and the XMP packet,
// which is null when the document has none.
func (s *Session) getMetadata(ctx context.Context, _ none) ([2]any, error) {
	m, err := s.doc()
	if err != nil {
		return [2]any{}, err
	}
	md, err := m.Metadata(ctx)
	if err != nil {
		return [2]any{}, err
	}
	info := map[string]any{}
	for k, v := range md.Info {
		info[k] = v
	}
	if md.ContentDispositionFilename != "" {
		info["ContentDispositionFilename"] = md.ContentDispositionFilename
	}
	info["ContentLength"] = md.ContentLength
	var xmp any
	if md.Metadata != "" {
		xmp = md.Metadata
	}
	return [2]any{info, xmp}, nil
}

func (s *Session) getMarkInfo(ctx context.Context, _ none) (map[string]bool, error) {
	m, err := s.doc()
	if err != nil {
		return nil, err
	}
	return m.MarkInfo(ctx)
}

func (s *Session) getData(ctx context.Context, _ none) ([]byte, error) {
	m, err := s.doc()
	if err != nil {
		return nil, err
	}
	return m.RequestLoaded(ctx)
}

type annotationsRequest struct {
	PageIndex int    `json:"pageIndex"`
	Intent    string `json:"intent"`
}

func (s *Session) getAnnotations(ctx context.Context, req annotationsRequest) ([]*annotation.Data, error) {
	p, err := s.page(ctx, req.PageIndex)
	if err != nil {
		return nil, err
	}
	var annots []*annotation.Data
	err = s.tasks.Run(ctx, fmt.Sprintf("GetAnnotations: page %d", req.PageIndex), func(t *task.Task) error {
		annots, err = p.Annotations(t.Context(), req.Intent)
		return err
	})
	return annots, err
}

func (s *Session) getFieldObjects(ctx context.Context, _ none) (map[string][]*document.FieldObject, error) {
	m, err := s.doc()
	if err != nil {
		return nil, err
	}
	return m.FieldObjects(ctx)
}

func (s *Session) hasJSActions(ctx context.Context, _ none) (bool, error) {
	m, err := s.doc()
	if err != nil {
		return false, err
	}
	return m.HasJSActions(ctx)
}

func (s *Session) getCalculationOrderIDs(ctx context.Context, _ none) ([]string, error) {
	m, err := s.doc()
	if err != nil {
		return nil, err
	}
	return m.CalculationOrderIDs(ctx)
}

func (s *Session) getStructTree(ctx context.Context, req pageRequest) (*structtree.Node, error) {
	p, err := s.page(ctx, req.PageIndex)
	if err != nil {
		return nil, err
	}
	return p.StructTree(ctx)
}

func (s *Session) cleanup(context.Context, none) (any, error) {
	m, err := s.doc()
	if err != nil {
		return nil, err
	}
	m.Cleanup()
	return nil, nil
}

func (s *Session) getXFADatasets(ctx context.Context, _ none) (*string, error) {
	m, err := s.doc()
	if err != nil {
		return nil, err
	}
	xfa, err := m.XFA(ctx)
	if err != nil || xfa == nil || xfa.Datasets == nil {
		return nil, err
	}
	data, err := xfa.Datasets.Decode()
	if err != nil {
		return nil, fmt.Errorf("failed to decode XFA datasets: %w", err)
	}
	str := string(data)
	return &str, nil
}

func (s *Session) getXRefPrevValue(ctx context.Context, _ none) (*int64, error) {
	m, err := s.doc()
	if err != nil {
		return nil, err
	}
	return m.XRefPrevValue(ctx)
}

func (s *Session) getStartXRefPos(context.Context, none) (int64, error) {
	m, err := s.doc()
	if err != nil {
		return 0, err
	}
	return m.StartXRef(), nil
}

func (s *Session) getAnnotArray(ctx context.Context, req pageRequest) ([]string, error) {
	p, err := s.page(ctx, req.PageIndex)
	if err != nil {
		return nil, err
	}
	return p.AnnotRefs()
}

// OperatorListRequest is the GetOperatorList payload.
type OperatorListRequest struct {
	PageIndex      int    `json:"pageIndex"`
	Intent         string `json:"intent"`
	AnnotationMode int    `json:"annotationMode"`
	ChunkSize      int    `json:"chunkSize,omitempty"`
}

func (s *Session) getOperatorList(ctx context.Context, data json.RawMessage, sink *rpc.Sink) error {
	req, err := decode[OperatorListRequest](data)
	if err != nil {
		return err
	}
	p, err := s.page(ctx, req.PageIndex)
	if err != nil {
		return toWire(err)
	}

	t := task.New(ctx, fmt.Sprintf("GetOperatorList: page %d", req.PageIndex))
	s.tasks.Start(t)
	start := time.Now()
	var length int
	err = p.OperatorList(t.Context(), document.OperatorListOptions{
		Intent:         req.Intent,
		AnnotationMode: req.AnnotationMode,
		ChunkSize:      req.ChunkSize,
	}, func(c contentstream.Chunk) error {
		if err := t.EnsureNotTerminated(); err != nil {
			return err
		}
		length = c.Length
		return sink.Enqueue(c)
	})
	s.tasks.Finish(t)
	if err != nil {
		if t.Terminated() {
			return rpc.ErrAbandon
		}
		return toWire(err)
	}
	if s.timing {
		s.log.Info("getOperatorList", "page", req.PageIndex+1, "time", time.Since(start), "len", length)
	}
	return nil
}

// TextContentRequest is the GetTextContent payload.
type TextContentRequest struct {
	PageIndex            int  `json:"pageIndex"`
	IncludeMarkedContent bool `json:"includeMarkedContent"`
	DisableNormalization bool `json:"disableNormalization"`
}

func (s *Session) getTextContent(ctx context.Context, data json.RawMessage, sink *rpc.Sink) error {
	req, err := decode[TextContentRequest](data)
	if err != nil {
		return err
	}
	p, err := s.page(ctx, req.PageIndex)
	if err != nil {
		return toWire(err)
	}

	t := task.New(ctx, fmt.Sprintf("GetTextContent: page %d", req.PageIndex))
	s.tasks.Start(t)
	start := time.Now()
	err = p.TextContent(t.Context(), document.TextOptions{
		IncludeMarkedContent: req.IncludeMarkedContent,
		DisableNormalization: req.DisableNormalization,
	}, func(c text.Chunk) error {
		if err := t.EnsureNotTerminated(); err != nil {
			return err
		}
		return sink.Enqueue(c)
	})
	s.tasks.Finish(t)
	if err != nil {
		if t.Terminated() {
			return rpc.ErrAbandon
		}
		return toWire(err)
	}
	if s.timing {
		s.log.Info("getTextContent", "page", req.PageIndex+1, "time", time.Since(start))
	}
	return nil
}
