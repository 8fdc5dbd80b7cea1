package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/tsawler/docworker/annotation"
	"github.com/tsawler/docworker/contentstream"
	"github.com/tsawler/docworker/document"
	"github.com/tsawler/docworker/structtree"
	"github.com/tsawler/docworker/text"
)

// Ref is an object reference.
type Ref struct {
	Num int `json:"num"`
	Gen int `json:"gen"`
}

// PageInfo describes a page.
type PageInfo struct {
	Rotate   int       `json:"rotate"`
	Ref      *Ref      `json:"ref"`
	RefStr   *string   `json:"refStr"`
	UserUnit float64   `json:"userUnit"`
	View     []float64 `json:"view"`
}

type pageRequest struct {
	PageIndex int `json:"pageIndex"`
}

func (d *Document) call(ctx context.Context, action string, req any, out any) error {
	return d.h.Request(ctx, action, req, out)
}

// Page returns the facts of page i.
func (d *Document) Page(ctx context.Context, i int) (*PageInfo, error) {
	var info PageInfo
	if err := d.call(ctx, "GetPage", pageRequest{i}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// PageIndex returns the index of the page object ref.
func (d *Document) PageIndex(ctx context.Context, ref Ref) (int, error) {
	var i int
	err := d.call(ctx, "GetPageIndex", ref, &i)
	return i, err
}

func (d *Document) Destinations(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := d.call(ctx, "GetDestinations", nil, &out)
	return out, err
}

func (d *Document) Destination(ctx context.Context, id string) (any, error) {
	var out any
	err := d.call(ctx, "GetDestination", map[string]string{"id": id}, &out)
	return out, err
}

func (d *Document) PageLabels(ctx context.Context) ([]string, error) {
	var out []string
	err := d.call(ctx, "GetPageLabels", nil, &out)
	return out, err
}

func (d *Document) PageLayout(ctx context.Context) (string, error) {
	var out string
	err := d.call(ctx, "GetPageLayout", nil, &out)
	return out, err
}

func (d *Document) PageMode(ctx context.Context) (string, error) {
	var out string
	err := d.call(ctx, "GetPageMode", nil, &out)
	return out, err
}

func (d *Document) ViewerPreferences(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := d.call(ctx, "GetViewerPreferences", nil, &out)
	return out, err
}

func (d *Document) OpenAction(ctx context.Context) (*document.OpenAction, error) {
	var out *document.OpenAction
	err := d.call(ctx, "GetOpenAction", nil, &out)
	return out, err
}

func (d *Document) Attachments(ctx context.Context) (map[string]*document.Attachment, error) {
	var out map[string]*document.Attachment
	err := d.call(ctx, "GetAttachments", nil, &out)
	return out, err
}

func (d *Document) DocJSActions(ctx context.Context) (map[string][]string, error) {
	var out map[string][]string
	err := d.call(ctx, "GetDocJSActions", nil, &out)
	return out, err
}

func (d *Document) PageJSActions(ctx context.Context, i int) (map[string][]string, error) {
	var out map[string][]string
	err := d.call(ctx, "GetPageJSActions", pageRequest{i}, &out)
	return out, err
}

func (d *Document) Outline(ctx context.Context) ([]*document.OutlineItem, error) {
	var out []*document.OutlineItem
	err := d.call(ctx, "GetOutline", nil, &out)
	return out, err
}

func (d *Document) OptionalContentConfig(ctx context.Context) (*document.OptionalContentConfig, error) {
	var out *document.OptionalContentConfig
	err := d.call(ctx, "GetOptionalContentConfig", nil, &out)
	return out, err
}

func (d *Document) Permissions(ctx context.Context) ([]int32, error) {
	var out []int32
	err := d.call(ctx, "GetPermissions", nil, &out)
	return out, err
}

// Metadata returns the document information dictionary and the XMP
// packet, which is empty when the document has none.
func (d *Document) Metadata(ctx context.Context) (map[string]any, string, error) {
	var out [2]json.RawMessage
	if err := d.call(ctx, "GetMetadata", nil, &out); err != nil {
		return nil, "", err
	}
	var info map[string]any
	if err := json.Unmarshal(out[0], &info); err != nil {
		return nil, "", err
	}
	var xmp *string
	if len(out[1]) > 0 {
		if err := json.Unmarshal(out[1], &xmp); err != nil {
			return nil, "", err
		}
	}
	if xmp == nil {
		return info, "", nil
	}
	return info, *xmp, nil
}

func (d *Document) MarkInfo(ctx context.Context) (map[string]bool, error) {
	var out map[string]bool
	err := d.call(ctx, "GetMarkInfo", nil, &out)
	return out, err
}

// Data returns the complete document bytes.
func (d *Document) Data(ctx context.Context) ([]byte, error) {
	var out []byte
	err := d.call(ctx, "GetData", nil, &out)
	return out, err
}

// Annotations returns the annotations of page i shown for intent.
func (d *Document) Annotations(ctx context.Context, i int, intent string) ([]*annotation.Data, error) {
	var out []*annotation.Data
	err := d.call(ctx, "GetAnnotations", map[string]any{"pageIndex": i, "intent": intent}, &out)
	return out, err
}

func (d *Document) FieldObjects(ctx context.Context) (map[string][]*document.FieldObject, error) {
	var out map[string][]*document.FieldObject
	err := d.call(ctx, "GetFieldObjects", nil, &out)
	return out, err
}

func (d *Document) HasJSActions(ctx context.Context) (bool, error) {
	var out bool
	err := d.call(ctx, "HasJSActions", nil, &out)
	return out, err
}

func (d *Document) CalculationOrderIDs(ctx context.Context) ([]string, error) {
	var out []string
	err := d.call(ctx, "GetCalculationOrderIds", nil, &out)
	return out, err
}

// StructTree returns the structure tree of page i, or nil.
func (d *Document) StructTree(ctx context.Context, i int) (*structtree.Node, error) {
	var out *structtree.Node
	err := d.call(ctx, "GetStructTree", pageRequest{i}, &out)
	return out, err
}

// Cleanup asks the worker to drop its caches.
func (d *Document) Cleanup(ctx context.Context) error {
	return d.call(ctx, "Cleanup", nil, nil)
}

// XFADatasets returns the XFA datasets packet, or nil.
func (d *Document) XFADatasets(ctx context.Context) (*string, error) {
	var out *string
	err := d.call(ctx, "GetXFADatasets", nil, &out)
	return out, err
}

// XRefPrevValue returns the /Prev of the last trailer, or nil.
func (d *Document) XRefPrevValue(ctx context.Context) (*int64, error) {
	var out *int64
	err := d.call(ctx, "GetXRefPrevValue", nil, &out)
	return out, err
}

func (d *Document) StartXRefPos(ctx context.Context) (int64, error) {
	var out int64
	err := d.call(ctx, "GetStartXRefPos", nil, &out)
	return out, err
}

// AnnotArray returns the references of the /Annots entries of page i.
func (d *Document) AnnotArray(ctx context.Context, i int) ([]string, error) {
	var out []string
	err := d.call(ctx, "GetAnnotArray", pageRequest{i}, &out)
	return out, err
}

// SaveRequest is the SaveDocument payload. AnnotationStorage maps
// annotation ids to their edited values.
type SaveRequest struct {
	IsPureXFA         bool                       `json:"isPureXfa"`
	NumPages          int                        `json:"numPages"`
	AnnotationStorage map[string]json.RawMessage `json:"annotationStorage"`
	Filename          string                     `json:"filename,omitempty"`
}

// Save returns the document with the edits applied as an incremental
// update. Without edits the original bytes come back.
func (d *Document) Save(ctx context.Context, req SaveRequest) ([]byte, error) {
	var out []byte
	err := d.call(ctx, "SaveDocument", req, &out)
	return out, err
}

// OperatorListOptions selects what GetOperatorList renders.
type OperatorListOptions struct {
	Intent         string `json:"intent"`
	AnnotationMode int    `json:"annotationMode"`
	ChunkSize      int    `json:"chunkSize,omitempty"`
}

// OperatorList streams the operator list of page i to fn chunk by chunk.
// An error from fn cancels the stream.
func (d *Document) OperatorList(ctx context.Context, i int, opts OperatorListOptions, fn func(contentstream.Chunk) error) error {
	req := struct {
		PageIndex int `json:"pageIndex"`
		OperatorListOptions
	}{i, opts}
	return stream(ctx, d, "GetOperatorList", req, fn)
}

// TextContentOptions controls GetTextContent.
type TextContentOptions struct {
	IncludeMarkedContent bool `json:"includeMarkedContent"`
	DisableNormalization bool `json:"disableNormalization"`
}

// TextContent streams the text of page i to fn chunk by chunk.
func (d *Document) TextContent(ctx context.Context, i int, opts TextContentOptions, fn func(text.Chunk) error) error {
	req := struct {
		PageIndex int `json:"pageIndex"`
		TextContentOptions
	}{i, opts}
	return stream(ctx, d, "GetTextContent", req, fn)
}

func stream[T any](ctx context.Context, d *Document, action string, req any, fn func(T) error) error {
	r, err := d.h.RequestStream(ctx, action, req)
	if err != nil {
		return err
	}
	for {
		raw, err := r.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		var chunk T
		if err := json.Unmarshal(raw, &chunk); err != nil {
			_ = r.Cancel(ctx, err.Error())
			return err
		}
		if err := fn(chunk); err != nil {
			_ = r.Cancel(ctx, err.Error())
			return err
		}
	}
}
