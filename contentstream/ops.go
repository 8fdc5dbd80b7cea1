package contentstream

import (
	"fmt"

	"github.com/tsawler/docworker/core"
)

// OpCode identifies a drawing instruction in an operator list.
type OpCode int

// Operator list codes. Codes up to EndCompat map one to one onto content
// stream operators; the rest are produced while expanding forms, images and
// annotation appearances.
const (
	OpDependency OpCode = iota + 1
	OpSetLineWidth
	OpSetLineCap
	OpSetLineJoin
	OpSetMiterLimit
	OpSetDash
	OpSetRenderingIntent
	OpSetFlatness
	OpSetGState
	OpSave
	OpRestore
	OpTransform
	OpMoveTo
	OpLineTo
	OpCurveTo
	OpCurveTo2
	OpCurveTo3
	OpClosePath
	OpRectangle
	OpStroke
	OpCloseStroke
	OpFill
	OpEOFill
	OpFillStroke
	OpEOFillStroke
	OpCloseFillStroke
	OpCloseEOFillStroke
	OpEndPath
	OpClip
	OpEOClip
	OpBeginText
	OpEndText
	OpSetCharSpacing
	OpSetWordSpacing
	OpSetHScale
	OpSetLeading
	OpSetFont
	OpSetTextRenderingMode
	OpSetTextRise
	OpMoveText
	OpSetLeadingMoveText
	OpSetTextMatrix
	OpNextLine
	OpShowText
	OpShowSpacedText
	OpNextLineShowText
	OpNextLineSetSpacingShowText
	OpSetCharWidth
	OpSetCharWidthAndBounds
	OpSetStrokeColorSpace
	OpSetFillColorSpace
	OpSetStrokeColor
	OpSetStrokeColorN
	OpSetFillColor
	OpSetFillColorN
	OpSetStrokeGray
	OpSetFillGray
	OpSetStrokeRGBColor
	OpSetFillRGBColor
	OpSetStrokeCMYKColor
	OpSetFillCMYKColor
	OpShadingFill
	OpBeginInlineImage
	OpPaintXObject
	OpMarkPoint
	OpMarkPointProps
	OpBeginMarkedContent
	OpBeginMarkedContentProps
	OpEndMarkedContent
	OpBeginCompat
	OpEndCompat
	OpPaintFormXObjectBegin
	OpPaintFormXObjectEnd
	OpBeginAnnotation
	OpEndAnnotation
	OpPaintImageXObject
	OpPaintInlineImageXObject
)

type opInfo struct {
	code     OpCode
	name     string
	numArgs  int
	variable bool // numArgs is a maximum rather than an exact count
}

var operatorTable = map[string]opInfo{
	"w":   {OpSetLineWidth, "setLineWidth", 1, false},
	"J":   {OpSetLineCap, "setLineCap", 1, false},
	"j":   {OpSetLineJoin, "setLineJoin", 1, false},
	"M":   {OpSetMiterLimit, "setMiterLimit", 1, false},
	"d":   {OpSetDash, "setDash", 2, false},
	"ri":  {OpSetRenderingIntent, "setRenderingIntent", 1, false},
	"i":   {OpSetFlatness, "setFlatness", 1, false},
	"gs":  {OpSetGState, "setGState", 1, false},
	"q":   {OpSave, "save", 0, false},
	"Q":   {OpRestore, "restore", 0, false},
	"cm":  {OpTransform, "transform", 6, false},
	"m":   {OpMoveTo, "moveTo", 2, false},
	"l":   {OpLineTo, "lineTo", 2, false},
	"c":   {OpCurveTo, "curveTo", 6, false},
	"v":   {OpCurveTo2, "curveTo2", 4, false},
	"y":   {OpCurveTo3, "curveTo3", 4, false},
	"h":   {OpClosePath, "closePath", 0, false},
	"re":  {OpRectangle, "rectangle", 4, false},
	"S":   {OpStroke, "stroke", 0, false},
	"s":   {OpCloseStroke, "closeStroke", 0, false},
	"f":   {OpFill, "fill", 0, false},
	"F":   {OpFill, "fill", 0, false},
	"f*":  {OpEOFill, "eoFill", 0, false},
	"B":   {OpFillStroke, "fillStroke", 0, false},
	"B*":  {OpEOFillStroke, "eoFillStroke", 0, false},
	"b":   {OpCloseFillStroke, "closeFillStroke", 0, false},
	"b*":  {OpCloseEOFillStroke, "closeEOFillStroke", 0, false},
	"n":   {OpEndPath, "endPath", 0, false},
	"W":   {OpClip, "clip", 0, false},
	"W*":  {OpEOClip, "eoClip", 0, false},
	"BT":  {OpBeginText, "beginText", 0, false},
	"ET":  {OpEndText, "endText", 0, false},
	"Tc":  {OpSetCharSpacing, "setCharSpacing", 1, false},
	"Tw":  {OpSetWordSpacing, "setWordSpacing", 1, false},
	"Tz":  {OpSetHScale, "setHScale", 1, false},
	"TL":  {OpSetLeading, "setLeading", 1, false},
	"Tf":  {OpSetFont, "setFont", 2, false},
	"Tr":  {OpSetTextRenderingMode, "setTextRenderingMode", 1, false},
	"Ts":  {OpSetTextRise, "setTextRise", 1, false},
	"Td":  {OpMoveText, "moveText", 2, false},
	"TD":  {OpSetLeadingMoveText, "setLeadingMoveText", 2, false},
	"Tm":  {OpSetTextMatrix, "setTextMatrix", 6, false},
	"T*":  {OpNextLine, "nextLine", 0, false},
	"Tj":  {OpShowText, "showText", 1, false},
	"TJ":  {OpShowSpacedText, "showSpacedText", 1, false},
	"'":   {OpNextLineShowText, "nextLineShowText", 1, false},
	"\"":  {OpNextLineSetSpacingShowText, "nextLineSetSpacingShowText", 3, false},
	"d0":  {OpSetCharWidth, "setCharWidth", 2, false},
	"d1":  {OpSetCharWidthAndBounds, "setCharWidthAndBounds", 6, false},
	"CS":  {OpSetStrokeColorSpace, "setStrokeColorSpace", 1, false},
	"cs":  {OpSetFillColorSpace, "setFillColorSpace", 1, false},
	"SC":  {OpSetStrokeColor, "setStrokeColor", 4, true},
	"SCN": {OpSetStrokeColorN, "setStrokeColorN", 33, true},
	"sc":  {OpSetFillColor, "setFillColor", 4, true},
	"scn": {OpSetFillColorN, "setFillColorN", 33, true},
	"G":   {OpSetStrokeGray, "setStrokeGray", 1, false},
	"g":   {OpSetFillGray, "setFillGray", 1, false},
	"RG":  {OpSetStrokeRGBColor, "setStrokeRGBColor", 3, false},
	"rg":  {OpSetFillRGBColor, "setFillRGBColor", 3, false},
	"K":   {OpSetStrokeCMYKColor, "setStrokeCMYKColor", 4, false},
	"k":   {OpSetFillCMYKColor, "setFillCMYKColor", 4, false},
	"sh":  {OpShadingFill, "shadingFill", 1, false},
	"BI":  {OpBeginInlineImage, "beginInlineImage", 2, true},
	"Do":  {OpPaintXObject, "paintXObject", 1, false},
	"MP":  {OpMarkPoint, "markPoint", 1, false},
	"DP":  {OpMarkPointProps, "markPointProps", 2, false},
	"BMC": {OpBeginMarkedContent, "beginMarkedContent", 1, false},
	"BDC": {OpBeginMarkedContentProps, "beginMarkedContentProps", 2, false},
	"EMC": {OpEndMarkedContent, "endMarkedContent", 0, false},
	"BX":  {OpBeginCompat, "beginCompat", 0, false},
	"EX":  {OpEndCompat, "endCompat", 0, false},
}

var opNames = func() map[OpCode]string {
	m := map[OpCode]string{
		OpDependency:              "dependency",
		OpPaintFormXObjectBegin:   "paintFormXObjectBegin",
		OpPaintFormXObjectEnd:     "paintFormXObjectEnd",
		OpBeginAnnotation:         "beginAnnotation",
		OpEndAnnotation:           "endAnnotation",
		OpPaintImageXObject:       "paintImageXObject",
		OpPaintInlineImageXObject: "paintInlineImageXObject",
	}
	for _, info := range operatorTable {
		m[info.code] = info.name
	}
	return m
}()

func (c OpCode) String() string {
	if name, ok := opNames[c]; ok {
		return name
	}
	return fmt.Sprintf("OpCode(%d)", int(c))
}

// Lookup returns the op code of a content stream operator.
func Lookup(operator string) (OpCode, bool) {
	info, ok := operatorTable[operator]
	return info.code, ok
}

// Translate checks an operation's operand count and converts it to an op
// code with wire-friendly arguments. Operations with too few operands or
// an unknown operator are rejected; surplus leading operands of fixed-arity
// operators are dropped.
func Translate(op Operation) (OpCode, []any, error) {
	info, ok := operatorTable[op.Operator]
	if !ok {
		return 0, nil, fmt.Errorf("unknown operator %q", op.Operator)
	}
	operands := op.Operands
	if info.variable {
		if len(operands) > info.numArgs {
			return 0, nil, fmt.Errorf("%s: expected at most %d operands, got %d", op.Operator, info.numArgs, len(operands))
		}
	} else {
		if len(operands) < info.numArgs {
			return 0, nil, fmt.Errorf("%s: expected %d operands, got %d", op.Operator, info.numArgs, len(operands))
		}
		operands = operands[len(operands)-info.numArgs:]
	}

	args := make([]any, len(operands))
	for i, o := range operands {
		args[i] = ToValue(o)
	}
	return info.code, args, nil
}

// ToValue converts a PDF object into plain Go values that encode cleanly
// as JSON. Strings keep one rune per byte so binary glyph codes survive.
func ToValue(obj core.Object) any {
	switch v := obj.(type) {
	case nil, core.Null:
		return nil
	case core.Bool:
		return bool(v)
	case core.Int:
		return int64(v)
	case core.Real:
		return float64(v)
	case core.Name:
		return string(v)
	case core.String:
		runes := make([]rune, len(v))
		for i := 0; i < len(v); i++ {
			runes[i] = rune(v[i])
		}
		return string(runes)
	case core.Array:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = ToValue(elem)
		}
		return out
	case core.Dict:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = ToValue(val)
		}
		return out
	case core.IndirectRef:
		return v.Key()
	case *core.Stream:
		return ToValue(v.Dict)
	}
	return nil
}
