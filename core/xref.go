package core

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
)

// XRefEntryType distinguishes the three kinds of cross-reference entries.
type XRefEntryType int

const (
	XRefEntryFree         XRefEntryType = 0
	XRefEntryUncompressed XRefEntryType = 1
	XRefEntryCompressed   XRefEntryType = 2
)

// XRefEntry represents a single cross-reference entry.
//
// For uncompressed entries Offset is the byte offset of "N G obj" and
// Generation the generation number. For compressed entries Offset holds the
// object number of the containing object stream and Generation the index of
// the object within it.
type XRefEntry struct {
	Type       XRefEntryType
	Offset     int64
	Generation int
	InUse      bool
}

// XRefTable represents one cross-reference section with its trailer.
type XRefTable struct {
	Entries  map[int]*XRefEntry // Map from object number to XRef entry
	Trailer  Dict               // Trailer dictionary (stream dict for xref streams)
	IsStream bool               // true when the section is an xref stream
}

// NewXRefTable creates a new empty XRef table
func NewXRefTable() *XRefTable {
	return &XRefTable{
		Entries: make(map[int]*XRefEntry),
		Trailer: make(Dict),
	}
}

// Get retrieves an XRef entry by object number
func (x *XRefTable) Get(objNum int) (*XRefEntry, bool) {
	entry, ok := x.Entries[objNum]
	return entry, ok
}

// Set adds or updates an XRef entry
func (x *XRefTable) Set(objNum int, entry *XRefEntry) {
	x.Entries[objNum] = entry
}

// Size returns the number of entries in the table
func (x *XRefTable) Size() int {
	return len(x.Entries)
}

// XRefParser parses cross-reference sections from random-access input.
type XRefParser struct {
	reader io.ReaderAt
	size   int64
}

// NewXRefParser creates a new XRef parser over the first size bytes of r.
func NewXRefParser(r io.ReaderAt, size int64) *XRefParser {
	return &XRefParser{reader: r, size: size}
}

// FindXRef finds the byte offset of the newest cross-reference section by
// scanning the tail of the file for "startxref".
func (x *XRefParser) FindXRef() (int64, error) {
	readSize := int64(1024)
	if x.size < readSize {
		readSize = x.size
	}

	buf := make([]byte, readSize)
	n, err := x.reader.ReadAt(buf, x.size-readSize)
	if err != nil && err != io.EOF {
		return 0, fmt.Errorf("failed to read startxref area: %w", err)
	}
	buf = buf[:n]

	idx := bytes.LastIndex(buf, []byte("startxref"))
	if idx == -1 {
		return 0, fmt.Errorf("startxref not found in PDF")
	}

	rest := bytes.TrimLeft(buf[idx+len("startxref"):], " \t\r\n\f\x00")
	end := 0
	for end < len(rest) && isDigit(rest[end]) {
		end++
	}
	if end == 0 {
		return 0, fmt.Errorf("invalid startxref format")
	}
	offset, err := strconv.ParseInt(string(rest[:end]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid xref offset: %w", err)
	}
	return offset, nil
}

func (x *XRefParser) section(offset int64) io.Reader {
	return io.NewSectionReader(x.reader, offset, x.size-offset)
}

// isXRefStream reports whether the section at offset 0 of the parser input
// is an xref stream ("N G obj") rather than a classic "xref" table.
func (x *XRefParser) isXRefStream() (bool, error) {
	return x.isXRefStreamAt(0)
}

func (x *XRefParser) isXRefStreamAt(offset int64) (bool, error) {
	lexer := NewLexerAt(x.section(offset), offset)
	tok, err := lexer.NextToken()
	for err == nil && tok.Type == TokenComment {
		tok, err = lexer.NextToken()
	}
	if err != nil {
		return false, err
	}
	switch {
	case tok.Type == TokenKeyword && string(tok.Value) == "xref":
		return false, nil
	case tok.Type == TokenInteger:
		return true, nil
	}
	return false, fmt.Errorf("no xref section at offset %d", offset)
}

// ParseXRef parses the cross-reference section at the given byte offset,
// dispatching on whether it is a classic table or an xref stream.
func (x *XRefParser) ParseXRef(offset int64) (*XRefTable, error) {
	if offset < 0 || offset >= x.size {
		return nil, fmt.Errorf("xref offset %d outside file of %d bytes", offset, x.size)
	}
	isStream, err := x.isXRefStreamAt(offset)
	if err != nil {
		return nil, err
	}
	if isStream {
		return x.parseXRefStreamAt(offset)
	}
	return x.parseXRefTableAt(offset)
}

// parseXRefTableAt reads "xref", the subsections and the trailer. Entries are
// read token by token so both 19 and 20 byte entry lines are accepted.
func (x *XRefParser) parseXRefTableAt(offset int64) (*XRefTable, error) {
	lexer := NewLexerAt(x.section(offset), offset)

	tok, err := lexer.NextToken()
	if err != nil {
		return nil, err
	}
	if tok.Type != TokenKeyword || string(tok.Value) != "xref" {
		return nil, fmt.Errorf("expected 'xref' keyword, got %q", tok.Value)
	}

	table := NewXRefTable()
	for {
		tok, err = lexer.NextToken()
		if err != nil {
			return nil, err
		}
		if tok.Type == TokenKeyword && string(tok.Value) == "trailer" {
			break
		}
		if tok.Type != TokenInteger {
			return nil, fmt.Errorf("invalid subsection header at offset %d", tok.Pos)
		}
		first, _ := strconv.Atoi(string(tok.Value))

		tok, err = lexer.NextToken()
		if err != nil {
			return nil, err
		}
		if tok.Type != TokenInteger {
			return nil, fmt.Errorf("invalid subsection count at offset %d", tok.Pos)
		}
		count, _ := strconv.Atoi(string(tok.Value))

		for i := 0; i < count; i++ {
			entry, err := parseTableEntry(lexer)
			if err != nil {
				return nil, fmt.Errorf("failed to parse xref entry %d: %w", first+i, err)
			}
			// Some writers number the first subsection from 1 while still
			// writing the free list head first.
			num := first + i
			if i == 0 && first == 1 && entry.Type == XRefEntryFree && entry.Generation == 65535 {
				num = 0
				first = 0
			}
			if _, exists := table.Entries[num]; !exists {
				table.Set(num, entry)
			}
		}
	}

	trailerPos := lexer.Pos()
	parser := NewParserAt(x.section(trailerPos), trailerPos)
	obj, err := parser.ParseObject()
	if err != nil {
		return nil, fmt.Errorf("failed to parse trailer dictionary: %w", err)
	}
	dict, ok := obj.(Dict)
	if !ok {
		return nil, fmt.Errorf("trailer is not a dictionary, got %T", obj)
	}
	table.Trailer = dict
	return table, nil
}

func parseTableEntry(lexer *Lexer) (*XRefEntry, error) {
	offTok, err := lexer.NextToken()
	if err != nil {
		return nil, err
	}
	genTok, err := lexer.NextToken()
	if err != nil {
		return nil, err
	}
	flagTok, err := lexer.NextToken()
	if err != nil {
		return nil, err
	}
	if offTok.Type != TokenInteger || genTok.Type != TokenInteger || flagTok.Type != TokenKeyword {
		return nil, fmt.Errorf("malformed entry at offset %d", offTok.Pos)
	}
	offset, err := strconv.ParseInt(string(offTok.Value), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid offset %q: %w", offTok.Value, err)
	}
	gen, err := strconv.Atoi(string(genTok.Value))
	if err != nil {
		return nil, fmt.Errorf("invalid generation %q: %w", genTok.Value, err)
	}
	switch string(flagTok.Value) {
	case "n":
		return &XRefEntry{Type: XRefEntryUncompressed, Offset: offset, Generation: gen, InUse: true}, nil
	case "f":
		return &XRefEntry{Type: XRefEntryFree, Offset: offset, Generation: gen}, nil
	}
	return nil, fmt.Errorf("invalid in-use flag: %q", flagTok.Value)
}

// parseXRefStream parses an xref stream located at offset 0 of the input.
func (x *XRefParser) parseXRefStream() (*XRefTable, error) {
	return x.parseXRefStreamAt(0)
}

func (x *XRefParser) parseXRefStreamAt(offset int64) (*XRefTable, error) {
	parser := NewParserAt(x.section(offset), offset)
	indObj, err := parser.ParseIndirectObject()
	if err != nil {
		return nil, fmt.Errorf("failed to parse xref stream object: %w", err)
	}
	stream, ok := indObj.Object.(*Stream)
	if !ok {
		return nil, fmt.Errorf("xref stream object is %T, not a stream", indObj.Object)
	}
	if !stream.Dict.IsType("XRef") {
		return nil, fmt.Errorf("stream at offset %d is not /Type /XRef", offset)
	}

	wArr, ok := stream.Dict.GetArray("W")
	if !ok || len(wArr) != 3 {
		return nil, fmt.Errorf("xref stream has invalid /W")
	}
	w := make([]int, 3)
	rowLen := 0
	for i, v := range wArr {
		n, ok := ToInt(v)
		if !ok || n < 0 || n > 8 {
			return nil, fmt.Errorf("xref stream has invalid /W width %v", v)
		}
		w[i] = n
		rowLen += n
	}
	if rowLen == 0 {
		return nil, fmt.Errorf("xref stream has zero-width rows")
	}

	size, _ := stream.Dict.GetInt("Size")
	index := []int{0, int(size)}
	if idx, ok := stream.Dict.GetArray("Index"); ok {
		index = index[:0]
		for _, v := range idx {
			n, ok := ToInt(v)
			if !ok {
				return nil, fmt.Errorf("xref stream has invalid /Index")
			}
			index = append(index, n)
		}
		if len(index)%2 != 0 {
			return nil, fmt.Errorf("xref stream /Index has odd length")
		}
	}

	data, err := stream.Decode()
	if err != nil {
		return nil, fmt.Errorf("failed to decode xref stream: %w", err)
	}

	table := NewXRefTable()
	table.IsStream = true
	table.Trailer = stream.Dict

	pos := 0
	for i := 0; i < len(index); i += 2 {
		first, count := index[i], index[i+1]
		for j := 0; j < count; j++ {
			if pos >= len(data) {
				return table, nil
			}
			entry, n, err := x.parseXRefStreamEntry(data[pos:], w)
			if err != nil {
				return nil, fmt.Errorf("failed to parse xref stream entry %d: %w", first+j, err)
			}
			pos += n
			if _, exists := table.Entries[first+j]; !exists {
				table.Set(first+j, entry)
			}
		}
	}
	return table, nil
}

// parseXRefStreamEntry decodes one binary row. A zero-width type field
// defaults to type 1.
func (x *XRefParser) parseXRefStreamEntry(data []byte, w []int) (*XRefEntry, int, error) {
	total := w[0] + w[1] + w[2]
	if len(data) < total {
		return nil, 0, fmt.Errorf("need %d bytes, have %d", total, len(data))
	}

	typ := int64(1)
	if w[0] > 0 {
		typ = readBigEndianInt(data[:w[0]], w[0])
	}
	field1 := readBigEndianInt(data[w[0]:w[0]+w[1]], w[1])
	field2 := readBigEndianInt(data[w[0]+w[1]:total], w[2])

	entry := &XRefEntry{Offset: field1, Generation: int(field2)}
	switch typ {
	case 0:
		entry.Type = XRefEntryFree
	case 1:
		entry.Type = XRefEntryUncompressed
		entry.InUse = true
	case 2:
		entry.Type = XRefEntryCompressed
		entry.InUse = true
	default:
		// Unknown types are treated as references to the null object.
		entry.Type = XRefEntryFree
	}
	return entry, total, nil
}

// readBigEndianInt reads an unsigned big-endian integer of the given width.
func readBigEndianInt(data []byte, width int) int64 {
	var v int64
	for i := 0; i < width && i < len(data); i++ {
		v = v<<8 | int64(data[i])
	}
	return v
}

// MergeXRefTables merges multiple XRef tables (from incremental updates)
// Later entries override earlier ones
func MergeXRefTables(tables ...*XRefTable) *XRefTable {
	merged := NewXRefTable()
	for _, table := range tables {
		for objNum, entry := range table.Entries {
			merged.Set(objNum, entry)
		}
		merged.Trailer = table.Trailer
		merged.IsStream = table.IsStream
	}
	return merged
}

// ParseAllXRefs parses the section at startXRef and every section reachable
// through /Prev and /XRefStm. Tables are returned oldest first.
func (x *XRefParser) ParseAllXRefs(startXRef int64) ([]*XRefTable, error) {
	var tables []*XRefTable
	visited := make(map[int64]bool)

	pending := []int64{startXRef}
	for len(pending) > 0 {
		offset := pending[0]
		pending = pending[1:]
		if visited[offset] {
			continue
		}
		visited[offset] = true

		table, err := x.ParseXRef(offset)
		if err != nil {
			return nil, &XRefParseError{Offset: offset, Err: err}
		}

		// Hybrid files: the XRefStm stream fills entries that the table
		// lists as free or omits.
		if stm, ok := table.Trailer.GetInt("XRefStm"); ok && !visited[int64(stm)] {
			visited[int64(stm)] = true
			if hybrid, err := x.ParseXRef(int64(stm)); err == nil {
				for num, entry := range hybrid.Entries {
					if cur, ok := table.Entries[num]; !ok || cur.Type == XRefEntryFree {
						table.Set(num, entry)
					}
				}
			}
		}
		tables = append([]*XRefTable{table}, tables...)

		if prev, ok := table.Trailer.GetInt("Prev"); ok {
			pending = append(pending, int64(prev))
		}
	}
	return tables, nil
}
