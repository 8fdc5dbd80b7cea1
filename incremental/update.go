package incremental

import (
	"bytes"
	"crypto/md5"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/tsawler/docworker/core"
)

// now feeds the time component of the new file identifier.
var now = time.Now

// XRefInfo describes the trailer of the update.
type XRefInfo struct {
	RootRef    *core.IndirectRef
	EncryptRef *core.IndirectRef
	InfoRef    *core.IndirectRef
	// NewRef is allocated after every object of the update; the xref stream
	// is written there and the table /Size derives from it.
	NewRef core.IndirectRef
	// Info holds the string entries of the document information dictionary.
	Info map[string]string
	// FileIDs is the original /ID array; the first element is kept.
	FileIDs   core.Array
	StartXRef int64
	Filename  string
}

// Options configures one incremental update.
type Options struct {
	Original []byte
	XRefInfo XRefInfo
	Changes  *core.ChangeSet
	Resolver core.Resolver
	// Encrypter encrypts the rewritten form objects of encrypted files.
	Encrypter core.Encrypter

	HasXFA              bool
	XFADatasetsRef      *core.IndirectRef
	HasXFADatasetsEntry bool
	XFAData             []byte

	NeedAppearances bool
	AcroFormRef     *core.IndirectRef
	AcroForm        core.Dict

	UseXRefStream bool
	Logger        *slog.Logger
}

func (o *Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Write appends the changed objects and a new cross-reference section to
// the original bytes and returns the new file.
func Write(o Options) ([]byte, error) {
	if o.Changes == nil {
		return nil, errors.New("incremental update without change set")
	}
	if err := updateAcroForm(&o); err != nil {
		return nil, err
	}
	if o.HasXFA {
		if err := updateXFA(&o); err != nil {
			return nil, err
		}
	}

	trailer := trailerDict(&o)

	var buf bytes.Buffer
	buf.Write(o.Original)
	baseOffset := int64(len(o.Original))
	if n := len(o.Original); n > 0 && o.Original[n-1] != '\n' && o.Original[n-1] != '\r' {
		buf.WriteByte('\n')
		baseOffset++
	}

	var entries []entry
	offset := baseOffset
	for _, ref := range o.Changes.Refs() {
		ch, _ := o.Changes.Get(ref)
		// object 0 heads the free list and is never rewritten
		if len(ch.Data) == 0 || ref.Number == 0 {
			continue
		}
		entries = append(entries, entry{ref: ref, offset: offset})
		buf.Write(ch.Data)
		offset += int64(len(ch.Data))
	}

	computeID(&o, trailer, baseOffset)
	if o.UseXRefStream {
		entries = append(entries, entry{ref: o.XRefInfo.NewRef, offset: offset})
		if err := writeXRefStream(&buf, o.XRefInfo.NewRef, trailer, entries); err != nil {
			return nil, err
		}
	} else {
		writeXRefTable(&buf, trailer, entries)
	}
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", offset)
	return buf.Bytes(), nil
}

type entry struct {
	ref    core.IndirectRef
	offset int64
}

// updateAcroForm rewrites the form dictionary when appearances must be
// regenerated or an XFA array lacks its datasets entry.
func updateAcroForm(o *Options) error {
	if o.HasXFA && !o.HasXFADatasetsEntry && o.XFADatasetsRef == nil {
		o.logger().Warn("XFA - cannot save it")
	}
	if !o.NeedAppearances && (!o.HasXFA || o.XFADatasetsRef == nil || o.HasXFADatasetsEntry) {
		return nil
	}
	if o.AcroFormRef == nil || o.AcroForm == nil {
		return nil
	}
	dict := o.AcroForm.Clone()
	if o.HasXFA && !o.HasXFADatasetsEntry {
		var xfa core.Array
		if o.Resolver != nil {
			if obj, err := o.Resolver.Resolve(dict.Get("XFA")); err == nil {
				xfa, _ = obj.(core.Array)
			}
		}
		n := min(2, len(xfa))
		next := append(core.Array{}, xfa[:n]...)
		next = append(next, core.String("datasets"), *o.XFADatasetsRef)
		next = append(next, xfa[n:]...)
		dict["XFA"] = next
	}
	if o.NeedAppearances {
		dict["NeedAppearances"] = core.Bool(true)
	}
	return o.Changes.PutObject(*o.AcroFormRef, dict, o.Encrypter, false)
}

// updateXFA stores the serialized datasets packet.
func updateXFA(o *Options) error {
	if o.XFAData == nil {
		return nil
	}
	if o.XFADatasetsRef == nil {
		o.logger().Warn("XFA - cannot save it")
		return nil
	}
	stream := &core.Stream{
		Dict: core.Dict{"Type": core.Name("EmbeddedFile")},
		Data: o.XFAData,
	}
	return o.Changes.PutObject(*o.XFADatasetsRef, stream, o.Encrypter, false)
}

func trailerDict(o *Options) core.Dict {
	info := o.XRefInfo
	t := core.Dict{"Prev": core.Int(info.StartXRef)}
	if o.UseXRefStream {
		t["Size"] = core.Int(info.NewRef.Number + 1)
		t["Type"] = core.Name("XRef")
	} else {
		t["Size"] = core.Int(info.NewRef.Number)
	}
	if info.RootRef != nil {
		t["Root"] = *info.RootRef
	}
	if info.InfoRef != nil {
		t["Info"] = *info.InfoRef
	}
	if info.EncryptRef != nil {
		t["Encrypt"] = *info.EncryptRef
	}
	return t
}

// computeID keeps the permanent identifier and derives a new changing one
// from the time, the file name, the size and the info strings.
func computeID(o *Options, trailer core.Dict, size int64) {
	ids := o.XRefInfo.FileIDs
	if len(ids) == 0 {
		return
	}
	h := md5.New()
	h.Write([]byte(strconv.FormatInt(now().Unix(), 10)))
	h.Write([]byte(o.XRefInfo.Filename))
	h.Write([]byte(strconv.FormatInt(size, 10)))
	keys := make([]string, 0, len(o.XRefInfo.Info))
	for k := range o.XRefInfo.Info {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(o.XRefInfo.Info[k]))
	}
	trailer["ID"] = core.Array{ids[0], core.String(h.Sum(nil))}
}

// runs groups sorted object numbers into [first count] subsections.
func runs(nums []int) [][2]int {
	var out [][2]int
	for _, n := range nums {
		if len(out) > 0 {
			last := &out[len(out)-1]
			if last[0]+last[1] == n {
				last[1]++
				continue
			}
		}
		out = append(out, [2]int{n, 1})
	}
	return out
}

func writeXRefTable(buf *bytes.Buffer, trailer core.Dict, entries []entry) {
	buf.WriteString("xref\n0 1\n0000000000 65535 f\r\n")
	nums := make([]int, len(entries))
	for i, e := range entries {
		nums[i] = e.ref.Number
	}
	i := 0
	for _, run := range runs(nums) {
		fmt.Fprintf(buf, "%d %d\n", run[0], run[1])
		for j := 0; j < run[1]; j++ {
			e := entries[i]
			fmt.Fprintf(buf, "%010d %05d n\r\n", e.offset, min(e.ref.Generation, 0xffff))
			i++
		}
	}
	buf.WriteString("trailer\n")
	core.WriteObject(buf, trailer)
	buf.WriteString("\n")
}

func byteWidth(v int64) int {
	n := 1
	for v > 0xff {
		v >>= 8
		n++
	}
	return n
}

func putBE(out []byte, v int64) {
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
}

func writeXRefStream(buf *bytes.Buffer, ref core.IndirectRef, trailer core.Dict, entries []entry) error {
	var maxOffset int64
	maxGen := 0
	for _, e := range entries {
		maxOffset = max(maxOffset, e.offset)
		maxGen = max(maxGen, e.ref.Generation)
	}
	w := [3]int{1, byteWidth(maxOffset), byteWidth(int64(maxGen))}

	nums := make([]int, len(entries))
	for i, e := range entries {
		nums[i] = e.ref.Number
	}
	var index core.Array
	for _, run := range runs(nums) {
		index = append(index, core.Int(run[0]), core.Int(run[1]))
	}

	row := make([]byte, w[0]+w[1]+w[2])
	data := make([]byte, 0, len(entries)*len(row))
	for _, e := range entries {
		row[0] = 1
		putBE(row[w[0]:w[0]+w[1]], e.offset)
		putBE(row[w[0]+w[1]:], int64(e.ref.Generation))
		data = append(data, row...)
	}

	dict := trailer.Clone()
	dict["W"] = core.Array{core.Int(w[0]), core.Int(w[1]), core.Int(w[2])}
	dict["Index"] = index
	stream, err := core.NewFlateStream(dict, data)
	if err != nil {
		return fmt.Errorf("failed to compress xref stream: %w", err)
	}
	return core.WriteIndirectObject(buf, ref, stream, nil)
}
