// Package pdftest builds small synthetic PDF files for tests.
package pdftest

import (
	"bytes"
	"fmt"

	"github.com/tsawler/docworker/core"
	"github.com/tsawler/docworker/crypt"
)

// FileID is the /ID written to every generated file.
var FileID = []byte("0123456789abcdef")

// Options selects the features of a generated file.
type Options struct {
	// Pages defaults to 1.
	Pages int
	// XRefStream writes a cross-reference stream instead of a table.
	XRefStream bool
	// BrokenXRef points startxref at garbage so only a recovery scan can
	// read the file.
	BrokenXRef bool
	// Encrypt protects the file with RC4 and UserPassword.
	Encrypt      bool
	UserPassword string
	// NoID omits the trailer /ID.
	NoID bool

	Info     map[string]string
	Metadata string

	// AcroForm adds a text field and a checkbox on the first page.
	AcroForm bool
	// XFA adds a pure XFA form with a datasets packet.
	XFA bool
	// StructTree tags the first page's text with a P element.
	StructTree bool
	// Navigation adds an outline, page labels, named destinations, an open
	// action and viewer settings.
	Navigation bool
	// Scripts adds document and page JavaScript actions.
	Scripts bool
	// Attachments adds one embedded file.
	Attachments bool
	// PageText returns the text shown on page i; "Page <i+1>" when nil.
	PageText func(i int) string
}

type writer struct {
	buf     bytes.Buffer
	offsets map[int]int64
	enc     core.Encrypter
	encNum  int
	next    int
}

func (w *writer) alloc() core.IndirectRef {
	ref := core.IndirectRef{Number: w.next}
	w.next++
	return ref
}

func (w *writer) put(ref core.IndirectRef, obj core.Object) {
	w.offsets[ref.Number] = int64(w.buf.Len())
	enc := w.enc
	if ref.Number == w.encNum {
		enc = nil
	}
	// generated objects are well formed; only a broken encrypter could fail
	if err := core.WriteIndirectObject(&w.buf, ref, obj, enc); err != nil {
		panic(fmt.Sprintf("pdftest: %v", err))
	}
}

func flate(dict core.Dict, data string) *core.Stream {
	s, err := core.NewFlateStream(dict, []byte(data))
	if err != nil {
		panic(fmt.Sprintf("pdftest: %v", err))
	}
	return s
}

// DatasetsXML is the datasets packet of files built with XFA.
const DatasetsXML = `<xfa:datasets xmlns:xfa="http://www.xfa.org/schema/xfa-data/1.0/"><xfa:data><form1><name>Ada</name><city>Paris</city></form1></xfa:data></xfa:datasets>`

// Build generates a PDF file.
func Build(o Options) []byte {
	if o.Pages <= 0 {
		o.Pages = 1
	}
	w := &writer{offsets: make(map[int]int64), next: 1}
	w.buf.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")

	catalogRef := w.alloc()
	pagesRef := w.alloc()
	fontRef := w.alloc()
	pageRefs := make([]core.IndirectRef, o.Pages)
	contentRefs := make([]core.IndirectRef, o.Pages)
	for i := range pageRefs {
		pageRefs[i] = w.alloc()
		contentRefs[i] = w.alloc()
	}

	trailer := core.Dict{"Root": catalogRef}
	if !o.NoID || o.Encrypt {
		trailer["ID"] = core.Array{core.String(FileID), core.String(FileID)}
	}
	if o.Encrypt {
		encDict, h, err := crypt.NewStandardEncryption(crypt.Options{
			UserPassword:  o.UserPassword,
			OwnerPassword: "owner",
			Permissions:   crypt.PermPrint | crypt.PermCopy,
		}, FileID)
		if err != nil {
			panic(fmt.Sprintf("pdftest: %v", err))
		}
		encRef := w.alloc()
		w.enc = h
		w.encNum = encRef.Number
		w.put(encRef, encDict)
		trailer["Encrypt"] = encRef
	}

	catalog := core.Dict{"Type": core.Name("Catalog"), "Pages": pagesRef}
	pageDicts := make([]core.Dict, o.Pages)
	for i := range pageDicts {
		pageDicts[i] = core.Dict{
			"Type":     core.Name("Page"),
			"Parent":   pagesRef,
			"Contents": contentRefs[i],
		}
	}
	pageContent := make([]string, o.Pages)
	for i := range pageContent {
		text := fmt.Sprintf("Page %d", i+1)
		if o.PageText != nil {
			text = o.PageText(i)
		}
		var s bytes.Buffer
		core.WriteObject(&s, core.String(text))
		pageContent[i] = fmt.Sprintf("BT /F1 12 Tf 72 720 Td %s Tj ET", s.String())
	}

	if len(o.Info) > 0 {
		infoRef := w.alloc()
		info := core.Dict{}
		for k, v := range o.Info {
			info[k] = core.EncodeTextString(v)
		}
		w.put(infoRef, info)
		trailer["Info"] = infoRef
	}
	if o.Metadata != "" {
		ref := w.alloc()
		w.put(ref, &core.Stream{Dict: core.Dict{"Type": core.Name("Metadata"), "Subtype": core.Name("XML")}, Data: []byte(o.Metadata)})
		catalog["Metadata"] = ref
	}

	if o.AcroForm || o.XFA {
		addForm(w, o, catalog, pageRefs[0], pageDicts[0])
	}
	if o.StructTree {
		addStructTree(w, catalog, pageRefs[0], pageDicts[0])
		pageContent[0] = "/P <</MCID 0>> BDC " + pageContent[0] + " EMC"
	}
	if o.Navigation {
		addNavigation(w, catalog, pageRefs)
	}
	if o.Scripts {
		jsRef := w.alloc()
		w.put(jsRef, core.Dict{"S": core.Name("JavaScript"), "JS": core.String("app.alert('hi');")})
		names, _ := catalog["Names"].(core.Dict)
		if names == nil {
			names = core.Dict{}
		}
		names["JavaScript"] = core.Dict{"Names": core.Array{core.String("init"), jsRef}}
		catalog["Names"] = names
		pageDicts[0]["AA"] = core.Dict{"O": core.Dict{"S": core.Name("JavaScript"), "JS": core.String("open();")}}
	}
	if o.Attachments {
		fileRef := w.alloc()
		w.put(fileRef, &core.Stream{Dict: core.Dict{"Type": core.Name("EmbeddedFile")}, Data: []byte("hello attachment")})
		specRef := w.alloc()
		w.put(specRef, core.Dict{
			"Type": core.Name("Filespec"),
			"F":    core.String("notes.txt"),
			"UF":   core.String("notes.txt"),
			"EF":   core.Dict{"F": fileRef},
		})
		names, _ := catalog["Names"].(core.Dict)
		if names == nil {
			names = core.Dict{}
		}
		names["EmbeddedFiles"] = core.Dict{"Names": core.Array{core.String("notes.txt"), specRef}}
		catalog["Names"] = names
	}

	kids := make(core.Array, o.Pages)
	for i := range pageRefs {
		kids[i] = pageRefs[i]
		w.put(pageRefs[i], pageDicts[i])
		w.put(contentRefs[i], flate(core.Dict{}, pageContent[i]))
	}
	w.put(fontRef, core.Dict{
		"Type":     core.Name("Font"),
		"Subtype":  core.Name("Type1"),
		"BaseFont": core.Name("Helvetica"),
		"Encoding": core.Name("WinAnsiEncoding"),
	})
	w.put(pagesRef, core.Dict{
		"Type":      core.Name("Pages"),
		"Kids":      kids,
		"Count":     core.Int(o.Pages),
		"MediaBox":  core.Array{core.Int(0), core.Int(0), core.Int(612), core.Int(792)},
		"Resources": core.Dict{"Font": core.Dict{"F1": fontRef}},
	})
	w.put(catalogRef, catalog)

	var startXRef int64
	if o.XRefStream {
		startXRef = writeXRefStream(w, trailer)
	} else {
		startXRef = writeXRefTable(w, trailer)
	}
	if o.BrokenXRef {
		startXRef = 3
	}
	fmt.Fprintf(&w.buf, "startxref\n%d\n%%%%EOF\n", startXRef)
	return w.buf.Bytes()
}

func writeXRefTable(w *writer, trailer core.Dict) int64 {
	start := int64(w.buf.Len())
	fmt.Fprintf(&w.buf, "xref\n0 %d\n0000000000 65535 f\r\n", w.next)
	for n := 1; n < w.next; n++ {
		fmt.Fprintf(&w.buf, "%010d 00000 n\r\n", w.offsets[n])
	}
	trailer["Size"] = core.Int(w.next)
	w.buf.WriteString("trailer\n")
	core.WriteObject(&w.buf, trailer)
	w.buf.WriteString("\n")
	return start
}

func writeXRefStream(w *writer, trailer core.Dict) int64 {
	ref := w.alloc()
	start := int64(w.buf.Len())
	w.offsets[ref.Number] = start
	var data []byte
	data = append(data, 0, 0, 0, 0, 0, 0xff)
	for n := 1; n < w.next; n++ {
		off := w.offsets[n]
		data = append(data, 1, byte(off>>24), byte(off>>16), byte(off>>8), byte(off), 0)
	}
	dict := trailer.Clone()
	dict["Type"] = core.Name("XRef")
	dict["Size"] = core.Int(w.next)
	dict["W"] = core.Array{core.Int(1), core.Int(4), core.Int(1)}
	s, err := core.NewFlateStream(dict, data)
	if err != nil {
		panic(fmt.Sprintf("pdftest: %v", err))
	}
	// xref streams are never encrypted
	if err := core.WriteIndirectObject(&w.buf, ref, s, nil); err != nil {
		panic(fmt.Sprintf("pdftest: %v", err))
	}
	return start
}

func addForm(w *writer, o Options, catalog core.Dict, pageRef core.IndirectRef, page core.Dict) {
	form := core.Dict{"DA": core.String("/Helv 0 Tf 0 g")}
	var fields, annots core.Array
	if o.AcroForm {
		textRef := w.alloc()
		w.put(textRef, core.Dict{
			"Type": core.Name("Annot"), "Subtype": core.Name("Widget"),
			"FT": core.Name("Tx"), "T": core.String("name"), "V": core.String("Ada"),
			"Rect": core.Array{core.Int(72), core.Int(600), core.Int(272), core.Int(620)},
			"P":    pageRef, "F": core.Int(4),
		})
		onRef, offRef := w.alloc(), w.alloc()
		w.put(onRef, &core.Stream{Dict: core.Dict{"Subtype": core.Name("Form"), "BBox": core.Array{core.Int(0), core.Int(0), core.Int(10), core.Int(10)}}, Data: []byte("0 0 10 10 re f")})
		w.put(offRef, &core.Stream{Dict: core.Dict{"Subtype": core.Name("Form"), "BBox": core.Array{core.Int(0), core.Int(0), core.Int(10), core.Int(10)}}, Data: []byte("")})
		boxRef := w.alloc()
		w.put(boxRef, core.Dict{
			"Type": core.Name("Annot"), "Subtype": core.Name("Widget"),
			"FT": core.Name("Btn"), "T": core.String("agree"), "V": core.Name("Off"), "AS": core.Name("Off"),
			"Rect": core.Array{core.Int(72), core.Int(560), core.Int(82), core.Int(570)},
			"AP":   core.Dict{"N": core.Dict{"Yes": onRef, "Off": offRef}},
			"P":    pageRef, "F": core.Int(4),
		})
		fields = core.Array{textRef, boxRef}
		annots = core.Array{textRef, boxRef}
		form["CO"] = core.Array{textRef}
	}
	if o.XFA {
		tmplRef, dataRef := w.alloc(), w.alloc()
		w.put(tmplRef, &core.Stream{Dict: core.Dict{}, Data: []byte(`<template xmlns="http://www.xfa.org/schema/xfa-template/3.3/"><subform name="form1"/></template>`)})
		w.put(dataRef, &core.Stream{Dict: core.Dict{}, Data: []byte(DatasetsXML)})
		form["XFA"] = core.Array{core.String("template"), tmplRef, core.String("datasets"), dataRef}
		form["DR"] = core.Dict{"Font": core.Dict{"Helv": core.Dict{
			"Type": core.Name("Font"), "Subtype": core.Name("Type1"), "BaseFont": core.Name("Helvetica"),
		}}}
		catalog["NeedsRendering"] = core.Bool(true)
	}
	form["Fields"] = fields
	formRef := w.alloc()
	w.put(formRef, form)
	catalog["AcroForm"] = formRef
	if len(annots) > 0 {
		page["Annots"] = annots
	}
}

func addStructTree(w *writer, catalog core.Dict, pageRef core.IndirectRef, page core.Dict) {
	rootRef, parentRef, docRef, pRef := w.alloc(), w.alloc(), w.alloc(), w.alloc()
	w.put(pRef, core.Dict{"Type": core.Name("StructElem"), "S": core.Name("P"), "P": docRef, "Pg": pageRef, "K": core.Int(0)})
	w.put(docRef, core.Dict{"Type": core.Name("StructElem"), "S": core.Name("Document"), "P": rootRef, "K": core.Array{pRef}})
	w.put(parentRef, core.Dict{"Nums": core.Array{core.Int(0), core.Array{pRef}}})
	w.put(rootRef, core.Dict{
		"Type":              core.Name("StructTreeRoot"),
		"K":                 docRef,
		"ParentTree":        parentRef,
		"ParentTreeNextKey": core.Int(1),
	})
	catalog["StructTreeRoot"] = rootRef
	catalog["MarkInfo"] = core.Dict{"Marked": core.Bool(true)}
	page["StructParents"] = core.Int(0)
}

func addNavigation(w *writer, catalog core.Dict, pageRefs []core.IndirectRef) {
	outlinesRef, item1, item2 := w.alloc(), w.alloc(), w.alloc()
	last := pageRefs[len(pageRefs)-1]
	w.put(item1, core.Dict{
		"Title":  core.String("Chapter 1"),
		"Parent": outlinesRef,
		"Next":   item2,
		"Dest":   core.Array{pageRefs[0], core.Name("XYZ"), core.Int(0), core.Int(792), core.Null{}},
	})
	w.put(item2, core.Dict{
		"Title":  core.String("Chapter 2"),
		"Parent": outlinesRef,
		"Prev":   item1,
		"A":      core.Dict{"S": core.Name("URI"), "URI": core.String("https://example.com/")},
		"F":      core.Int(2),
		"C":      core.Array{core.Int(1), core.Int(0), core.Int(0)},
	})
	w.put(outlinesRef, core.Dict{"Type": core.Name("Outlines"), "First": item1, "Last": item2, "Count": core.Int(2)})
	catalog["Outlines"] = outlinesRef
	catalog["PageLabels"] = core.Dict{"Nums": core.Array{
		core.Int(0), core.Dict{"S": core.Name("r")},
		core.Int(1), core.Dict{"S": core.Name("D"), "P": core.String("A-")},
	}}
	catalog["Names"] = core.Dict{"Dests": core.Dict{"Names": core.Array{
		core.String("end"), core.Array{last, core.Name("Fit")},
		core.String("start"), core.Dict{"D": core.Array{pageRefs[0], core.Name("Fit")}},
	}}}
	catalog["OpenAction"] = core.Array{pageRefs[0], core.Name("FitH"), core.Int(700)}
	catalog["PageLayout"] = core.Name("TwoColumnLeft")
	catalog["PageMode"] = core.Name("UseOutlines")
	catalog["ViewerPreferences"] = core.Dict{"HideToolbar": core.Bool(true), "Direction": core.Name("R2L")}
	catalog["Lang"] = core.String("en-US")
}
