package core

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"sort"
)

// testDoc assembles a classic-xref PDF from object bodies keyed by object
// number. The body is everything between "N 0 obj" and "endobj".
type testDoc struct {
	objects map[int]string
	trailer string
}

func (d testDoc) build() ([]byte, map[int]int64) {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n%\xE2\xE3\xCF\xD3\n")

	nums := make([]int, 0, len(d.objects))
	for n := range d.objects {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	offsets := make(map[int]int64)
	maxNum := 0
	for _, n := range nums {
		offsets[n] = int64(buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", n, d.objects[n])
		if n > maxNum {
			maxNum = n
		}
	}

	xrefPos := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", maxNum+1)
	for i := 1; i <= maxNum; i++ {
		if off, ok := offsets[i]; ok {
			fmt.Fprintf(&buf, "%010d 00000 n \n", off)
		} else {
			buf.WriteString("0000000000 65535 f \n")
		}
	}
	trailer := d.trailer
	if trailer == "" {
		trailer = fmt.Sprintf("<< /Size %d /Root 1 0 R >>", maxNum+1)
	}
	fmt.Fprintf(&buf, "trailer\n%s\nstartxref\n%d\n%%%%EOF\n", trailer, xrefPos)
	return buf.Bytes(), offsets
}

func simpleDoc() testDoc {
	return testDoc{objects: map[int]string{
		1: "<< /Type /Catalog /Pages 2 0 R >>",
		2: "<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		3: "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R >>",
		4: "<< /Length 43 >>\nstream\nBT /F1 24 Tf 100 700 Td (Hello World) Tj ET\nendstream",
	}}
}

func zlibBytes(data []byte) []byte {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	w.Write(data)
	w.Close()
	return buf.Bytes()
}
