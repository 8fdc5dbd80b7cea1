package pages

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tsawler/docworker/core"
)

// Labels expands the catalog's /PageLabels number tree into one label per
// page. It returns nil when the document defines no labels.
func Labels(resolver ObjectResolver, root core.Object, numPages int) ([]string, error) {
	if root == nil {
		return nil, nil
	}

	ranges := make(map[int]core.Dict)
	err := core.WalkNumberTree(resolver, root, func(key int, value core.Object) error {
		resolved, err := resolver.Resolve(value)
		if err != nil {
			return err
		}
		if dict, ok := resolved.(core.Dict); ok && key >= 0 && key < numPages {
			ranges[key] = dict
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read /PageLabels: %w", err)
	}
	if len(ranges) == 0 {
		return nil, nil
	}

	labels := make([]string, numPages)
	var (
		style  core.Name
		prefix string
		n      = 1
	)
	for i := 0; i < numPages; i++ {
		if dict, ok := ranges[i]; ok {
			style, _ = dict.GetName("S")
			prefix = ""
			if p, err := resolver.Resolve(dict.Get("P")); err == nil {
				if s, ok := p.(core.String); ok {
					prefix = core.DecodeTextString(s)
				}
			}
			n = 1
			if st, ok := core.ToInt(dict.Get("St")); ok && st >= 1 {
				n = st
			}
		}
		labels[i] = prefix + formatLabelNumber(style, n)
		n++
	}
	return labels, nil
}

func formatLabelNumber(style core.Name, n int) string {
	switch style {
	case "D":
		return strconv.Itoa(n)
	case "R":
		return toRoman(n)
	case "r":
		return strings.ToLower(toRoman(n))
	case "A":
		return toLetters(n)
	case "a":
		return strings.ToLower(toLetters(n))
	}
	return ""
}

var romanTable = []struct {
	value  int
	symbol string
}{
	{1000, "M"}, {900, "CM"}, {500, "D"}, {400, "CD"},
	{100, "C"}, {90, "XC"}, {50, "L"}, {40, "XL"},
	{10, "X"}, {9, "IX"}, {5, "V"}, {4, "IV"}, {1, "I"},
}

func toRoman(n int) string {
	var sb strings.Builder
	for _, r := range romanTable {
		for n >= r.value {
			sb.WriteString(r.symbol)
			n -= r.value
		}
	}
	return sb.String()
}

// toLetters implements the A..Z, AA..ZZ, AAA.. labelling style.
func toLetters(n int) string {
	letter := byte('A' + (n-1)%26)
	return strings.Repeat(string(letter), (n-1)/26+1)
}
