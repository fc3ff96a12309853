package resources

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var disablePDFConfigDir sync.Once

// pdfText extracts the text shown by a PDF's content streams. pdfcpu writes the
// decoded page streams to disk; the text operators in them are then decoded here.
func pdfText(body []byte) (string, error) {
	disablePDFConfigDir.Do(api.DisableConfigDir)

	dir, err := os.MkdirTemp("", "quizchain-pdf-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.ExtractContent(bytes.NewReader(body), dir, "resource", nil, conf); err != nil {
		return "", err
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.txt"))
	if err != nil {
		return "", err
	}
	sort.Slice(files, func(i, j int) bool { return pageOrder(files[i]) < pageOrder(files[j]) })

	var pages []string
	for _, file := range files {
		stream, err := os.ReadFile(file)
		if err != nil {
			return "", err
		}
		if text := strings.TrimSpace(contentStreamText(stream)); text != "" {
			pages = append(pages, text)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}

// pageOrder sorts "resource_Content_page_10.txt" after "..._page_9.txt".
func pageOrder(name string) string {
	base := strings.TrimSuffix(filepath.Base(name), ".txt")
	i := strings.LastIndexByte(base, '_')
	if i < 0 {
		return base
	}
	return base[:i+1] + strings.Repeat("0", max(0, 6-len(base[i+1:]))) + base[i+1:]
}

// contentStreamText walks a page content stream and collects the operands of
// the Tj, TJ, ' and " operators. Td, TD, T* and ET start a new line.
func contentStreamText(stream []byte) string {
	var (
		out     strings.Builder
		pending []string
		line    strings.Builder
	)
	flushLine := func() {
		if s := strings.TrimSpace(line.String()); s != "" {
			out.WriteString(s)
			out.WriteByte('\n')
		}
		line.Reset()
	}
	s := stream
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '(':
			str, next := readLiteral(s, i)
			pending = append(pending, str)
			i = next
		case c == '<' && i+1 < len(s) && s[i+1] != '<':
			str, next := readHex(s, i)
			pending = append(pending, str)
			i = next
		case c == '[' || c == ']':
			i++
		case c == '%':
			for i < len(s) && s[i] != '\n' && s[i] != '\r' {
				i++
			}
		case isPDFSpace(c):
			i++
		default:
			start := i
			for i < len(s) && !isPDFSpace(s[i]) && !strings.ContainsRune("()<>[]/%", rune(s[i])) {
				i++
			}
			if i == start {
				i++
				continue
			}
			token := string(s[start:i])
			if isPDFNumber(token) {
				continue
			}
			switch token {
			case "Tj", "TJ":
				line.WriteString(strings.Join(pending, ""))
			case "'", "\"":
				flushLine()
				line.WriteString(strings.Join(pending, ""))
			case "Td", "TD", "T*", "ET":
				flushLine()
			}
			pending = pending[:0]
		}
	}
	flushLine()
	return out.String()
}

func isPDFNumber(token string) bool {
	c := token[0]
	return (c >= '0' && c <= '9') || c == '-' || c == '+' || c == '.'
}

func isPDFSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == 0
}

func readLiteral(s []byte, i int) (string, int) {
	var b strings.Builder
	depth := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s):
			i++
			switch e := s[i]; e {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case 'b', 'f':
			case '\r', '\n':
			default:
				if e >= '0' && e <= '7' {
					v, n := 0, 0
					for n < 3 && i < len(s) && s[i] >= '0' && s[i] <= '7' {
						v = v*8 + int(s[i]-'0')
						i++
						n++
					}
					b.WriteByte(byte(v))
					continue
				}
				b.WriteByte(e)
			}
			i++
			continue
		case c == '(':
			depth++
			if depth > 1 {
				b.WriteByte(c)
			}
		case c == ')':
			depth--
			if depth == 0 {
				return b.String(), i + 1
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
		i++
	}
	return b.String(), i
}

func readHex(s []byte, i int) (string, int) {
	i++
	var digits []byte
	for i < len(s) && s[i] != '>' {
		if c := s[i]; (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') {
			digits = append(digits, c)
		}
		i++
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, 0, len(digits)/2)
	for j := 0; j+1 < len(digits); j += 2 {
		out = append(out, hexNibble(digits[j])<<4|hexNibble(digits[j+1]))
	}
	if len(out) >= 2 && len(out)%2 == 0 && out[0] == 0 {
		// two-byte glyph codes with a zero high byte: keep the low bytes
		narrow := make([]byte, 0, len(out)/2)
		for j := 1; j < len(out); j += 2 {
			narrow = append(narrow, out[j])
		}
		out = narrow
	}
	return string(out), i + 1
}

func hexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
