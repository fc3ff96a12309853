package resources

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"math"
	"mime"
	"path"
	"strconv"
	"strings"

	"github.com/22f2001388/llm-analysis-quiz/internal/faults"
	"github.com/22f2001388/llm-analysis-quiz/internal/htmltext"
)

// MaxRawContent bounds the text kept for resources that could not be tabulated.
const MaxRawContent = 15000

// numericShare is the fraction of non-empty cells that must parse as numbers
// for a column to be coerced.
const numericShare = 0.6

type format string

const (
	formatCSV  format = "csv"
	formatTSV  format = "tsv"
	formatJSON format = "json"
	formatPDF  format = "pdf"
	formatHTML format = "html"
	formatText format = "text"
)

func detectFormat(contentType, url string) format {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch {
	case mediaType == "text/csv" || mediaType == "application/csv":
		return formatCSV
	case mediaType == "text/tab-separated-values":
		return formatTSV
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		return formatJSON
	case mediaType == "application/pdf":
		return formatPDF
	case mediaType == "text/html":
		return formatHTML
	}
	switch strings.ToLower(path.Ext(nameFromURL(url))) {
	case ".csv":
		return formatCSV
	case ".tsv", ".tab":
		return formatTSV
	case ".json":
		return formatJSON
	case ".pdf":
		return formatPDF
	case ".html", ".htm":
		return formatHTML
	}
	return formatText
}

// Convert turns a downloaded file into a StructuredResource. Files that cannot
// be tabulated come back as the raw variant; Convert never fails.
func Convert(f Fetched) StructuredResource {
	base := StructuredResource{
		Name:        nameFromURL(f.URL),
		SourceURL:   f.URL,
		ContentType: f.ContentType,
		Headers:     []string{},
		Rows:        [][]any{},
	}
	switch detectFormat(f.ContentType, f.URL) {
	case formatCSV:
		if table, err := parseDelimited(f.Body, ','); err == nil {
			return withTable(base, table)
		}
	case formatTSV:
		if table, err := parseDelimited(f.Body, '\t'); err == nil {
			return withTable(base, table)
		}
	case formatJSON:
		if table, ok := normalizeJSON(f.Body); ok {
			return withTable(base, table)
		}
	case formatPDF:
		if text, err := pdfText(f.Body); err == nil && strings.TrimSpace(text) != "" {
			return withRaw(base, text)
		}
	case formatHTML:
		if text := htmltext.Text(string(f.Body)); text != "" {
			return withRaw(base, text)
		}
	}
	return withRaw(base, string(f.Body))
}

type table struct {
	headers []string
	rows    [][]any
}

func withTable(r StructuredResource, t table) StructuredResource {
	r.Headers = t.headers
	r.Rows = t.rows
	r.RowCount = len(t.rows)
	return r
}

func withRaw(r StructuredResource, text string) StructuredResource {
	if len(text) > MaxRawContent {
		text = text[:MaxRawContent]
	}
	r.RawContent = text
	return r
}

func parseDelimited(body []byte, comma rune) (table, error) {
	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(body, []byte("\xef\xbb\xbf"))))
	reader.Comma = comma
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	var records [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return table{}, faults.Wrap(faults.CodeFormatInvalid, "parse delimited", err)
		}
		if blankRecord(record) {
			continue
		}
		records = append(records, record)
	}
	if len(records) == 0 {
		return table{}, faults.New(faults.CodeFormatInvalid, "no records")
	}

	headers := make([]string, len(records[0]))
	for i, h := range records[0] {
		headers[i] = strings.TrimSpace(h)
	}
	rows := make([][]any, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make([]any, len(headers))
		for i := range headers {
			if i < len(record) {
				row[i] = strings.TrimSpace(record[i])
			}
		}
		rows = append(rows, row)
	}
	return coerceNumbers(table{headers: headers, rows: rows}), nil
}

func blankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// normalizeJSON accepts an array of objects, an array of arrays, or an object
// whose first array-valued field holds the rows.
func normalizeJSON(body []byte) (table, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return table{}, false
	}
	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return table{}, false
		}
		return fromJSONArray(items)
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return table{}, false
		}
		for _, key := range orderedKeys(trimmed) {
			value := bytes.TrimSpace(fields[key])
			if len(value) == 0 || value[0] != '[' {
				continue
			}
			var items []json.RawMessage
			if err := json.Unmarshal(value, &items); err == nil {
				return fromJSONArray(items)
			}
		}
	}
	return table{}, false
}

func fromJSONArray(items []json.RawMessage) (table, bool) {
	if len(items) == 0 {
		return table{}, false
	}
	if first := bytes.TrimSpace(items[0]); len(first) > 0 && first[0] == '[' {
		return fromJSONRows(items)
	}
	var headers []string
	seen := map[string]bool{}
	var objects []map[string]any
	for _, item := range items {
		var obj map[string]any
		if err := decodeJSON(item, &obj); err != nil || obj == nil {
			continue
		}
		for _, key := range orderedKeys(item) {
			if !seen[key] {
				seen[key] = true
				headers = append(headers, key)
			}
		}
		objects = append(objects, obj)
	}
	if len(headers) == 0 {
		return table{}, false
	}
	rows := make([][]any, 0, len(objects))
	for _, obj := range objects {
		row := make([]any, len(headers))
		for i, h := range headers {
			row[i] = jsonCell(obj[h])
		}
		rows = append(rows, row)
	}
	return coerceNumbers(table{headers: headers, rows: rows}), true
}

// fromJSONRows treats the first array as the header row.
func fromJSONRows(items []json.RawMessage) (table, bool) {
	var header []any
	if err := decodeJSON(items[0], &header); err != nil {
		return table{}, false
	}
	headers := make([]string, len(header))
	for i, h := range header {
		s, ok := h.(string)
		if !ok {
			return table{}, false
		}
		headers[i] = strings.TrimSpace(s)
	}
	rows := make([][]any, 0, len(items)-1)
	for _, item := range items[1:] {
		var values []any
		if err := decodeJSON(item, &values); err != nil {
			continue
		}
		row := make([]any, len(headers))
		for i := range headers {
			if i < len(values) {
				row[i] = jsonCell(values[i])
			}
		}
		rows = append(rows, row)
	}
	return coerceNumbers(table{headers: headers, rows: rows}), true
}

func decodeJSON(raw []byte, v any) error {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	return decoder.Decode(v)
}

func jsonCell(v any) any {
	switch value := v.(type) {
	case nil, string, bool:
		return value
	case json.Number:
		if f, err := value.Float64(); err == nil {
			return f
		}
		return value.String()
	default:
		return nil
	}
}

// orderedKeys lists the top-level keys of a JSON object in document order.
func orderedKeys(body []byte) []string {
	decoder := json.NewDecoder(bytes.NewReader(body))
	token, err := decoder.Token()
	if err != nil || token != json.Delim('{') {
		return nil
	}
	var keys []string
	for decoder.More() {
		token, err := decoder.Token()
		if err != nil {
			return keys
		}
		key, ok := token.(string)
		if !ok {
			return keys
		}
		keys = append(keys, key)
		var skip json.RawMessage
		if err := decoder.Decode(&skip); err != nil {
			return keys
		}
	}
	return keys
}

func coerceNumbers(t table) table {
	for c := range t.headers {
		nonEmpty, numeric := 0, 0
		for _, row := range t.rows {
			if isEmptyCell(row[c]) {
				continue
			}
			nonEmpty++
			if _, ok := toNumber(row[c]); ok {
				numeric++
			}
		}
		if numeric == 0 || float64(numeric) < math.Max(1, math.Floor(float64(nonEmpty)*numericShare)) {
			continue
		}
		for _, row := range t.rows {
			if n, ok := toNumber(row[c]); ok {
				row[c] = n
			} else {
				row[c] = nil
			}
		}
	}
	return t
}

func isEmptyCell(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func toNumber(v any) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, !math.IsNaN(value) && !math.IsInf(value, 0)
	case string:
		cleaned := strings.ReplaceAll(strings.TrimSpace(value), ",", "")
		if cleaned == "" || strings.EqualFold(cleaned, "nan") {
			return 0, false
		}
		n, err := strconv.ParseFloat(cleaned, 64)
		if err != nil || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
