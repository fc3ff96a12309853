package resources

import (
	"fmt"
	"path"
	"strings"
)

// StructuredResource is a downloaded auxiliary file in tabular form. When the
// content could not be structured, Headers and Rows are empty and RawContent
// holds the text.
type StructuredResource struct {
	Name        string   `json:"name"`
	Headers     []string `json:"headers"`
	Rows        [][]any  `json:"rows"`
	RowCount    int      `json:"rowCount"`
	RawContent  string   `json:"rawContent,omitempty"`
	SourceURL   string   `json:"sourceUrl"`
	ContentType string   `json:"contentType"`
}

func (r StructuredResource) IsRaw() bool {
	return len(r.Headers) == 0 && len(r.Rows) == 0
}

// Column returns the index of the named header, matching case-insensitively.
func (r StructuredResource) Column(name string) int {
	for i, h := range r.Headers {
		if strings.EqualFold(strings.TrimSpace(h), strings.TrimSpace(name)) {
			return i
		}
	}
	return -1
}

// Summary renders a short description used in prompts and logs.
func (r StructuredResource) Summary(maxRows int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "resource %s (%s, %s)\n", r.Name, r.ContentType, r.SourceURL)
	if r.IsRaw() {
		b.WriteString(r.RawContent)
		return b.String()
	}
	fmt.Fprintf(&b, "columns: %s\nrows: %d\n", strings.Join(r.Headers, ", "), r.RowCount)
	for i, row := range r.Rows {
		if maxRows > 0 && i >= maxRows {
			fmt.Fprintf(&b, "... %d more rows\n", len(r.Rows)-i)
			break
		}
		cells := make([]string, len(row))
		for j, cell := range row {
			cells[j] = fmt.Sprint(cell)
		}
		b.WriteString(strings.Join(cells, ","))
		b.WriteByte('\n')
	}
	return b.String()
}

func nameFromURL(raw string) string {
	trimmed := raw
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	base := path.Base(trimmed)
	if base == "." || base == "/" || base == "" {
		return raw
	}
	return base
}
