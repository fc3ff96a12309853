package resources

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConvertCSVCoercesNumericColumns(t *testing.T) {
	body := "\xef\xbb\xbfname,score,city\nann,\"1,200\",Oslo\n\nbob,35,Rome\ncid,n/a,Lima\ndee,,Kyiv\n"
	r := Convert(Fetched{Body: []byte(body), ContentType: "text/csv; charset=utf-8", URL: "https://x.example/files/data.csv?dl=1"})

	require.Equal(t, "data.csv", r.Name)
	require.Equal(t, []string{"name", "score", "city"}, r.Headers)
	require.Equal(t, 4, r.RowCount)
	require.Equal(t, []any{"ann", 1200.0, "Oslo"}, r.Rows[0])
	require.Equal(t, []any{"cid", nil, "Lima"}, r.Rows[2])
	require.Nil(t, r.Rows[3][1])
	require.False(t, r.IsRaw())
}

func TestConvertTSVByExtension(t *testing.T) {
	r := Convert(Fetched{Body: []byte("k\tv\na\t1\nb\t2\n"), ContentType: "application/octet-stream", URL: "https://x.example/t.tsv"})
	require.Equal(t, []string{"k", "v"}, r.Headers)
	require.Equal(t, []any{"b", 2.0}, r.Rows[1])
}

func TestConvertMostlyTextColumnStaysText(t *testing.T) {
	r := Convert(Fetched{Body: []byte("code\nA1\nB2\nC3\nD4\n5\n"), ContentType: "text/csv", URL: "u.csv"})
	require.Equal(t, []any{"A1"}, r.Rows[0])
	require.Equal(t, []any{"5"}, r.Rows[4])
}

func TestConvertJSONShapes(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		headers []string
		rows    [][]any
	}{
		{
			name:    "array of objects keeps first appearance order",
			body:    `[{"zeta": 1, "alpha": "x"}, {"alpha": "y", "beta": true}]`,
			headers: []string{"zeta", "alpha", "beta"},
			rows:    [][]any{{1.0, "x", nil}, {nil, "y", true}},
		},
		{
			name:    "object with array field",
			body:    `{"meta": {"v": 1}, "items": [{"n": "3"}, {"n": "4"}], "more": [{"m": 1}]}`,
			headers: []string{"n"},
			rows:    [][]any{{3.0}, {4.0}},
		},
		{
			name:    "array of arrays",
			body:    `[["a", "b"], [1, "x"], [2, "y"]]`,
			headers: []string{"a", "b"},
			rows:    [][]any{{1.0, "x"}, {2.0, "y"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Convert(Fetched{Body: []byte(tt.body), ContentType: "application/json", URL: "https://x.example/d.json"})
			require.Equal(t, tt.headers, r.Headers)
			require.Equal(t, tt.rows, r.Rows)
			require.Equal(t, len(tt.rows), r.RowCount)
		})
	}
}

func TestConvertFallsBackToRaw(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		contentType string
		want        string
	}{
		{name: "scalar json", body: `42`, contentType: "application/json", want: "42"},
		{name: "broken json", body: `{"a": [`, contentType: "application/json", want: `{"a": [`},
		{name: "empty csv", body: "\n\n", contentType: "text/csv", want: "\n\n"},
		{name: "plain text", body: "hello", contentType: "text/plain", want: "hello"},
		{name: "html", body: "<p>cutoff: <b>42</b></p>", contentType: "text/html", want: "cutoff: 42"},
		{name: "unreadable pdf", body: "not a pdf", contentType: "application/pdf", want: "not a pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Convert(Fetched{Body: []byte(tt.body), ContentType: tt.contentType, URL: "https://x.example/f"})
			require.True(t, r.IsRaw())
			require.Equal(t, tt.want, r.RawContent)
			require.Zero(t, r.RowCount)
		})
	}
}

func TestConvertTruncatesRaw(t *testing.T) {
	r := Convert(Fetched{Body: []byte(strings.Repeat("z", MaxRawContent+10)), ContentType: "text/plain", URL: "f.txt"})
	require.Len(t, r.RawContent, MaxRawContent)
}

func TestContentStreamText(t *testing.T) {
	stream := []byte(`BT /F1 12 Tf 72 712 Td (Total revenue:) Tj 0 -14 Td [(12) -250 (,345)] TJ T* <00480069> Tj ET
% comment (ignored) Tj
BT (paren \(x\) \101) Tj ET`)
	require.Equal(t, "Total revenue:\n12,345\nHi\nparen (x) A\n", contentStreamText(stream))
}

func TestSummary(t *testing.T) {
	r := StructuredResource{Name: "d.csv", ContentType: "text/csv", SourceURL: "u", Headers: []string{"a"}, Rows: [][]any{{1.0}, {2.0}, {3.0}}, RowCount: 3}
	s := r.Summary(2)
	require.Contains(t, s, "columns: a")
	require.Contains(t, s, "... 1 more rows")
	require.Equal(t, 0, r.Column("A"))
	require.Equal(t, -1, r.Column("b"))
}
