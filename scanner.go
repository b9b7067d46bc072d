package mapsync

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/project"
)

// Placeholders understood in raster tile URL templates.
const (
	PlaceholderZ        = "z"
	PlaceholderX        = "x"
	PlaceholderY        = "y"
	PlaceholderBBox3857 = "bbox-epsg-3857"
	PlaceholderBBox4326 = "bbox-epsg-4326"
)

var knownPlaceholders = map[string]bool{
	PlaceholderZ:        true,
	PlaceholderX:        true,
	PlaceholderY:        true,
	PlaceholderBBox3857: true,
	PlaceholderBBox4326: true,
}

type tokenType int

func (t tokenType) String() string {
	return tokenNames[t]
}

const (
	tokenError tokenType = iota
	tokenEOF
	tokenLiteral
	tokenPlaceholder
)

var tokenNames = map[tokenType]string{
	tokenError:       "error",
	tokenEOF:         "EOF",
	tokenLiteral:     "LITERAL",
	tokenPlaceholder: "PLACEHOLDER",
}

type token struct {
	t      tokenType
	value  string
	column int
}

func (t *token) String() string {
	if len(t.value) > 10 {
		return fmt.Sprintf("%s (column: %d): %.10q...", t.t, t.column, t.value)
	}
	return fmt.Sprintf("%s (column: %d): %q", t.t, t.column, t.value)
}

var placeholderName = regexp.MustCompile(`^\{([a-z0-9][a-z0-9-]*)\}`)

type scanner struct {
	input string
	pos   int
	err   *token
}

func newScanner(input string) *scanner {
	return &scanner{input: input}
}

func (s *scanner) Next() *token {
	if s.err != nil {
		return s.err
	}
	if s.pos >= len(s.input) {
		s.err = &token{tokenEOF, "", s.pos + 1}
		return s.err
	}
	input := s.input[s.pos:]
	if input[0] == '{' {
		m := placeholderName.FindStringSubmatch(input)
		if m == nil {
			if !strings.Contains(input, "}") {
				s.err = &token{tokenError, "unclosed placeholder", s.pos + 1}
			} else {
				s.err = &token{tokenError, "invalid placeholder", s.pos + 1}
			}
			return s.err
		}
		return s.emit(tokenPlaceholder, m[1], len(m[0]))
	}
	idx := strings.IndexByte(input, '{')
	if idx < 0 {
		idx = len(input)
	}
	return s.emit(tokenLiteral, input[:idx], idx)
}

func (s *scanner) emit(t tokenType, v string, width int) *token {
	tok := &token{t, v, s.pos + 1}
	s.pos += width
	return tok
}

// TemplateError reports a malformed tile URL template.
type TemplateError struct {
	Template string
	Column   int
	Msg      string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("tile template column %d: %s", e.Column, e.Msg)
}

func scanTemplate(template string, fn func(*token)) error {
	scan := newScanner(template)
	for {
		t := scan.Next()
		switch t.t {
		case tokenEOF:
			return nil
		case tokenError:
			return &TemplateError{Template: template, Column: t.column, Msg: t.value}
		case tokenPlaceholder:
			if !knownPlaceholders[t.value] {
				return &TemplateError{Template: template, Column: t.column, Msg: fmt.Sprintf("unknown placeholder {%s}", t.value)}
			}
		}
		fn(t)
	}
}

// Placeholders returns the placeholders used by template in order of
// appearance.
func Placeholders(template string) ([]string, error) {
	var names []string
	err := scanTemplate(template, func(t *token) {
		if t.t == tokenPlaceholder {
			names = append(names, t.value)
		}
	})
	return names, err
}

// ValidateTileTemplate checks that template is well formed and locates
// tiles, either by z/x/y or by a bbox placeholder.
func ValidateTileTemplate(template string) error {
	names, err := Placeholders(template)
	if err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, n := range names {
		seen[n] = true
	}
	if seen[PlaceholderBBox3857] || seen[PlaceholderBBox4326] {
		return nil
	}
	if seen[PlaceholderZ] && seen[PlaceholderX] && seen[PlaceholderY] {
		return nil
	}
	return &TemplateError{Template: template, Column: 1, Msg: "no tile placeholders"}
}

// ExpandTileURL substitutes the placeholders of template for tile t.
func ExpandTileURL(template string, t maptile.Tile) (string, error) {
	var buf strings.Builder
	err := scanTemplate(template, func(tok *token) {
		if tok.t == tokenLiteral {
			buf.WriteString(tok.value)
			return
		}
		switch tok.value {
		case PlaceholderZ:
			buf.WriteString(strconv.Itoa(int(t.Z)))
		case PlaceholderX:
			buf.WriteString(strconv.FormatUint(uint64(t.X), 10))
		case PlaceholderY:
			buf.WriteString(strconv.FormatUint(uint64(t.Y), 10))
		case PlaceholderBBox3857:
			b := t.Bound()
			buf.WriteString(formatBound(orb.Bound{
				Min: project.Point(b.Min, project.WGS84.ToMercator),
				Max: project.Point(b.Max, project.WGS84.ToMercator),
			}))
		case PlaceholderBBox4326:
			buf.WriteString(formatBound(t.Bound()))
		}
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func formatBound(b orb.Bound) string {
	parts := []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}
	strs := make([]string, len(parts))
	for i, p := range parts {
		strs[i] = strconv.FormatFloat(p, 'f', -1, 64)
	}
	return strings.Join(strs, ",")
}
