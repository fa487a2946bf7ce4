// Package calibration uploads camera calibration parameters to a node map.
package calibration

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type Kind string

const (
	Integer Kind = "Integer"
	Float   Kind = "Float"
	String  Kind = "String"
	Boolean Kind = "Boolean"
)

// Param is one typed node value. Value is int64, float64, string or bool
// according to Kind.
type Param struct {
	Kind  Kind
	Name  string
	Value any
}

// Known lists the node names the uploader accepts and their kinds.
var Known = map[string]Kind{
	"Width":                 Integer,
	"Height":                Integer,
	"OffsetX":               Integer,
	"OffsetY":               Integer,
	"AcquisitionFrameRate":  Float,
	"ExposureTime":          Float,
	"Gain":                  Float,
	"PS0CalibrationLoadTag": String,
	"PixelFormat":           String,
	"ReverseX":              Boolean,
	"ReverseY":              Boolean,
}

// Defaults are applied before any parameter file.
func Defaults() []Param {
	return []Param{
		{Kind: Integer, Name: "Width", Value: int64(640)},
		{Kind: Integer, Name: "Height", Value: int64(513)},
		{Kind: Integer, Name: "OffsetX", Value: int64(0)},
		{Kind: Integer, Name: "OffsetY", Value: int64(0)},
	}
}

// LineError reports an unusable line of a parameter file.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return "line " + strconv.Itoa(e.Line) + ": " + e.Err.Error()
}

func (e *LineError) Unwrap() error { return e.Err }

// Parse reads "<Type> <Name> <Value...>" lines. Blank lines, comments and
// lines with fewer than three fields are ignored. A bad line does not stop
// the others from being parsed.
func Parse(r io.Reader) ([]Param, []error) {
	var params []Param
	var errs []error
	s := bufio.NewScanner(r)
	line := 0
	for s.Scan() {
		line++
		text := strings.TrimSpace(s.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		parts := strings.Fields(text)
		if len(parts) < 3 {
			continue
		}
		p, err := parseValue(Kind(parts[0]), parts[1], strings.Join(parts[2:], " "))
		if err != nil {
			errs = append(errs, &LineError{Line: line, Err: err})
			continue
		}
		params = append(params, p)
	}
	if err := s.Err(); err != nil {
		errs = append(errs, errors.Wrap(err, "read parameters"))
	}
	return params, errs
}

// ParseFile is Parse on a file.
func ParseFile(path string) ([]Param, []error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, []error{errors.Wrap(err, "open parameters")}
	}
	defer f.Close()
	return Parse(f)
}

func parseValue(kind Kind, name, raw string) (Param, error) {
	p := Param{Kind: kind, Name: name}
	switch kind {
	case Integer:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return p, errors.Wrapf(err, "%s", name)
		}
		p.Value = v
	case Float:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return p, errors.Wrapf(err, "%s", name)
		}
		p.Value = v
	case String:
		p.Value = raw
	case Boolean, "bool":
		v, err := strconv.ParseBool(strings.ToLower(raw))
		if err != nil {
			return p, errors.Wrapf(err, "%s", name)
		}
		p.Kind = Boolean
		p.Value = v
	default:
		return p, errors.Errorf("%s: unknown type %q", name, kind)
	}
	return p, nil
}

// Merge overlays later parameters on earlier ones by name, keeping the
// position of the first occurrence.
func Merge(base []Param, overlays ...[]Param) []Param {
	out := append([]Param(nil), base...)
	index := make(map[string]int, len(out))
	for i, p := range out {
		index[p.Name] = i
	}
	for _, overlay := range overlays {
		for _, p := range overlay {
			if i, ok := index[p.Name]; ok {
				out[i] = p
				continue
			}
			index[p.Name] = len(out)
			out = append(out, p)
		}
	}
	return out
}
