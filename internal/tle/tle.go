// Package tle reads two-line element sets and locates their satellites.
package tle

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

const lineLength = 69

var (
	ErrNoElements  = errors.New("no element sets found")
	ErrMalformed   = errors.New("malformed element line")
	ErrChecksum    = errors.New("element line checksum mismatch")
	ErrPropagation = errors.New("propagation failed")
)

// ParseError reports the line an element file could not be read at.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Element is one satellite's element set.
type Element struct {
	Name          string
	CatalogNumber int
	Line1         string
	Line2         string
}

// Position is a geodetic position in degrees and kilometres.
type Position struct {
	Latitude   float64
	Longitude  float64
	AltitudeKm float64
}

// ParseFile parses the element file at path.
func ParseFile(path string) ([]Element, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open element file: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

// Parse reads element sets in the two-line or three-line format. A name line
// may carry the "0 " prefix used by some catalogs.
func Parse(r io.Reader) ([]Element, error) {
	var (
		elements []Element
		name     string
		line1    string
		line1No  int
	)

	scanner := bufio.NewScanner(r)
	n := 0

	for scanner.Scan() {
		n++

		line := strings.TrimRight(scanner.Text(), " \t\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		switch {
		case line1 == "" && strings.HasPrefix(line, "1 "):
			if err := checkLine(line); err != nil {
				return nil, &ParseError{Line: n, Err: err}
			}

			line1, line1No = line, n
		case line1 != "":
			if !strings.HasPrefix(line, "2 ") {
				return nil, &ParseError{Line: n, Err: fmt.Errorf("%w: expected line 2 after line %d", ErrMalformed, line1No)}
			}

			if err := checkLine(line); err != nil {
				return nil, &ParseError{Line: n, Err: err}
			}

			el, err := newElement(name, line1, line)
			if err != nil {
				return nil, &ParseError{Line: n, Err: err}
			}

			elements = append(elements, el)
			name, line1 = "", ""
		default:
			name = strings.TrimSpace(strings.TrimPrefix(line, "0 "))
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read element file: %w", err)
	}

	if line1 != "" {
		return nil, &ParseError{Line: line1No, Err: fmt.Errorf("%w: line 1 without line 2", ErrMalformed)}
	}

	if len(elements) == 0 {
		return nil, ErrNoElements
	}

	return elements, nil
}

func newElement(name, line1, line2 string) (Element, error) {
	num1, err := strconv.Atoi(strings.TrimSpace(line1[2:7]))
	if err != nil {
		return Element{}, fmt.Errorf("%w: catalog number %q", ErrMalformed, line1[2:7])
	}

	num2, err := strconv.Atoi(strings.TrimSpace(line2[2:7]))
	if err != nil || num1 != num2 {
		return Element{}, fmt.Errorf("%w: catalog numbers %q and %q differ", ErrMalformed, line1[2:7], line2[2:7])
	}

	if name == "" {
		name = strconv.Itoa(num1)
	}

	return Element{
		Name:          name,
		CatalogNumber: num1,
		Line1:         line1[:lineLength],
		Line2:         line2[:lineLength],
	}, nil
}

// checkLine validates length and the modulo-10 checksum in column 69.
func checkLine(line string) error {
	if len(line) < lineLength {
		return fmt.Errorf("%w: %d characters, want %d", ErrMalformed, len(line), lineLength)
	}

	want := line[lineLength-1]
	if want < '0' || want > '9' {
		return fmt.Errorf("%w: checksum %q is not a digit", ErrMalformed, want)
	}

	if got := Checksum(line); got != int(want-'0') {
		return fmt.Errorf("%w: got %d, line says %c", ErrChecksum, got, want)
	}

	return nil
}

// Checksum computes the element line checksum: digits count their value,
// minus signs count one, everything else zero.
func Checksum(line string) int {
	sum := 0

	for i := 0; i < len(line) && i < lineLength-1; i++ {
		switch c := line[i]; {
		case c >= '0' && c <= '9':
			sum += int(c - '0')
		case c == '-':
			sum++
		}
	}

	return sum % 10
}

// Locate propagates the element set to t with SGP4.
func (e Element) Locate(t time.Time) (pos Position, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", ErrPropagation, e.Name, r)
		}
	}()

	sat := satellite.TLEToSat(e.Line1, e.Line2, satellite.GravityWGS72)

	t = t.UTC()
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()

	eci, _ := satellite.Propagate(sat, year, int(month), day, hour, minute, sec)
	if math.IsNaN(eci.X) || math.IsNaN(eci.Y) || math.IsNaN(eci.Z) {
		return Position{}, fmt.Errorf("%w: %s", ErrPropagation, e.Name)
	}

	gmst := satellite.ThetaG_JD(satellite.JDay(year, int(month), day, hour, minute, sec))
	alt, _, ll := satellite.ECIToLLA(eci, gmst)
	deg := satellite.LatLongDeg(ll)

	return Position{
		Latitude:   deg.Latitude,
		Longitude:  deg.Longitude,
		AltitudeKm: alt,
	}, nil
}
