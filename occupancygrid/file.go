package occupancygrid

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// The map file format is a header line
//
//	origin_x origin_y width height meters_per_cell
//
// followed by height rows of width whitespace-separated log-odds integers.

// WriteTo writes the grid in the text map format.
func (g *Grid) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var written int64
	write := func(s string) error {
		n, err := bw.WriteString(s)
		written += int64(n)
		return err
	}

	header := strings.Join([]string{
		formatFloat(g.origin.X),
		formatFloat(g.origin.Y),
		strconv.Itoa(g.width),
		strconv.Itoa(g.height),
		formatFloat(g.metersPerCell),
	}, " ") + "\n"
	if err := write(header); err != nil {
		return written, err
	}

	var line strings.Builder
	for y := 0; y < g.height; y++ {
		line.Reset()
		for x := 0; x < g.width; x++ {
			line.WriteString(strconv.Itoa(int(g.At(x, y))))
			line.WriteByte(' ')
		}
		line.WriteByte('\n')
		if err := write(line.String()); err != nil {
			return written, err
		}
	}
	return written, bw.Flush()
}

// SaveToFile writes the grid to a map file.
func (g *Grid) SaveToFile(path string) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to save map to %q", path)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	_, err = g.WriteTo(f)
	return err
}

// Read parses a grid in the text map format.
func Read(r io.Reader) (*Grid, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	scanner.Split(bufio.ScanWords)

	next := func(what string) (string, error) {
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", err
			}
			return "", errors.Errorf("map file ended before %s", what)
		}
		return scanner.Text(), nil
	}
	nextFloat := func(what string) (float64, error) {
		tok, err := next(what)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseFloat(tok, 64)
		return v, errors.Wrapf(err, "invalid %s", what)
	}
	nextInt := func(what string) (int, error) {
		tok, err := next(what)
		if err != nil {
			return 0, err
		}
		v, err := strconv.Atoi(tok)
		return v, errors.Wrapf(err, "invalid %s", what)
	}

	originX, err := nextFloat("origin x")
	if err != nil {
		return nil, err
	}
	originY, err := nextFloat("origin y")
	if err != nil {
		return nil, err
	}
	width, err := nextInt("width")
	if err != nil {
		return nil, err
	}
	height, err := nextInt("height")
	if err != nil {
		return nil, err
	}
	metersPerCell, err := nextFloat("meters per cell")
	if err != nil {
		return nil, err
	}

	grid, err := NewWithCells(width, height, metersPerCell, r2.Point{X: originX, Y: originY})
	if err != nil {
		return nil, err
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			tok, err := next("all cells were read")
			if err != nil {
				return nil, err
			}
			v, err := strconv.ParseInt(tok, 10, 8)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid log-odds at cell (%d, %d)", x, y)
			}
			grid.Set(x, y, CellOdds(v))
		}
	}
	return grid, nil
}

// LoadFromFile reads a grid from a map file.
func LoadFromFile(path string) (*Grid, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load map from %q", path)
	}
	defer f.Close()
	grid, err := Read(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse map %q", path)
	}
	return grid, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
