package features

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"quantlab/internal/domain"
)

var requiredColumns = []string{"timestamp", "open", "high", "low", "close", "volume"}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// CSVSource reads <Dir>/<INSTRUMENT>.csv.
type CSVSource struct {
	Dir string
}

func NewCSVSource(dir string) *CSVSource {
	return &CSVSource{Dir: dir}
}

func (s *CSVSource) Path(instrument string) string {
	return filepath.Join(s.Dir, strings.ToUpper(instrument)+".csv")
}

func (s *CSVSource) Load(ctx context.Context, instrument string) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path(instrument))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("no data file for %s: %w", instrument, domain.ErrDataUnavailable)
		}
		return nil, err
	}
	defer f.Close()
	return ReadTable(instrument, f)
}

// ReadTable parses a bar CSV. Columns beyond the OHLCV set that hold numbers
// become Extra features; other columns are ignored.
func ReadTable(instrument string, r io.Reader) (*Table, error) {
	df := dataframe.ReadCSV(r,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(true),
		dataframe.DefaultType(series.Float),
		dataframe.WithTypes(map[string]series.Type{"timestamp": series.String}),
		dataframe.NaNValues([]string{"", "NA", "NaN", "nan", "null"}),
	)
	if df.Err != nil {
		return nil, fmt.Errorf("read %s csv: %w", instrument, df.Err)
	}
	if df.Nrow() == 0 {
		return nil, fmt.Errorf("empty data file for %s: %w", instrument, domain.ErrDataUnavailable)
	}

	present := make(map[string]bool, len(df.Names()))
	for _, name := range df.Names() {
		present[name] = true
	}
	for _, name := range requiredColumns {
		if !present[name] {
			return nil, fmt.Errorf("%s csv missing column %q: %w", instrument, name, domain.ErrDataUnavailable)
		}
	}

	stamps := df.Col("timestamp").Records()
	times := make([]time.Time, len(stamps))
	for i, raw := range stamps {
		ts, err := parseTimestamp(raw)
		if err != nil {
			return nil, fmt.Errorf("%s csv row %d: %w", instrument, i+1, err)
		}
		times[i] = ts
	}

	t := &Table{
		Instrument: instrument,
		Times:      times,
		Open:       df.Col("open").Float(),
		High:       df.Col("high").Float(),
		Low:        df.Col("low").Float(),
		Close:      df.Col("close").Float(),
		Volume:     df.Col("volume").Float(),
	}

	var extraCols [][]float64
	for _, name := range df.Names() {
		if isRequired(name) {
			continue
		}
		col := df.Col(name)
		if col.Type() != series.Float && col.Type() != series.Int {
			continue
		}
		t.ExtraNames = append(t.ExtraNames, name)
		extraCols = append(extraCols, col.Float())
	}
	if len(extraCols) > 0 {
		t.Extra = make([][]float64, len(times))
		for i := range times {
			row := make([]float64, len(extraCols))
			for j := range extraCols {
				row[j] = extraCols[j][i]
			}
			t.Extra[i] = row
		}
	}

	sortTable(t)
	return t, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", raw)
}

func isRequired(name string) bool {
	for _, r := range requiredColumns {
		if r == name {
			return true
		}
	}
	return false
}

func sortTable(t *Table) {
	if sort.SliceIsSorted(t.Times, func(i, j int) bool { return t.Times[i].Before(t.Times[j]) }) {
		return
	}
	idx := make([]int, len(t.Times))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return t.Times[idx[a]].Before(t.Times[idx[b]]) })
	times := make([]time.Time, len(idx))
	for i, j := range idx {
		times[i] = t.Times[j]
	}
	t.Times = times
	t.Open = permute(t.Open, idx)
	t.High = permute(t.High, idx)
	t.Low = permute(t.Low, idx)
	t.Close = permute(t.Close, idx)
	t.Volume = permute(t.Volume, idx)
	if t.Extra != nil {
		extra := make([][]float64, len(idx))
		for i, j := range idx {
			extra[i] = t.Extra[j]
		}
		t.Extra = extra
	}
}

func permute(values []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = values[j]
	}
	return out
}
