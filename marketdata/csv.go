package marketdata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tungnguyentu/trade/types"
)

// CSVOptions fill in what the file does not carry.
type CSVOptions struct {
	Symbol    string          // used when there is no symbol column
	Timeframe types.Timeframe // used when there is no timeframe column
}

var csvAliases = map[string]string{
	"timestamp": "open_time",
	"time":      "open_time",
	"date":      "open_time",
	"open_time": "open_time",
	"interval":  "timeframe",
}

// ReadCSV parses kline rows with a header. Recognised columns are
// timestamp/open_time, open, high, low, close, volume and optionally symbol
// and timeframe; extra columns are ignored. Times are unix milliseconds,
// unix seconds or RFC 3339.
func ReadCSV(r io.Reader, opts CSVOptions) ([]types.Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("csv header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if alias, ok := csvAliases[name]; ok {
			name = alias
		}
		if _, dup := col[name]; !dup {
			col[name] = i
		}
	}
	for _, need := range []string{"open_time", "open", "high", "low", "close", "volume"} {
		if _, ok := col[need]; !ok {
			return nil, fmt.Errorf("csv: missing column %q", need)
		}
	}
	_, hasSymbol := col["symbol"]
	_, hasTF := col["timeframe"]
	if !hasSymbol && opts.Symbol == "" {
		return nil, errors.New("csv: no symbol column and no default symbol")
	}
	if !hasTF && opts.Timeframe == "" {
		return nil, errors.New("csv: no timeframe column and no default timeframe")
	}

	var bars []types.Bar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return bars, nil
		}
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		field := func(name string) string {
			i, ok := col[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		b := types.Bar{Symbol: opts.Symbol, Timeframe: opts.Timeframe}
		if hasSymbol {
			b.Symbol = strings.ToUpper(field("symbol"))
		}
		if hasTF {
			b.Timeframe = types.Timeframe(field("timeframe"))
		}
		if b.OpenTime, err = parseTime(field("open_time")); err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		for _, f := range []struct {
			name string
			dst  *float64
		}{{"open", &b.Open}, {"high", &b.High}, {"low", &b.Low}, {"close", &b.Close}, {"volume", &b.Volume}} {
			if *f.dst, err = strconv.ParseFloat(field(f.name), 64); err != nil {
				return nil, fmt.Errorf("csv line %d: %s: %w", line, f.name, err)
			}
		}
		bars = append(bars, b)
	}
}

func parseTime(s string) (time.Time, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		// 1e11 seconds is year 5138, so anything larger is milliseconds
		if n > 1e11 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

// OpenCSV loads a file into a restartable replay.
func OpenCSV(path string, opts CSVOptions) (*Slice, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	bars, err := ReadCSV(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewSlice(bars), nil
}
