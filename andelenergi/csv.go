package andelenergi

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/icodeforyou/elpris-go/hours"
	"github.com/icodeforyou/elpris-go/types"
	"github.com/shopspring/decimal"
)

const (
	colStart = "Start"
	colSpot  = "Elpris"
	colFees  = "Transport og afgifter"
	colTotal = "Total"
)

// parseDanishDecimal reads "1.234,56" style numbers. Dots are thousands
// separators only when a decimal comma is present.
func parseDanishDecimal(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
	}
	return decimal.NewFromString(strings.Replace(s, ",", ".", 1))
}

// ParseCSV reads the export format: comma separated, quoted decimal comma
// values and "DD.MM.YYYY - HH:MM" hour starts. A repeated hour keeps the
// last row. Records come back sorted by hour with no category assigned.
func ParseCSV(r io.Reader) ([]types.PriceRecord, error) {
	br := bufio.NewReader(r)
	if ch, _, err := br.ReadRune(); err == nil && ch != '\ufeff' {
		br.UnreadRune()
	}

	reader := csv.NewReader(br)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty csv")
	}
	if err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	var missing []string
	for _, name := range []string{colStart, colSpot, colFees, colTotal} {
		if _, ok := cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing csv columns: %s", strings.Join(missing, ", "))
	}

	byHour := make(map[hours.DateHour]types.PriceRecord)
	line := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("reading csv line %d: %w", line, err)
		}
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}
		if len(row) < len(header) {
			return nil, fmt.Errorf("csv line %d has %d fields, wanted %d", line, len(row), len(header))
		}

		when, err := hours.ParseDanish(row[cols[colStart]])
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}

		rec := types.PriceRecord{When: when}
		for _, f := range []struct {
			col string
			dst *decimal.Decimal
		}{
			{colSpot, &rec.SpotPrice},
			{colFees, &rec.TransportTaxes},
			{colTotal, &rec.TotalPrice},
		} {
			v, err := parseDanishDecimal(row[cols[f.col]])
			if err != nil {
				return nil, fmt.Errorf("csv line %d: invalid %s %q: %w", line, f.col, row[cols[f.col]], err)
			}
			*f.dst = v
		}
		if rec.TransportTaxes.IsNegative() {
			return nil, fmt.Errorf("csv line %d: negative transport and taxes %s", line, rec.TransportTaxes)
		}

		byHour[when] = rec
	}

	records := make([]types.PriceRecord, 0, len(byHour))
	for _, rec := range byHour {
		records = append(records, rec)
	}
	slices.SortFunc(records, func(a, b types.PriceRecord) int { return a.When.Compare(b.When) })
	return records, nil
}
