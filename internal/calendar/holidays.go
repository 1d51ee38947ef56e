package calendar

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
	"trains.tokyogtfs.org/internal/logging"
)

// CabinetOfficeHolidaysURL lists Japanese national holidays as a Shift-JIS CSV.
const CabinetOfficeHolidaysURL = "https://www8.cao.go.jp/chosei/shukujitsu/syukujitsu.csv"

// FetchHolidays downloads the holiday list and keeps the dates in [start, end].
func FetchHolidays(ctx context.Context, client *http.Client, url string, start, end Date) ([]Date, error) {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logger := slog.Default().With(slog.String("component", "holiday_loader"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating holidays request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error downloading holidays: %w", err)
	}
	defer logging.SafeCloseWithLogging(resp.Body, logger, "holidays_response_body")

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download holidays: received HTTP status %s", resp.Status)
	}

	holidays, err := ParseHolidays(resp.Body, start, end)
	if err != nil {
		return nil, err
	}

	logging.LogOperation(logger, "holidays_loaded",
		slog.Int("count", len(holidays)),
		slog.String("start", start.String()),
		slog.String("end", end.String()))

	return holidays, nil
}

// ParseHolidays reads the Cabinet Office CSV: a header row, then one holiday
// per row with a "2006/1/2" date in the first column.
func ParseHolidays(r io.Reader, start, end Date) ([]Date, error) {
	reader := csv.NewReader(transform.NewReader(r, japanese.ShiftJIS.NewDecoder()))
	reader.FieldsPerRecord = -1

	if _, err := reader.Read(); err != nil {
		return nil, fmt.Errorf("error reading holidays header: %w", err)
	}

	var holidays []Date
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading holidays: %w", err)
		}
		if len(record) == 0 || strings.TrimSpace(record[0]) == "" {
			continue
		}

		t, err := time.Parse("2006/1/2", strings.TrimSpace(record[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid holiday date %q: %w", record[0], err)
		}

		d := DateOf(t)
		if d.Before(start) || d.After(end) {
			continue
		}
		holidays = append(holidays, d)
	}
	return holidays, nil
}
