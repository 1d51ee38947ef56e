package convert

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"trains.tokyogtfs.org/internal/feed"
	"trains.tokyogtfs.org/internal/geo"
	"trains.tokyogtfs.org/internal/logging"
)

// Reference table file names inside the reference directory.
const (
	RoutesFile       = "train_routes.csv"
	OperatorsFile    = "operators.csv"
	StationFixesFile = "train_stations_fixes.csv"
)

// RouteInfo is one row of train_routes.csv.
type RouteInfo struct {
	ID       string
	Operator string
	Color    string
	Name     string
	NameEn   string
	Code     string
	Type     int
}

// Operator is one row of operators.csv.
type Operator struct {
	ID      string
	Name    string
	NameEn  string
	Website string
}

// Reference holds the hand-maintained tables that complement the API data.
// Only routes with a train timetable are kept.
type Reference struct {
	Routes    []RouteInfo
	Operators map[string]Operator
	Fixes     map[string]geo.Point

	routeIndex map[string]int
}

// Route looks up a converted route by id.
func (r *Reference) Route(id string) (RouteInfo, bool) {
	i, ok := r.routeIndex[id]
	if !ok {
		return RouteInfo{}, false
	}
	return r.Routes[i], true
}

// OperatorIDs lists operators of the kept routes in first-seen order.
func (r *Reference) OperatorIDs() []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, route := range r.Routes {
		if _, ok := seen[route.Operator]; ok {
			continue
		}
		seen[route.Operator] = struct{}{}
		ids = append(ids, route.Operator)
	}
	return ids
}

// LoadReference reads the reference tables from dir. The station fixes file
// is optional.
func LoadReference(dir string) (*Reference, error) {
	logger := slog.Default().With(slog.String("component", "reference_loader"))
	ref := &Reference{
		Operators:  make(map[string]Operator),
		Fixes:      make(map[string]geo.Point),
		routeIndex: make(map[string]int),
	}

	err := readCSV(filepath.Join(dir, RoutesFile), func(row csvRow) error {
		if row.get("train_timetable_available") != "1" {
			return nil
		}
		info := RouteInfo{
			ID:       row.get("route_id"),
			Operator: row.get("operator"),
			Color:    strings.ToUpper(row.get("route_color")),
			Name:     row.get("route_name"),
			NameEn:   row.get("route_en_name"),
			Code:     row.get("route_code"),
			Type:     feed.RouteTypeRail,
		}
		if info.ID == "" || info.Operator == "" {
			return fmt.Errorf("line %d: route_id and operator are required", row.line)
		}
		if t := row.get("route_type"); t != "" {
			n, err := strconv.Atoi(t)
			if err != nil {
				return fmt.Errorf("line %d: invalid route_type %q", row.line, t)
			}
			info.Type = n
		}
		ref.routeIndex[info.ID] = len(ref.Routes)
		ref.Routes = append(ref.Routes, info)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = readCSV(filepath.Join(dir, OperatorsFile), func(row csvRow) error {
		op := Operator{
			ID:      row.get("operator"),
			Name:    row.get("name"),
			NameEn:  row.get("name_en"),
			Website: row.get("website"),
		}
		ref.Operators[op.ID] = op
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = readCSV(filepath.Join(dir, StationFixesFile), func(row csvRow) error {
		lat, errLat := strconv.ParseFloat(row.get("lat"), 64)
		lon, errLon := strconv.ParseFloat(row.get("lon"), 64)
		if errLat != nil || errLon != nil {
			return fmt.Errorf("line %d: invalid position for %s", row.line, row.get("id"))
		}
		ref.Fixes[row.get("id")] = geo.Point{Lat: lat, Lon: lon}
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	logging.LogOperation(logger, "reference_loaded",
		slog.Int("routes", len(ref.Routes)),
		slog.Int("operators", len(ref.Operators)),
		slog.Int("station_fixes", len(ref.Fixes)))
	return ref, nil
}

type csvRow struct {
	line   int
	record []string
	index  map[string]int
}

func (r csvRow) get(column string) string {
	i, ok := r.index[column]
	if !ok || i >= len(r.record) {
		return ""
	}
	return strings.TrimSpace(r.record[i])
}

// readCSV calls fn for each data row of a UTF-8 CSV file with a header.
func readCSV(path string, fn func(csvRow) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	defer func() { _ = f.Close() }()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read %s header: %w", filepath.Base(path), err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}

	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
		}
		if err := fn(csvRow{line: line, record: record, index: index}); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
}
