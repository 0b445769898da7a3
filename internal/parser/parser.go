package parser

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"eco-drive-assistant/internal/models"
	"eco-drive-assistant/internal/units"
)

// Columns is the CSV header written by WriteCSV and understood by the CSV
// parser. Column order in input files is free.
var Columns = []string{
	"timestamp", "engine_on", "speed", "rpm", "throttle", "fuel_level",
	"altitude", "latitude", "longitude", "speed_limit",
}

// Parser handles parsing of recorded telemetry
type Parser struct {
	format string
}

// NewParser creates a new parser with the specified format
func NewParser(format string) *Parser {
	return &Parser{format: format}
}

// FormatFromPath guesses the format from a file extension
func FormatFromPath(path string) string {
	switch {
	case strings.HasSuffix(path, ".json"), strings.HasSuffix(path, ".jsonl"):
		return "json"
	case strings.HasSuffix(path, ".log"):
		return "log"
	default:
		return "csv"
	}
}

// ParseFile parses a telemetry recording
func (p *Parser) ParseFile(filename string) ([]models.TelemetrySample, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return p.Parse(file)
}

// Parse parses a telemetry recording from r
func (p *Parser) Parse(r io.Reader) ([]models.TelemetrySample, error) {
	switch strings.ToLower(p.format) {
	case "csv":
		return p.parseCSV(r)
	case "json":
		return p.parseJSON(r)
	case "log":
		return p.parseLog(r)
	default:
		return nil, fmt.Errorf("unsupported format: %s", p.format)
	}
}

// parseCSV parses CSV formatted samples
func (p *Parser) parseCSV(r io.Reader) ([]models.TelemetrySample, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	indices := make(map[string]int)
	for i, h := range header {
		indices[strings.ToLower(strings.TrimSpace(h))] = i
	}

	var results []models.TelemetrySample
	lineNum := 1

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		lineNum++
		if err != nil {
			return results, fmt.Errorf("error at line %d: %w", lineNum, err)
		}

		s, err := recordToSample(record, indices)
		if err != nil {
			log.Printf("Warning: line %d: %v", lineNum, err)
			continue
		}
		results = append(results, s)
	}

	return results, nil
}

// recordToSample converts a CSV record to a sample
func recordToSample(record []string, indices map[string]int) (models.TelemetrySample, error) {
	var s models.TelemetrySample
	var err error

	getValue := func(key string) string {
		if idx, ok := indices[key]; ok && idx < len(record) {
			return strings.TrimSpace(record[idx])
		}
		return ""
	}

	tsStr := getValue("timestamp")
	if tsStr == "" {
		return s, fmt.Errorf("missing timestamp")
	}
	s.Timestamp, err = parseTimestamp(tsStr)
	if err != nil {
		return s, fmt.Errorf("invalid timestamp: %w", err)
	}

	s.EngineOn = parseBool(getValue("engine_on"), true)

	speed, err := strconv.ParseFloat(getValue("speed"), 64)
	if err != nil {
		return s, fmt.Errorf("invalid speed: %w", err)
	}
	s.Speed = units.Kmh(speed)

	s.EngineRPM, _ = strconv.ParseFloat(getValue("rpm"), 64)
	s.Throttle, _ = strconv.ParseFloat(getValue("throttle"), 64)
	s.FuelLevel, _ = strconv.ParseFloat(getValue("fuel_level"), 64)
	s.Altitude, _ = strconv.ParseFloat(getValue("altitude"), 64)
	s.Latitude, _ = strconv.ParseFloat(getValue("latitude"), 64)
	s.Longitude, _ = strconv.ParseFloat(getValue("longitude"), 64)
	s.SpeedLimit = parseOptionalFloat(getValue("speed_limit"))

	return s, nil
}

// parseJSON parses a JSON array of samples or newline-delimited JSON
func (p *Parser) parseJSON(r io.Reader) ([]models.TelemetrySample, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	var results []models.TelemetrySample
	if err := json.Unmarshal(data, &results); err == nil {
		return results, nil
	}

	return p.parseJSONLines(bytes.NewReader(data))
}

// parseJSONLines parses newline-delimited JSON
func (p *Parser) parseJSONLines(r io.Reader) ([]models.TelemetrySample, error) {
	var results []models.TelemetrySample
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line == "[" || line == "]" {
			continue
		}

		line = strings.TrimSuffix(line, ",")

		var s models.TelemetrySample
		if err := json.Unmarshal([]byte(line), &s); err != nil {
			log.Printf("Warning: line %d: %v", lineNum, err)
			continue
		}
		results = append(results, s)
	}

	return results, scanner.Err()
}

// parseLog parses the pipe log format:
// timestamp|engine_on|lat,lon|speed|rpm|throttle|fuel|altitude[|speed_limit]
func (p *Parser) parseLog(r io.Reader) ([]models.TelemetrySample, error) {
	var results []models.TelemetrySample
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, "|")
		if len(parts) < 8 {
			log.Printf("Warning: line %d: insufficient fields", lineNum)
			continue
		}

		var s models.TelemetrySample
		var err error

		s.Timestamp, err = parseTimestamp(parts[0])
		if err != nil {
			log.Printf("Warning: line %d: invalid timestamp", lineNum)
			continue
		}

		s.EngineOn = parseBool(parts[1], true)

		coords := strings.Split(parts[2], ",")
		if len(coords) == 2 {
			s.Latitude, _ = strconv.ParseFloat(coords[0], 64)
			s.Longitude, _ = strconv.ParseFloat(coords[1], 64)
		}

		speed, _ := strconv.ParseFloat(parts[3], 64)
		s.Speed = units.Kmh(speed)
		s.EngineRPM, _ = strconv.ParseFloat(parts[4], 64)
		s.Throttle, _ = strconv.ParseFloat(parts[5], 64)
		s.FuelLevel, _ = strconv.ParseFloat(parts[6], 64)
		s.Altitude, _ = strconv.ParseFloat(parts[7], 64)

		if len(parts) > 8 {
			s.SpeedLimit = parseOptionalFloat(parts[8])
		}

		results = append(results, s)
	}

	return results, scanner.Err()
}

// WriteCSV writes samples in the CSV layout read by the csv format
func WriteCSV(w io.Writer, samples []models.TelemetrySample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}

	for _, s := range samples {
		limit := ""
		if s.SpeedLimit != nil {
			limit = formatFloat(*s.SpeedLimit)
		}
		record := []string{
			s.Timestamp.UTC().Format(time.RFC3339Nano),
			strconv.FormatBool(s.EngineOn),
			formatFloat(float64(s.Speed)),
			formatFloat(s.EngineRPM),
			formatFloat(s.Throttle),
			formatFloat(s.FuelLevel),
			formatFloat(s.Altitude),
			formatFloat(s.Latitude),
			formatFloat(s.Longitude),
			limit,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func parseBool(s string, def bool) bool {
	if s == "" {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return b
}

func parseOptionalFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

// parseTimestamp tries multiple timestamp formats
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04:05.999999999",
		"2006/01/02 15:04:05",
		"01/02/2006 15:04:05",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	// Unix seconds, optionally fractional
	if ts, err := strconv.ParseFloat(s, 64); err == nil {
		sec := int64(ts)
		nsec := int64((ts - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC(), nil
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", s)
}

// ValidateSample returns the problems found in a sample
func ValidateSample(s *models.TelemetrySample) []string {
	var errors []string

	if s.Timestamp.IsZero() {
		errors = append(errors, "timestamp is required")
	}
	if s.Latitude < -90 || s.Latitude > 90 {
		errors = append(errors, "latitude must be between -90 and 90")
	}
	if s.Longitude < -180 || s.Longitude > 180 {
		errors = append(errors, "longitude must be between -180 and 180")
	}
	if s.Speed < 0 {
		errors = append(errors, "speed cannot be negative")
	}
	if s.Throttle < 0 || s.Throttle > 100 {
		errors = append(errors, "throttle must be between 0 and 100")
	}
	if s.FuelLevel < 0 || s.FuelLevel > 100 {
		errors = append(errors, "fuel_level must be between 0 and 100")
	}
	if s.EngineRPM < 0 {
		errors = append(errors, "rpm cannot be negative")
	}

	return errors
}
