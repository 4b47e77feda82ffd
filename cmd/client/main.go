/*
Package main implements a query client for the resale data server.

The client posts a filter specification built from its flags to the server's
/v1/query endpoint and prints the summary line followed by the matching
transactions.

Usage:

	go run main.go -addr=http://localhost:8080 -months=6 -town=All \
	    -flats=3RM,4RM,5RM -unit=sqft -mode=absolute -min-price=400000
*/
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cliffchew84/sghousing/internal/model"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Command-line flags describing the server address and the filter spec
var (
	serverAddr = flag.String("addr", "http://localhost:8080", "The server base URL")
	months     = flag.Int("months", 6, "Trailing window length (3 or 6)")
	town       = flag.String("town", "All", "Exact town name or All")
	flats      = flag.String("flats", "2RM,3RM,4RM,5RM,EC,MG", "Comma-separated flat-type codes")
	unit       = flag.String("unit", "sqft", "Area unit: sqm or sqft")
	mode       = flag.String("mode", "absolute", "Price mode: absolute or per_area")
	minPrice   = flag.Float64("min-price", 0, "Minimum resolved price (0 means unset)")
	maxPrice   = flag.Float64("max-price", 0, "Maximum resolved price (0 means unset)")
	minArea    = flag.Float64("min-area", 0, "Minimum resolved area (0 means unset)")
	maxArea    = flag.Float64("max-area", 0, "Maximum resolved area (0 means unset)")
	minLease   = flag.Int("min-lease", 0, "Minimum lease years (0 means unset)")
	maxLease   = flag.Int("max-lease", 0, "Maximum lease years (0 means unset)")
	street     = flag.String("street", "", "Street-name substring")
	maxRows    = flag.Int("max-rows", 20, "Maximum rows to print")
)

// queryResponse mirrors the server's /v1/query payload.
type queryResponse struct {
	Records []model.FilteredRecord `json:"records"`
	Summary model.Summary          `json:"summary"`
}

func main() {
	flag.Parse()

	log := zerolog.New(os.Stdout).Level(zerolog.InfoLevel).With().Timestamp().Logger()

	spec := model.FilterSpec{
		Months:        *months,
		Town:          *town,
		FlatTypes:     splitNonEmpty(*flats),
		AreaUnit:      model.AreaUnit(*unit),
		PriceMode:     model.PriceMode(*mode),
		MinPrice:      optFloat(*minPrice),
		MaxPrice:      optFloat(*maxPrice),
		MinArea:       optFloat(*minArea),
		MaxArea:       optFloat(*maxArea),
		MinLeaseYears: optInt(*minLease),
		MaxLeaseYears: optInt(*maxLease),
		StreetSubstr:  *street,
	}

	body, err := json.Marshal(spec)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to encode filter spec")
	}

	hc := &http.Client{Timeout: 30 * time.Second}
	resp, err := hc.Post(*serverAddr+"/v1/query", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatal().Err(err).Msg("query request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		log.Fatal().Int("status", resp.StatusCode).Str("body", string(msg)).Msg("server rejected query")
	}

	var out queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatal().Err(err).Msg("failed to decode response")
	}

	printSummary(out.Summary, spec)
	printRows(out.Records, *maxRows)
}

// printSummary renders the "You searched" line, or the no-results marker
// when the view is empty.
func printSummary(s model.Summary, spec model.FilterSpec) {
	if s.Count == 0 {
		fmt.Println("<< YOUR SEARCH HAS NO RESULTS >>")
		return
	}

	line := fmt.Sprintf("You searched : Town: %s | %s: $%.2f - $%.2f | %s: %.2f - %.2f",
		spec.Town, s.PriceLabel, s.PriceMin, s.PriceMax, s.AreaLabel, s.AreaMin, s.AreaMax)

	switch {
	case spec.MinLeaseYears != nil && spec.MaxLeaseYears != nil:
		line += fmt.Sprintf(" | Lease from %d - %d", *spec.MinLeaseYears, *spec.MaxLeaseYears)
	case spec.MinLeaseYears != nil:
		line += fmt.Sprintf(" | Lease >= %d", *spec.MinLeaseYears)
	case spec.MaxLeaseYears != nil:
		line += fmt.Sprintf(" | Lease =< %d", *spec.MaxLeaseYears)
	}

	line += fmt.Sprintf(" | Total records: %d", s.Count)
	fmt.Println(line)
}

// printRows renders up to max transactions in a fixed-width table.
func printRows(records []model.FilteredRecord, max int) {
	if len(records) == 0 {
		return
	}

	fmt.Printf("%-8s %-5s %-16s %-34s %-8s %-8s %12s %12s\n",
		"MONTH", "FLAT", "TOWN", "STREET", "STOREY", "LEASE", "AREA", "PRICE")

	n := len(records)
	if max > 0 && n > max {
		n = max
	}
	for _, rec := range records[:n] {
		fmt.Printf("%-8s %-5s %-16s %-34s %-8s %-8s %12.2f %12.2f\n",
			rec.Month, rec.Flat, rec.Town, rec.StreetName,
			rec.StoreyRange, rec.LeaseLeft, rec.Area, rec.Price)
	}

	if n < len(records) {
		fmt.Printf("... %d more rows\n", len(records)-n)
	}
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func optFloat(v float64) *float64 {
	if v == 0 {
		return nil
	}
	return &v
}

func optInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}
