// Package mockapi serves a stand-in for the external cloud cost API.
// It generates realistic line items with realistic problems: sentinel
// costs, missing allocation fields, comma-formatted numbers, absent
// currencies. Roughly 10% of records carry a problem.
//
// Generation is seeded per calendar day, so the same window always
// yields byte-identical payloads. That property is what makes the
// idempotency self-test meaningful against this server.
package mockapi

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"go.uber.org/zap"

	"cloudcost-etl/core/contract"
)

var teams = []string{
	"Search Infrastructure",
	"Maps Platform",
	"Identity Services",
	"Media Streaming",
	"Storefront Backend",
	"Realtime Comms",
	"Payments Systems",
	"Photo Processing",
}

var services = []string{
	"EC2 Compute",
	"S3 Storage",
	"RDS Database",
	"CloudFront CDN",
	"Lambda Functions",
	"EBS Volumes",
	"Data Transfer",
	"ElastiCache",
}

var subscriptions = []string{
	"aws-prod-001",
	"aws-prod-002",
	"gcp-prod-001",
	"azure-prod-001",
	"aws-dev-001",
}

var costCenters = []string{
	"CC-4521",
	"CC-4522",
	"CC-4523",
	"CC-4524",
	"CC-4525",
}

var currencies = []string{"USD", "EUR", "GBP", "JPY"}

// costRanges gives each service a plausible daily cost band
var costRanges = map[string][2]float64{
	"EC2 Compute":      {10000, 150010},
	"S3 Storage":       {5001, 80000},
	"RDS Database":     {8000, 120000},
	"CloudFront CDN":   {3000, 50010},
	"Lambda Functions": {1000, 20000},
	"EBS Volumes":      {2000, 30000},
	"Data Transfer":    {4000, 60000},
	"ElastiCache":      {6000, 90000},
}

// Server is the mock cost API
type Server struct {
	mux *http.ServeMux
	log *zap.Logger
}

// NewServer creates the mock API server
func NewServer(log *zap.Logger) *Server {
	s := &Server{
		mux: http.NewServeMux(),
		log: log,
	}
	s.mux.HandleFunc("/v1/cloud-costs", getOnly(s.handleCosts))
	s.mux.HandleFunc("/health", getOnly(s.handleHealth))
	return s
}

// getOnly restricts a handler to GET (and HEAD) requests, matching the
// "GET /path" ServeMux patterns of Go 1.22+ on older toolchains.
func getOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleCosts(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	end := today
	if v := r.URL.Query().Get("end_date"); v != "" {
		parsed, err := time.ParseInLocation(contract.DateFormat, v, time.UTC)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid end_date, expected YYYY-MM-DD")
			return
		}
		end = parsed
	}

	start := end.AddDate(0, 0, -30)
	if v := r.URL.Query().Get("start_date"); v != "" {
		parsed, err := time.ParseInLocation(contract.DateFormat, v, time.UTC)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid start_date, expected YYYY-MM-DD")
			return
		}
		start = parsed
	}

	if start.After(end) {
		s.writeError(w, http.StatusBadRequest, "start_date must be <= end_date")
		return
	}

	records := GenerateWindow(contract.Window{Start: start, End: end})
	s.log.Debug("serving mock cost records",
		zap.String("start", start.Format(contract.DateFormat)),
		zap.String("end", end.Format(contract.DateFormat)),
		zap.Int("records", len(records)))

	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "cloud cost api (mock)",
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, map[string]string{"detail": detail})
}

// GenerateWindow produces the deterministic record set for a window
func GenerateWindow(win contract.Window) []contract.SourceRecord {
	var records []contract.SourceRecord
	for day := win.Start; !day.After(win.End); day = day.AddDate(0, 0, 1) {
		records = append(records, generateDay(day)...)
	}
	return records
}

// generateDay produces 5-15 records for one day from a day-derived
// seed, so repeated fetches of the same date agree.
func generateDay(day time.Time) []contract.SourceRecord {
	rng := rand.New(rand.NewSource(day.Unix()))
	count := 5 + rng.Intn(11)

	records := make([]contract.SourceRecord, 0, count)
	for i := 0; i < count; i++ {
		records = append(records, generateRecord(rng, day, rng.Float64() < 0.10))
	}
	return records
}

func generateRecord(rng *rand.Rand, day time.Time, injectProblem bool) contract.SourceRecord {
	service := services[rng.Intn(len(services))]
	band := costRanges[service]
	costValue := band[0] + rng.Float64()*(band[1]-band[0])

	rec := contract.SourceRecord{
		UsageDate:      ptr(day.Format(contract.DateFormat)),
		SubscriptionID: ptr(subscriptions[rng.Intn(len(subscriptions))]),
		ServiceName:    ptr(service),
		Team:           ptr(teams[rng.Intn(len(teams))]),
		CostCenter:     ptr(costCenters[rng.Intn(len(costCenters))]),
		Currency:       ptr(currencies[rng.Intn(len(currencies))]),
		Cost:           ptr(fmt.Sprintf("%.2f", costValue)),
	}

	if injectProblem {
		switch rng.Intn(6) {
		case 0:
			// billing delayed
			rec.Cost = ptr("N/A")
		case 1:
			rec.Cost = ptr("pending")
		case 2:
			rec.Team = nil
		case 3:
			rec.CostCenter = ptr("")
		case 4:
			// thousands separators
			rec.Cost = ptr(formatWithCommas(costValue))
		case 5:
			rec.Currency = nil
		}
	}

	return rec
}

func formatWithCommas(v float64) string {
	plain := fmt.Sprintf("%.2f", v)
	intPart := plain[:len(plain)-3]
	frac := plain[len(plain)-3:]

	var out []byte
	for i, digit := range []byte(intPart) {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, digit)
	}
	return string(out) + frac
}

func ptr(s string) *string {
	return &s
}
