package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/insideout-learning/insideout/services/availability-service/internal/slots"
	"github.com/insideout-learning/insideout/services/availability-service/internal/storage"
)

// Store is the repository surface the handlers need. *storage.Repository
// satisfies it; tests plug in a fake.
type Store interface {
	GetConfig(ctx context.Context, tutorID string) (storage.Config, error)
	ReplaceConfig(ctx context.Context, tutorID string, cfg storage.Config) error
	Snapshot(ctx context.Context, tutorID string, from, to time.Time) (slots.Snapshot, error)
}

type Handler struct {
	store          Store
	defaultTutorID string

	// Now is overridable in tests; nil means time.Now.
	Now func() time.Time
}

func New(store Store, defaultTutorID string) *Handler {
	return &Handler{store: store, defaultTutorID: defaultTutorID}
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func tutorIDFromHeader(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-Id"))
}

func (h *Handler) publicTutorID(r *http.Request) string {
	if id := strings.TrimSpace(r.URL.Query().Get("tutor_id")); id != "" {
		return id
	}
	return h.defaultTutorID
}

type slotPayload struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type dayPayload struct {
	DayOfWeek int           `json:"day_of_week"`
	Slots     []slotPayload `json:"slots"`
}

type availabilityPayload struct {
	MonthStart       *int         `json:"month_start"`
	MonthEnd         *int         `json:"month_end"`
	Days             []dayPayload `json:"days"`
	UnavailableDates []string     `json:"unavailable_dates"`
}

func configToPayload(cfg storage.Config) availabilityPayload {
	out := availabilityPayload{
		MonthStart: cfg.MonthStart,
		MonthEnd:   cfg.MonthEnd,
		Days:       []dayPayload{},
	}
	for _, d := range cfg.Days {
		day := dayPayload{DayOfWeek: d.DayOfWeek, Slots: []slotPayload{}}
		for _, rng := range d.Ranges {
			day.Slots = append(day.Slots, slotPayload{
				StartTime: slots.FormatClock(rng.StartMinute),
				EndTime:   slots.FormatClock(rng.EndMinute),
			})
		}
		out.Days = append(out.Days, day)
	}
	sort.Slice(out.Days, func(i, j int) bool { return out.Days[i].DayOfWeek < out.Days[j].DayOfWeek })
	out.UnavailableDates = []string{}
	for _, d := range cfg.UnavailableDates {
		out.UnavailableDates = append(out.UnavailableDates, slots.DateKey(d))
	}
	return out
}

func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tutorID := tutorIDFromHeader(r)
	if tutorID == "" {
		http.Error(w, "missing X-User-Id", http.StatusBadRequest)
		return
	}

	cfg, err := h.store.GetConfig(r.Context(), tutorID)
	if err != nil {
		http.Error(w, "failed to load availability", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(configToPayload(cfg))
}

func (h *Handler) UpsertAvailability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tutorID := tutorIDFromHeader(r)
	if tutorID == "" {
		http.Error(w, "missing X-User-Id", http.StatusBadRequest)
		return
	}

	var req availabilityPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	cfg, msg := validateAvailability(req)
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	if err := h.store.ReplaceConfig(r.Context(), tutorID, cfg); err != nil {
		http.Error(w, "failed to save availability", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// validateAvailability applies the producer-side rules: month bounds 1..12
// with start<=end, at least one day, weekdays 1..7 without duplicates, each
// day's slots sorted with start<end and no intra-day overlap, unavailable
// dates well-formed and inside the month window when one is set. The
// resolver itself is tolerant of bad data; this endpoint is not.
func validateAvailability(req availabilityPayload) (storage.Config, string) {
	var cfg storage.Config

	for _, m := range []*int{req.MonthStart, req.MonthEnd} {
		if m != nil && (*m < 1 || *m > 12) {
			return cfg, "month bounds must be between 1 and 12"
		}
	}
	if req.MonthStart != nil && req.MonthEnd != nil && *req.MonthStart > *req.MonthEnd {
		return cfg, "month_start must not be after month_end"
	}
	cfg.MonthStart = req.MonthStart
	cfg.MonthEnd = req.MonthEnd

	if len(req.Days) == 0 {
		return cfg, "at least one day is required"
	}

	seenDay := map[int]struct{}{}
	for _, d := range req.Days {
		if d.DayOfWeek < 1 || d.DayOfWeek > 7 {
			return cfg, "day_of_week must be between 1 and 7"
		}
		if _, dup := seenDay[d.DayOfWeek]; dup {
			return cfg, "duplicate day_of_week"
		}
		seenDay[d.DayOfWeek] = struct{}{}

		if len(d.Slots) == 0 {
			return cfg, "each day needs at least one slot"
		}

		ranges := make([]slots.TimeRange, 0, len(d.Slots))
		for _, s := range d.Slots {
			start, err := slots.ParseClock(s.StartTime)
			if err != nil {
				return cfg, "invalid start_time"
			}
			end, err := slots.ParseClock(s.EndTime)
			if err != nil {
				return cfg, "invalid end_time"
			}
			if start >= end {
				return cfg, "start_time must be before end_time"
			}
			ranges = append(ranges, slots.TimeRange{StartMinute: start, EndMinute: end})
		}
		sort.Slice(ranges, func(i, j int) bool { return ranges[i].StartMinute < ranges[j].StartMinute })
		for i := 1; i < len(ranges); i++ {
			if ranges[i].StartMinute < ranges[i-1].EndMinute {
				return cfg, "overlapping slots on the same day"
			}
		}

		cfg.Days = append(cfg.Days, storage.DayConfig{DayOfWeek: d.DayOfWeek, Ranges: ranges})
	}

	seenDate := map[string]struct{}{}
	for _, raw := range req.UnavailableDates {
		d, err := time.Parse("2006-01-02", strings.TrimSpace(raw))
		if err != nil {
			return cfg, "invalid unavailable date"
		}
		if req.MonthStart != nil && req.MonthEnd != nil {
			m := int(d.Month())
			if m < *req.MonthStart || m > *req.MonthEnd {
				return cfg, "unavailable date outside month window"
			}
		}
		key := slots.DateKey(d)
		if _, dup := seenDate[key]; dup {
			continue
		}
		seenDate[key] = struct{}{}
		cfg.UnavailableDates = append(cfg.UnavailableDates, d)
	}

	return cfg, ""
}

func (h *Handler) PublicAvailability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cfg, err := h.store.GetConfig(r.Context(), h.publicTutorID(r))
	if err != nil {
		http.Error(w, "failed to load availability", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(configToPayload(cfg))
}

type slotResponse struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func (h *Handler) PublicSlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	if dateStr == "" {
		http.Error(w, "date is required (YYYY-MM-DD)", http.StatusBadRequest)
		return
	}
	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}

	today := h.now().UTC()
	snap, err := h.store.Snapshot(r.Context(), h.publicTutorID(r), today, today.AddDate(0, 0, slots.HorizonDays))
	if err != nil {
		http.Error(w, "failed to load availability", http.StatusInternalServerError)
		return
	}

	out := []slotResponse{}
	if slots.DateSelectable(snap, date, today) {
		for _, s := range snap.SlotsFor(date) {
			out = append(out, slotResponse{
				StartTime: slots.FormatClock(s.StartMinute),
				EndTime:   slots.FormatClock(s.EndMinute),
			})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"date":  dateStr,
		"slots": out,
	})
}

type selectableDay struct {
	Date       string `json:"date"`
	Selectable bool   `json:"selectable"`
}

func (h *Handler) PublicSelectableDays(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	fromStr := strings.TrimSpace(r.URL.Query().Get("from"))
	toStr := strings.TrimSpace(r.URL.Query().Get("to"))
	if fromStr == "" || toStr == "" {
		http.Error(w, "from and to are required (YYYY-MM-DD)", http.StatusBadRequest)
		return
	}
	from, err := time.Parse("2006-01-02", fromStr)
	if err != nil {
		http.Error(w, "invalid from", http.StatusBadRequest)
		return
	}
	to, err := time.Parse("2006-01-02", toStr)
	if err != nil {
		http.Error(w, "invalid to", http.StatusBadRequest)
		return
	}
	if to.Before(from) {
		http.Error(w, "to must not be before from", http.StatusBadRequest)
		return
	}
	// Anything past the booking horizon is never selectable, so cap the
	// scan instead of iterating an arbitrary range.
	today := h.now().UTC()
	horizon := today.AddDate(0, 0, slots.HorizonDays)
	if to.After(horizon) {
		to = horizon
	}

	snap, err := h.store.Snapshot(r.Context(), h.publicTutorID(r), today, horizon)
	if err != nil {
		http.Error(w, "failed to load availability", http.StatusInternalServerError)
		return
	}

	days := []selectableDay{}
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		days = append(days, selectableDay{
			Date:       slots.DateKey(d),
			Selectable: slots.DateSelectable(snap, d, today),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"days": days})
}
