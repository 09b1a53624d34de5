package calendar

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"
)

const maxOccurrencesPerEvent = 1000

// Event is a normalized VEVENT.
type Event struct {
	UID         string
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool
	RRule       string
}

// Occurrence is one concrete instance of an event inside a Window.
type Occurrence struct {
	UID      string
	Summary  string
	Location string
	Start    time.Time
	End      time.Time
	AllDay   bool
}

// Window bounds recurrence expansion. A zero window disables expansion.
type Window struct {
	Start time.Time
	End   time.Time
}

// IsZero reports whether the window is unset.
func (w Window) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

// Result is the outcome of Inspect.
type Result struct {
	ProdID      string
	Method      string
	Events      []Event
	Occurrences []Occurrence
	// Skipped counts VEVENTs that could not be normalized.
	Skipped int
	// Truncated lists UIDs whose expansion hit the per-event cap.
	Truncated []string
}

// Validate reports whether body is a parseable VCALENDAR.
func Validate(body []byte) error {
	_, err := parse(body)
	return err
}

// Inspect parses body and expands recurring events inside w.
func Inspect(body []byte, w Window) (Result, error) {
	var res Result
	if !w.IsZero() && w.End.Before(w.Start) {
		return res, errors.New("window end is before window start")
	}

	cal, err := parse(body)
	if err != nil {
		return res, err
	}

	for _, p := range cal.CalendarProperties {
		switch ical.Property(p.IANAToken) {
		case ical.PropertyProductId:
			res.ProdID = p.Value
		case ical.PropertyMethod:
			res.Method = p.Value
		}
	}

	for _, ve := range cal.Events() {
		ev, err := normalize(ve)
		if err != nil {
			res.Skipped++
			continue
		}
		res.Events = append(res.Events, ev)
	}
	sort.SliceStable(res.Events, func(i, j int) bool { return res.Events[i].Start.Before(res.Events[j].Start) })

	if w.IsZero() {
		return res, nil
	}
	for _, ev := range res.Events {
		occ, capped, err := expand(ev, w)
		if err != nil {
			res.Skipped++
			continue
		}
		if capped {
			res.Truncated = append(res.Truncated, ev.UID)
		}
		res.Occurrences = append(res.Occurrences, occ...)
	}
	sort.SliceStable(res.Occurrences, func(i, j int) bool { return res.Occurrences[i].Start.Before(res.Occurrences[j].Start) })
	return res, nil
}

func parse(body []byte) (*ical.Calendar, error) {
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(body, []byte("\xef\xbb\xbf")))
	if len(trimmed) == 0 {
		return nil, errors.New("empty calendar payload")
	}
	if !bytes.HasPrefix(bytes.ToUpper(trimmed[:min(len(trimmed), 15)]), []byte("BEGIN:VCALENDAR")) {
		return nil, errors.New("payload is not a VCALENDAR")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(trimmed))
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}
	return cal, nil
}

func normalize(ve *ical.VEvent) (Event, error) {
	var ev Event
	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		ev.UID = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		ev.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		ev.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		ev.Location = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		ev.RRule = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return ev, errors.New("missing DTSTART")
	}
	ev.AllDay = isDateOnly(dtStart)

	var err error
	if ev.AllDay {
		ev.Start, err = ve.GetAllDayStartAt()
	} else {
		ev.Start, err = ve.GetStartAt()
	}
	if err != nil {
		return ev, fmt.Errorf("DTSTART: %w", err)
	}

	switch {
	case ve.GetProperty(ical.ComponentPropertyDtEnd) == nil:
		ev.End = ev.Start
		if ev.AllDay {
			ev.End = ev.Start.AddDate(0, 0, 1)
		}
	case ev.AllDay:
		ev.End, err = ve.GetAllDayEndAt()
	default:
		ev.End, err = ve.GetEndAt()
	}
	if err != nil {
		return ev, fmt.Errorf("DTEND: %w", err)
	}
	return ev, nil
}

func isDateOnly(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func expand(ev Event, w Window) ([]Occurrence, bool, error) {
	dur := ev.End.Sub(ev.Start)
	if ev.RRule == "" {
		if ev.End.Before(w.Start) || w.End.Before(ev.Start) {
			return nil, false, nil
		}
		return []Occurrence{occurrence(ev, ev.Start, ev.End)}, false, nil
	}

	r, err := rrule.StrToRRule(ev.RRule)
	if err != nil {
		return nil, false, fmt.Errorf("parse RRULE %q: %w", ev.RRule, err)
	}
	r.DTStart(ev.Start)

	loc := ev.Start.Location()
	starts := r.Between(w.Start.In(loc), w.End.In(loc), true)
	capped := false
	if len(starts) > maxOccurrencesPerEvent {
		starts = starts[:maxOccurrencesPerEvent]
		capped = true
	}

	out := make([]Occurrence, 0, len(starts))
	for _, s := range starts {
		out = append(out, occurrence(ev, s, s.Add(dur)))
	}
	return out, capped, nil
}

func occurrence(ev Event, start, end time.Time) Occurrence {
	return Occurrence{
		UID:      ev.UID,
		Summary:  ev.Summary,
		Location: ev.Location,
		Start:    start,
		End:      end,
		AllDay:   ev.AllDay,
	}
}
