package notify

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"studiorelay/internal/fiche"
)

// Calendar renders iCalendar invites for fiches. Each fiche id keeps a
// SEQUENCE counter so that regenerated invites supersede prior ones in
// the recipient's calendar client.
type Calendar struct {
	mu  sync.Mutex
	seq map[string]int
}

func NewCalendar() *Calendar {
	return &Calendar{seq: make(map[string]int)}
}

// dateLayouts accepted for the fiche Date field, tried in order.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// escape applies RFC 5545 text escaping.
func escape(s string) string {
	r := strings.NewReplacer("\\", "\\\\", ";", "\\;", ",", "\\,", "\n", "\\n", "\r", "")
	return r.Replace(s)
}

// Invite renders one VEVENT for the fiche. The event starts at the fiche
// date and lasts one hour. Fiches without a parseable date get an all-day
// event for today so the invite is still usable.
func (c *Calendar) Invite(f fiche.Fiche) []byte {
	c.mu.Lock()
	seq := c.seq[f.ID]
	c.seq[f.ID] = seq + 1
	c.mu.Unlock()

	now := time.Now().UTC()
	stamp := now.Format("20060102T150405Z")

	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\n")
	b.WriteString("VERSION:2.0\r\n")
	b.WriteString("PRODID:-//studiorelay//fiche//FR\r\n")
	b.WriteString("METHOD:REQUEST\r\n")
	b.WriteString("BEGIN:VEVENT\r\n")
	fmt.Fprintf(&b, "UID:%s@studiorelay\r\n", f.ID)
	fmt.Fprintf(&b, "SEQUENCE:%d\r\n", seq)
	fmt.Fprintf(&b, "DTSTAMP:%s\r\n", stamp)

	if start, ok := parseDate(f.Date); ok {
		start = start.UTC()
		fmt.Fprintf(&b, "DTSTART:%s\r\n", start.Format("20060102T150405Z"))
		fmt.Fprintf(&b, "DTEND:%s\r\n", start.Add(time.Hour).Format("20060102T150405Z"))
	} else {
		fmt.Fprintf(&b, "DTSTART;VALUE=DATE:%s\r\n", now.Format("20060102"))
	}

	fmt.Fprintf(&b, "SUMMARY:%s\r\n", escape(f.Titre))
	if f.Notes != "" {
		fmt.Fprintf(&b, "DESCRIPTION:%s\r\n", escape(f.Notes))
	}
	if f.Email != "" {
		name := f.Invite
		if name == "" {
			name = f.Email
		}
		fmt.Fprintf(&b, "ATTENDEE;CN=%s;RSVP=TRUE:mailto:%s\r\n", escape(name), f.Email)
	}
	b.WriteString("END:VEVENT\r\n")
	b.WriteString("END:VCALENDAR\r\n")
	return []byte(b.String())
}
