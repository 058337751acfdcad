// Package calendar parses iCalendar invite payloads into invite projections
// and generates RSVP replies. The parser is deliberately line-oriented; it
// handles the VEVENT subset that mail providers actually emit rather than the
// full RFC 5545 grammar.
package calendar

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/brandon/jmapmail/pkg/types"
)

// ParseICS parses an ICS payload into a CalendarInvite. Returns nil when the
// payload has no VCALENDAR wrapper, no VEVENT, no UID, or no parseable start
// time.
func ParseICS(data string) *types.CalendarInvite {
	data = strings.TrimSpace(data)
	if !strings.Contains(data, "BEGIN:VCALENDAR") {
		return nil
	}

	method := extractProperty(data, "METHOD")
	if method == "" {
		method = "REQUEST"
	}

	start := strings.Index(data, "BEGIN:VEVENT")
	end := strings.Index(data, "END:VEVENT")
	if start < 0 || end < 0 {
		return nil
	}
	vevent := unfoldLines(data[start : end+len("END:VEVENT")])

	uid := extractProperty(vevent, "UID")
	if uid == "" {
		return nil
	}

	dtstart := parseDatetimeProperty(vevent, "DTSTART")
	if dtstart == nil {
		return nil
	}

	sequence := 0
	if s := extractProperty(vevent, "SEQUENCE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			sequence = n
		}
	}

	organizerEmail, organizerName := parseOrganizer(vevent)

	return &types.CalendarInvite{
		UID:            uid,
		Summary:        extractProperty(vevent, "SUMMARY"),
		Start:          *dtstart,
		End:            parseDatetimeProperty(vevent, "DTEND"),
		Location:       extractProperty(vevent, "LOCATION"),
		Description:    extractProperty(vevent, "DESCRIPTION"),
		OrganizerEmail: organizerEmail,
		OrganizerName:  organizerName,
		Attendees:      parseAttendees(vevent),
		Sequence:       sequence,
		Cancelled:      strings.EqualFold(method, "CANCEL"),
		RawICS:         data,
	}
}

// unfoldLines joins RFC 5545 folded lines: a line break followed by a single
// space or tab continues the previous line.
func unfoldLines(s string) string {
	r := strings.NewReplacer("\r\n ", "", "\r\n\t", "", "\n ", "", "\n\t", "")
	return r.Replace(s)
}

// extractProperty returns the value of the first "NAME:value" or
// "NAME;params:value" line, or empty string.
func extractProperty(text, name string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		rest, ok := strings.CutPrefix(line, name)
		if !ok {
			continue
		}
		if value, ok := strings.CutPrefix(rest, ":"); ok {
			return value
		}
		if strings.HasPrefix(rest, ";") {
			if colon := strings.Index(rest, ":"); colon >= 0 {
				return rest[colon+1:]
			}
		}
	}
	return ""
}

// parseDatetimeProperty parses DTSTART/DTEND values. All-day dates
// (VALUE=DATE or a bare YYYYMMDD) resolve to midnight UTC; local datetimes
// without a Z suffix are treated as UTC.
func parseDatetimeProperty(text, name string) *time.Time {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if !strings.HasPrefix(line, name) {
			continue
		}

		rest := line[len(name):]
		var value string
		if v, ok := strings.CutPrefix(rest, ":"); ok {
			value = v
		} else if strings.HasPrefix(rest, ";") {
			colon := strings.Index(rest, ":")
			if colon < 0 {
				return nil
			}
			value = rest[colon+1:]
		} else {
			continue
		}
		value = strings.TrimSpace(value)

		dateOnly := strings.Contains(rest, "VALUE=DATE") && !strings.Contains(rest, "VALUE=DATE-TIME")
		if dateOnly || len(value) == 8 {
			t, err := time.Parse("20060102", value)
			if err != nil {
				return nil
			}
			return &t
		}

		t, err := time.Parse("20060102T150405", strings.TrimSuffix(value, "Z"))
		if err != nil {
			return nil
		}
		return &t
	}
	return nil
}

func parseOrganizer(text string) (email, name string) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if !strings.HasPrefix(line, "ORGANIZER") {
			continue
		}
		return extractMailto(line), extractParam(line, "CN")
	}
	return "", ""
}

func parseAttendees(text string) []types.Attendee {
	var attendees []types.Attendee
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if !strings.HasPrefix(line, "ATTENDEE") {
			continue
		}

		email := extractMailto(line)
		if email == "" {
			continue
		}
		status := extractParam(line, "PARTSTAT")
		if status == "" {
			status = "NEEDS-ACTION"
		}
		attendees = append(attendees, types.Attendee{
			Email:  email,
			Name:   extractParam(line, "CN"),
			Status: status,
		})
	}
	return attendees
}

// extractMailto pulls the address out of a mailto: URI on the line.
func extractMailto(line string) string {
	pos := strings.Index(strings.ToLower(line), "mailto:")
	if pos < 0 {
		return ""
	}
	rest := line[pos+len("mailto:"):]
	if end := strings.IndexAny(rest, ";,\r\n "); end >= 0 {
		rest = rest[:end]
	}
	return rest
}

// extractParam pulls a NAME=value parameter, quoted or bare.
func extractParam(line, paramName string) string {
	pos := strings.Index(line, paramName+"=")
	if pos < 0 {
		return ""
	}
	rest := line[pos+len(paramName)+1:]

	if quoted, ok := strings.CutPrefix(rest, `"`); ok {
		end := strings.Index(quoted, `"`)
		if end < 0 {
			return ""
		}
		return quoted[:end]
	}
	if end := strings.IndexAny(rest, ";:,\r\n"); end >= 0 {
		return rest[:end]
	}
	return rest
}

// GenerateRSVP builds a METHOD:REPLY calendar payload answering an invite
// with the given participation status (ACCEPTED, TENTATIVE, DECLINED). The
// attendee's display name is carried over from the invite when present.
func GenerateRSVP(invite *types.CalendarInvite, attendeeEmail, status string) string {
	var cnParam string
	for _, a := range invite.Attendees {
		if strings.EqualFold(a.Email, attendeeEmail) && a.Name != "" {
			cnParam = ";CN=" + a.Name
			break
		}
	}

	var organizerCN string
	if invite.OrganizerName != "" {
		organizerCN = ";CN=" + invite.OrganizerName
	}

	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\n")
	b.WriteString("VERSION:2.0\r\n")
	b.WriteString("PRODID:-//jmapmail//EN\r\n")
	b.WriteString("METHOD:REPLY\r\n")
	b.WriteString("BEGIN:VEVENT\r\n")
	fmt.Fprintf(&b, "UID:%s\r\n", invite.UID)
	fmt.Fprintf(&b, "DTSTART:%s\r\n", formatDatetime(invite.Start))
	if invite.End != nil {
		fmt.Fprintf(&b, "DTEND:%s\r\n", formatDatetime(*invite.End))
	}
	fmt.Fprintf(&b, "SUMMARY:%s\r\n", invite.Summary)
	fmt.Fprintf(&b, "ORGANIZER%s:mailto:%s\r\n", organizerCN, invite.OrganizerEmail)
	fmt.Fprintf(&b, "ATTENDEE%s;PARTSTAT=%s:mailto:%s\r\n", cnParam, status, attendeeEmail)
	fmt.Fprintf(&b, "SEQUENCE:%d\r\n", invite.Sequence)
	b.WriteString("END:VEVENT\r\n")
	b.WriteString("END:VCALENDAR")
	return b.String()
}

func formatDatetime(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

// UpdatePartstat rewrites an invite's attendee list with a new participation
// status for one address, for rendering the updated state locally after an
// RSVP is sent.
func UpdatePartstat(invite *types.CalendarInvite, attendeeEmail, status string) {
	for i := range invite.Attendees {
		if strings.EqualFold(invite.Attendees[i].Email, attendeeEmail) {
			invite.Attendees[i].Status = status
		}
	}
}
