package services

import (
	"fmt"
	"strings"
)

type fixtureVenue struct {
	id       string
	name     string
	lat, lng string
}

type fixtureEvent struct {
	id, venueID, title string
	predate            string
}

func venuesXML(venues ...fixtureVenue) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n<venues>\n")
	for _, v := range venues {
		fmt.Fprintf(&b, "  <venue id=%q>\n    <venuee><![CDATA[%s]]></venuee>\n", v.id, v.name)
		if v.lat != "" {
			fmt.Fprintf(&b, "    <latitude>%s</latitude>\n", v.lat)
		}
		if v.lng != "" {
			fmt.Fprintf(&b, "    <longitude>%s</longitude>\n", v.lng)
		}
		b.WriteString("  </venue>\n")
	}
	b.WriteString("</venues>\n")
	return []byte(b.String())
}

func eventsXML(events ...fixtureEvent) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n<events>\n")
	for _, e := range events {
		fmt.Fprintf(&b, "  <event id=%q>\n    <titlee><![CDATA[%s]]></titlee>\n    <venueid><![CDATA[%s]]></venueid>\n", e.id, e.title, e.venueID)
		if e.predate != "" {
			fmt.Fprintf(&b, "    <predateE><![CDATA[%s]]></predateE>\n", e.predate)
		}
		b.WriteString("  </event>\n")
	}
	b.WriteString("</events>\n")
	return []byte(b.String())
}

func eventDatesXML(dates map[string][]string) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n<event_dates>\n")
	for id, labels := range dates {
		fmt.Fprintf(&b, "  <event id=%q>\n", id)
		for _, l := range labels {
			fmt.Fprintf(&b, "    <indate>%s</indate>\n", l)
		}
		b.WriteString("  </event>\n")
	}
	b.WriteString("</event_dates>\n")
	return []byte(b.String())
}

// catalogFixture builds a feed with n qualifying venues in Kowloon, each
// with eventsPer events
func catalogFixture(n, eventsPer int) ([]fixtureVenue, []fixtureEvent) {
	var venues []fixtureVenue
	var events []fixtureEvent
	for i := 0; i < n; i++ {
		vid := fmt.Sprintf("%d", 1000+i)
		venues = append(venues, fixtureVenue{
			id:   vid,
			name: "Venue " + vid,
			lat:  "22.30",
			lng:  fmt.Sprintf("114.%02d", 10+i%10),
		})
		for j := 0; j < eventsPer; j++ {
			events = append(events, fixtureEvent{
				id:      fmt.Sprintf("%s%02d", vid, j),
				venueID: vid,
				title:   fmt.Sprintf("Event %d at %s", j, vid),
			})
		}
	}
	return venues, events
}
