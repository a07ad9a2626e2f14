package services

import (
	"testing"
)

func TestParseFeed_TextAndAttributes(t *testing.T) {
	raw := []byte(`<?xml version="1.0" encoding="UTF-8"?>
<venues>
  <venue id="87510008">
    <venuec>香港文化中心</venuec>
    <venuee lang="en">  Hong Kong Cultural Centre  </venuee>
    <latitude>22.29386</latitude>
    <longitude></longitude>
  </venue>
</venues>`)

	root, err := ParseFeed(raw)
	if err != nil {
		t.Fatalf("ParseFeed failed: %v", err)
	}

	venues := VenueNodes(root)
	if len(venues) != 1 {
		t.Fatalf("expected 1 venue, got %d", len(venues))
	}
	v := venues[0]

	if got := v.Attr("id"); got != "87510008" {
		t.Errorf("id attribute = %q", got)
	}
	if got := v.Text("venuee"); got != "Hong Kong Cultural Centre" {
		t.Errorf("attribute-wrapped text = %q", got)
	}
	if got := v.Text("venuec"); got != "香港文化中心" {
		t.Errorf("plain text = %q", got)
	}
	if got := v.Text("longitude"); got != "" {
		t.Errorf("empty element should give empty text, got %q", got)
	}
	if got := v.Text("missing"); got != "" {
		t.Errorf("missing element should give empty text, got %q", got)
	}
	if got := v.FirstText("lat", "latitude"); got != "22.29386" {
		t.Errorf("FirstText = %q", got)
	}
}

func TestParseFeed_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"unclosed element", "<venues><venue id=\"1\"></venues>"},
		{"empty document", ""},
		{"not xml", "this is not xml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseFeed([]byte(tt.raw)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseFeed_Big5(t *testing.T) {
	// "中" in Big5 is 0xA4 0xA4
	raw := append([]byte(`<?xml version="1.0" encoding="Big5"?><venues><venue id="1"><venuec>`), 0xA4, 0xA4)
	raw = append(raw, []byte(`</venuec></venue></venues>`)...)

	root, err := ParseFeed(raw)
	if err != nil {
		t.Fatalf("ParseFeed failed: %v", err)
	}
	if got := VenueNodes(root)[0].Text("venuec"); got != "中" {
		t.Errorf("transcoded text = %q, want 中", got)
	}
}

func TestEventDateNodes_RootVariants(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"event_dates root", `<event_dates><event id="1"/><event id="2"/></event_dates>`, 2},
		{"events root", `<events><event id="1"/></events>`, 1},
		{"unknown root", `<dates><event id="1"/></dates>`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root, err := ParseFeed([]byte(tt.raw))
			if err != nil {
				t.Fatalf("ParseFeed failed: %v", err)
			}
			if got := len(EventDateNodes(root)); got != tt.want {
				t.Errorf("got %d nodes, want %d", got, tt.want)
			}
		})
	}
}

func TestNode_NilSafe(t *testing.T) {
	var n *Node
	if n.Text("x") != "" || n.Attr("id") != "" || n.Child("x") != nil || len(n.ChildrenNamed("x")) != 0 {
		t.Error("nil node accessors should return zero values")
	}
	if len(VenueNodes(nil)) != 0 {
		t.Error("nil root should have no venues")
	}
}
