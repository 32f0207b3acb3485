package attr

import "testing"

// Scenario 1: prepending the local AS to an existing
// AS_SEQ must merge into the leading segment rather than creating a new one.
func TestPrependMergesLeadingSequence(t *testing.T) {
	p := ASPath{Segments: []Segment{{Type: SegSequence, ASNs: []ASN{200, 300}}}}
	got := p.Prepend(100)
	want := "100 200 300"
	if got.String() != want {
		t.Fatalf("Prepend: got %q want %q", got.String(), want)
	}
	if got.Length() != 3 {
		t.Fatalf("Length after prepend: got %d want 3", got.Length())
	}
}

func TestPrependOntoNonSequenceLeadsWithNewSegment(t *testing.T) {
	p := ASPath{Segments: []Segment{{Type: SegSet, ASNs: []ASN{200, 300}}}}
	got := p.Prepend(100)
	want := "100 {200 300}"
	if got.String() != want {
		t.Fatalf("Prepend: got %q want %q", got.String(), want)
	}
}

// An AS_SET contributes one to path length however many ASNs it holds, and
// the canonical string uses asdot for ASNs >= 65536.
func TestLengthCountsSetOnceAndFormatsAsdot(t *testing.T) {
	p, err := ParseASPath("1 2 3 {4} 4294967295")
	if err != nil {
		t.Fatalf("ParseASPath: %v", err)
	}
	if got, want := p.Length(), 5; got != want {
		t.Fatalf("Length: got %d want %d", got, want)
	}
	if got, want := p.String(), "1 2 3 {4} 65535.65535"; got != want {
		t.Fatalf("String: got %q want %q", got, want)
	}
}

// Scenario 1 verbatim: parse "10 11 12", prepend
// "1 2 3", stringify -> "1 2 3 10 11 12", length 6.
func TestScenarioASPathPrepend(t *testing.T) {
	p, err := ParseASPath("10 11 12")
	if err != nil {
		t.Fatalf("ParseASPath: %v", err)
	}
	prepend, err := ParseASPath("1 2 3")
	if err != nil {
		t.Fatalf("ParseASPath: %v", err)
	}
	got := p.Prepend(prepend.Segments[0].ASNs...)
	if want := "1 2 3 10 11 12"; got.String() != want {
		t.Fatalf("String: got %q want %q", got.String(), want)
	}
	if got.Length() != 6 {
		t.Fatalf("Length: got %d want 6", got.Length())
	}
}

// Scenario 2 verbatim: parse "1 (2 3) 4", length = 2.
func TestScenarioASPathConfederationLength(t *testing.T) {
	p, err := ParseASPath("1 (2 3) 4")
	if err != nil {
		t.Fatalf("ParseASPath: %v", err)
	}
	if got, want := p.Length(), 2; got != want {
		t.Fatalf("Length: got %d want %d", got, want)
	}
}

func TestConfedSequenceContributesZeroLength(t *testing.T) {
	p, err := ParseASPath("100 (65001 65002) 200")
	if err != nil {
		t.Fatalf("ParseASPath: %v", err)
	}
	if got, want := p.Length(), 2; got != want {
		t.Fatalf("Length: got %d want %d", got, want)
	}
}

func TestParseASPathRoundTrip(t *testing.T) {
	cases := []string{
		"",
		"100 200 300",
		"{100 200}",
		"100 {200 300} 400",
		"(65001 65002) 100",
		"[65003] 100 200",
		"1 2 3 {4} 65535.65535",
	}
	for _, text := range cases {
		p, err := ParseASPath(text)
		if err != nil {
			t.Fatalf("ParseASPath(%q): %v", text, err)
		}
		if got := p.String(); got != text {
			t.Fatalf("round trip %q: got %q", text, got)
		}
	}
}

func TestContainsAS(t *testing.T) {
	p, err := ParseASPath("100 (65001) 200")
	if err != nil {
		t.Fatalf("ParseASPath: %v", err)
	}
	if !p.ContainsAS(200) {
		t.Fatalf("expected ContainsAS(200) to be true")
	}
	if p.ContainsAS(65001) {
		t.Fatalf("ContainsAS must not match within a confederation segment")
	}
	if p.ContainsAS(999) {
		t.Fatalf("ContainsAS(999) should be false")
	}
}

func TestFormatASNAsdotThreshold(t *testing.T) {
	if got, want := formatASN(65535), "65535"; got != want {
		t.Fatalf("formatASN(65535): got %q want %q", got, want)
	}
	if got, want := formatASN(65536), "1.0"; got != want {
		t.Fatalf("formatASN(65536): got %q want %q", got, want)
	}
}
