package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedTelemetry is matched by every DecodeError.
var ErrMalformedTelemetry = errors.New("protocol: malformed telemetry")

// DecodeError reports a telemetry line that carried both level markers
// but could not be turned into numbers. The line is discarded.
type DecodeError struct {
	Line   string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("protocol: %s in %q", e.Reason, e.Line)
}

func (e *DecodeError) Unwrap() error { return ErrMalformedTelemetry }

// Decoder turns one trimmed device line into an Event.
type Decoder interface {
	Decode(line string) (Event, error)
}

// Phrases are the marker substrings emitted by the brewer firmware.
type Phrases struct {
	BeansMarker       string `yaml:"beans_marker" json:"beansMarker"`
	WaterMarker       string `yaml:"water_marker" json:"waterMarker"`
	BrewStarted       string `yaml:"brew_started" json:"brewStarted"`
	BrewFinished      string `yaml:"brew_finished" json:"brewFinished"`
	WaterRefilled     string `yaml:"water_refilled" json:"waterRefilled"`
	BeansRefilled     string `yaml:"beans_refilled" json:"beansRefilled"`
	InsufficientBeans string `yaml:"insufficient_beans" json:"insufficientBeans"`
}

// DefaultPhrases returns the wording used by the stock firmware.
func DefaultPhrases() Phrases {
	return Phrases{
		BeansMarker:       "Зерна:",
		WaterMarker:       "Вода:",
		BrewStarted:       "Варим кофе",
		BrewFinished:      "Готово!",
		WaterRefilled:     "Вода восстановлена",
		BeansRefilled:     "Зерна восстановлены",
		InsufficientBeans: "Недостаточно зёрен",
	}
}

// withDefaults fills empty phrases from DefaultPhrases.
func (p Phrases) withDefaults() Phrases {
	d := DefaultPhrases()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&p.BeansMarker, d.BeansMarker)
	fill(&p.WaterMarker, d.WaterMarker)
	fill(&p.BrewStarted, d.BrewStarted)
	fill(&p.BrewFinished, d.BrewFinished)
	fill(&p.WaterRefilled, d.WaterRefilled)
	fill(&p.BeansRefilled, d.BeansRefilled)
	fill(&p.InsufficientBeans, d.InsufficientBeans)
	return p
}

// TextDecoder matches free-text firmware lines by substring. Rules are
// checked in order and the first match wins.
type TextDecoder struct {
	phrases Phrases
}

// NewTextDecoder creates a decoder. Empty phrases fall back to the defaults.
func NewTextDecoder(p Phrases) *TextDecoder {
	return &TextDecoder{phrases: p.withDefaults()}
}

// Phrases returns the effective phrase set.
func (d *TextDecoder) Phrases() Phrases { return d.phrases }

func (d *TextDecoder) Decode(line string) (Event, error) {
	p := d.phrases
	switch {
	case strings.Contains(line, p.BeansMarker) && strings.Contains(line, p.WaterMarker):
		return d.decodeTelemetry(line)
	case strings.Contains(line, p.BrewStarted):
		return Event{Kind: BrewStarted, Line: line}, nil
	case strings.Contains(line, p.BrewFinished):
		return Event{Kind: BrewFinished, Line: line}, nil
	case strings.Contains(line, p.WaterRefilled):
		return Event{Kind: WaterRefilled, Line: line}, nil
	case strings.Contains(line, p.BeansRefilled):
		return Event{Kind: BeansRefilled, Line: line}, nil
	case strings.Contains(line, p.InsufficientBeans):
		return Event{Kind: InsufficientBeans, Line: line}, nil
	}
	return Event{Kind: Unrecognized, Line: line}, nil
}

// decodeTelemetry expects "<beans marker> N <water marker> M" somewhere in
// the line, commas allowed as thousands separators. Markers may contain
// spaces; runs of whitespace compare equal.
func (d *TextDecoder) decodeTelemetry(line string) (Event, error) {
	bad := func(reason string) (Event, error) {
		return Event{Kind: Unrecognized, Line: line}, &DecodeError{Line: line, Reason: reason}
	}

	beansMarker := normalize(d.phrases.BeansMarker)
	waterMarker := normalize(d.phrases.WaterMarker)

	_, rest, found := strings.Cut(normalize(line), beansMarker)
	if !found {
		return bad("unexpected telemetry layout")
	}
	beansTok, rest := nextField(rest)
	rest = strings.TrimSpace(rest)
	if beansTok == "" || !strings.HasPrefix(rest, waterMarker) {
		return bad("unexpected telemetry layout")
	}
	waterTok, _ := nextField(rest[len(waterMarker):])
	if waterTok == "" {
		return bad("unexpected telemetry layout")
	}

	beans, err := parseLevel(beansTok)
	if err != nil {
		return bad(fmt.Sprintf("bad beans value %q", beansTok))
	}
	water, err := parseLevel(waterTok)
	if err != nil {
		return bad(fmt.Sprintf("bad water value %q", waterTok))
	}
	return Event{Kind: Telemetry, Beans: beans, Water: water, Line: line}, nil
}

// normalize drops commas and collapses whitespace to single spaces.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(s, ",", "")), " ")
}

// nextField splits off the first space-separated field of s.
func nextField(s string) (field, rest string) {
	s = strings.TrimLeft(s, " ")
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i], s[i:]
	}
	return s, ""
}

func parseLevel(tok string) (int, error) {
	n, err := strconv.Atoi(tok)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative level %d", n)
	}
	return n, nil
}
