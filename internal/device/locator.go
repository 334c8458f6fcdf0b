package device

import (
	"strings"

	"github.com/rs/zerolog"
	"go.bug.st/serial/enumerator"
)

// DefaultMarkers match the USB product strings of common Arduino boards
// and CH340 clones.
var DefaultMarkers = []string{"Arduino", "CH340"}

// PortLister enumerates serial ports with their USB details.
type PortLister func() ([]*enumerator.PortDetails, error)

// Finder resolves the port the brewer is attached to.
type Finder interface {
	FindDevice() (string, bool)
}

// Candidate describes one enumerated port.
type Candidate struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	USB         bool   `json:"usb"`
	VID         string `json:"vid,omitempty"`
	PID         string `json:"pid,omitempty"`
	Match       bool   `json:"match"`
}

// Locator picks the first port whose description contains a known marker.
type Locator struct {
	markers []string
	list    PortLister
	log     zerolog.Logger
}

// NewLocator creates a Locator. A nil lister uses the system enumerator.
func NewLocator(markers []string, list PortLister, logger zerolog.Logger) *Locator {
	if len(markers) == 0 {
		markers = DefaultMarkers
	}
	if list == nil {
		list = enumerator.GetDetailedPortsList
	}
	return &Locator{
		markers: markers,
		list:    list,
		log:     logger.With().Str("component", "locator").Logger(),
	}
}

// Ports lists every enumerated port and whether it matches.
func (l *Locator) Ports() ([]Candidate, error) {
	ports, err := l.list()
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(ports))
	for _, p := range ports {
		if p == nil {
			continue
		}
		out = append(out, Candidate{
			Name:        p.Name,
			Description: p.Product,
			USB:         p.IsUSB,
			VID:         p.VID,
			PID:         p.PID,
			Match:       l.matches(p.Product),
		})
	}
	return out, nil
}

func (l *Locator) FindDevice() (string, bool) {
	ports, err := l.Ports()
	if err != nil {
		l.log.Warn().Err(err).Msg("port enumeration failed")
		return "", false
	}
	for _, p := range ports {
		if p.Match {
			l.log.Debug().Str("port", p.Name).Str("description", p.Description).Msg("device port found")
			return p.Name, true
		}
	}
	l.log.Debug().Int("ports", len(ports)).Msg("no matching port")
	return "", false
}

func (l *Locator) matches(description string) bool {
	for _, m := range l.markers {
		if m != "" && strings.Contains(description, m) {
			return true
		}
	}
	return false
}

// staticFinder always returns a configured port path.
type staticFinder string

func (f staticFinder) FindDevice() (string, bool) { return string(f), f != "" }

// FixedPort returns a Finder for a known port path, bypassing discovery.
func FixedPort(path string) Finder { return staticFinder(path) }
