package protocol

// Kind identifies the type of a decoded device line.
type Kind int

const (
	Unrecognized Kind = iota
	Telemetry
	BrewStarted
	BrewFinished
	WaterRefilled
	BeansRefilled
	InsufficientBeans
)

var kindNames = map[Kind]string{
	Unrecognized:      "unrecognized",
	Telemetry:         "telemetry",
	BrewStarted:       "brew_started",
	BrewFinished:      "brew_finished",
	WaterRefilled:     "water_refilled",
	BeansRefilled:     "beans_refilled",
	InsufficientBeans: "insufficient_beans",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is one decoded device line. Water and Beans are only meaningful
// for Telemetry events.
type Event struct {
	Kind  Kind
	Water int
	Beans int
	Line  string // Raw line as received
}
