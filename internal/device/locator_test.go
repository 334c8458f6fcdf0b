package device

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"
)

func listOf(ports ...*enumerator.PortDetails) PortLister {
	return func() ([]*enumerator.PortDetails, error) { return ports, nil }
}

func TestFindDeviceFirstMatch(t *testing.T) {
	l := NewLocator(nil, listOf(
		&enumerator.PortDetails{Name: "/dev/ttyS0", Product: ""},
		&enumerator.PortDetails{Name: "/dev/ttyUSB0", Product: "USB2.0-Serial CH340", IsUSB: true, VID: "1a86", PID: "7523"},
		&enumerator.PortDetails{Name: "/dev/ttyACM0", Product: "Arduino Uno", IsUSB: true},
	), zerolog.Nop())

	name, ok := l.FindDevice()
	require.True(t, ok)
	assert.Equal(t, "/dev/ttyUSB0", name)
}

func TestFindDeviceCaseSensitive(t *testing.T) {
	l := NewLocator([]string{"Arduino"}, listOf(
		&enumerator.PortDetails{Name: "/dev/ttyACM0", Product: "arduino uno"},
	), zerolog.Nop())

	_, ok := l.FindDevice()
	assert.False(t, ok)
}

func TestFindDeviceEnumerationError(t *testing.T) {
	l := NewLocator(nil, func() ([]*enumerator.PortDetails, error) {
		return nil, errors.New("no sysfs")
	}, zerolog.Nop())

	_, ok := l.FindDevice()
	assert.False(t, ok)
}

func TestPortsReportsMatches(t *testing.T) {
	l := NewLocator([]string{"Brewer"}, listOf(
		&enumerator.PortDetails{Name: "COM3", Product: "Brewer v2", IsUSB: true, VID: "2341", PID: "0043"},
		nil,
		&enumerator.PortDetails{Name: "COM1", Product: "Communications Port"},
	), zerolog.Nop())

	ports, err := l.Ports()
	require.NoError(t, err)
	require.Len(t, ports, 2)
	assert.Equal(t, Candidate{Name: "COM3", Description: "Brewer v2", USB: true, VID: "2341", PID: "0043", Match: true}, ports[0])
	assert.False(t, ports[1].Match)
}

func TestFixedPort(t *testing.T) {
	name, ok := FixedPort("/dev/ttyBrewer").FindDevice()
	assert.True(t, ok)
	assert.Equal(t, "/dev/ttyBrewer", name)

	_, ok = FixedPort("").FindDevice()
	assert.False(t, ok)
}
