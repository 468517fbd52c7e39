// Package battery reads the charge level shown in the calendar footer.
package battery

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	appLog "einkcal/internal/log"
)

// Status is one gauge reading.
type Status struct {
	// Percent is the charge level, 0..100.
	Percent int `json:"percent"`
	// VoltageMv is the cell voltage in millivolts, 0 when unknown.
	VoltageMv int `json:"voltage_mv"`
}

// Label is the footer text for s.
func (s Status) Label() string {
	return fmt.Sprintf("Battery %d%%", s.Percent)
}

// Reader abstracts where readings come from.
type Reader interface {
	Read(ctx context.Context) (Status, error)
}

// Fixed is a Reader that always reports the same level. It stands in for the
// gauge on development machines and in tests.
type Fixed int

func (f Fixed) Read(context.Context) (Status, error) {
	return Status{Percent: clampPercent(int(f))}, nil
}

// Gauge register map (PiSugar-style fuel gauge):
//
//	0x22/0x23  voltage in mV, high byte first
//	0x2A       charge percent
const (
	regVoltageHigh = 0x22
	regVoltageLow  = 0x23
	regPercent     = 0x2A
)

var hostInit = sync.OnceValue(func() error {
	_, err := host.Init()
	return err
})

// I2C reads a fuel gauge over periph.io.
type I2C struct {
	Bus  string // "" selects the default bus
	Addr uint16
}

func (r *I2C) Read(ctx context.Context) (Status, error) {
	if runtime.GOOS != "linux" {
		return Status{}, errors.New("battery: i2c is only available on linux")
	}
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}
	if err := hostInit(); err != nil {
		return Status{}, fmt.Errorf("battery: host init: %w", err)
	}
	bus, err := i2creg.Open(r.Bus)
	if err != nil {
		return Status{}, fmt.Errorf("battery: open bus: %w", err)
	}
	defer bus.Close()

	dev := &i2c.Dev{Bus: bus, Addr: r.Addr}
	read := func(reg byte) (byte, error) {
		buf := []byte{0}
		if err := dev.Tx([]byte{reg}, buf); err != nil {
			return 0, fmt.Errorf("battery: read register %#x: %w", reg, err)
		}
		return buf[0], nil
	}

	hi, err := read(regVoltageHigh)
	if err != nil {
		return Status{}, err
	}
	lo, err := read(regVoltageLow)
	if err != nil {
		return Status{}, err
	}
	pct, err := read(regPercent)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Percent:   clampPercent(int(pct)),
		VoltageMv: int(hi)<<8 | int(lo),
	}, nil
}

// Footer returns the footer label, or "" when r is nil or the read fails.
// A missing gauge must never block a render.
func Footer(ctx context.Context, r Reader) string {
	if r == nil {
		return ""
	}
	st, err := r.Read(ctx)
	if err != nil {
		appLog.Warn("battery read failed", "err", err)
		return ""
	}
	return st.Label()
}

func clampPercent(p int) int {
	return min(max(p, 0), 100)
}
