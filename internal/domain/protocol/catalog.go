package protocol

import (
	"fmt"
	"sort"
	"sync"
)

const (
	Paracetamol   Order = "paracetamol"
	Morphine      Order = "morphine"
	Dopamine      Order = "dopamine"
	Noradrenaline Order = "noradrenaline"
)

var (
	// NoPain is met when the pain score is zero or below.
	NoPain = NewTarget("noPain", func(s Sign) bool {
		n, _ := s.Int()
		return n <= 0
	}, KindPainScore)

	NoLiverFailure = NewTarget("noLiverFailure", func(s Sign) bool {
		b, _ := s.Bool()
		return !b
	}, KindLiverFailure)

	HasCentralVenousLine = NewTarget("hasCentralVenousLine", func(s Sign) bool {
		b, _ := s.Bool()
		return b
	}, KindCentralVenousLine)
)

// BloodPressureAbove is met when every blood pressure reading exceeds mmHg.
func BloodPressureAbove(mmHg int) Target {
	return NewTarget(fmt.Sprintf("bloodPressure>%d", mmHg), func(s Sign) bool {
		n, _ := s.Int()
		return n > mmHg
	}, KindBloodPressure)
}

// BloodPressureBelow is met when every blood pressure reading is under mmHg.
func BloodPressureBelow(mmHg int) Target {
	return NewTarget(fmt.Sprintf("bloodPressure<%d", mmHg), func(s Sign) bool {
		n, _ := s.Int()
		return n < mmHg
	}, KindBloodPressure)
}

// PainProtocol escalates from paracetamol to morphine. Paracetamol is only
// given without liver failure.
func PainProtocol() Protocol {
	return NewProtocol("pain",
		NewStep(NewTreatment(NoPain, Paracetamol), Is(NoLiverFailure)),
		NewStep(NewTreatment(NoPain, Morphine)),
	)
}

// BloodPressureProtocol escalates from dopamine to noradrenaline, the latter
// requiring a central venous line.
func BloodPressureProtocol() Protocol {
	return NewProtocol("blood-pressure",
		NewStep(NewTreatment(BloodPressureAbove(60), Dopamine),
			Is(BloodPressureBelow(160))),
		NewStep(NewTreatment(BloodPressureAbove(60), Noradrenaline),
			Is(HasCentralVenousLine), Is(BloodPressureBelow(160))),
	)
}

// Catalog is a named set of protocols safe for concurrent use.
type Catalog struct {
	mu        sync.RWMutex
	protocols map[string]Protocol
}

func NewCatalog(protocols ...Protocol) *Catalog {
	c := &Catalog{protocols: make(map[string]Protocol, len(protocols))}
	for _, p := range protocols {
		c.protocols[p.Name()] = p
	}
	return c
}

// DefaultCatalog holds the built-in pain and blood pressure protocols.
func DefaultCatalog() *Catalog {
	return NewCatalog(PainProtocol(), BloodPressureProtocol())
}

// Register validates p and adds it, replacing any protocol with that name.
func (c *Catalog) Register(p Protocol) error {
	if p.Name() == "" {
		return fmt.Errorf("protocol name is required")
	}
	if err := p.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.protocols[p.Name()] = p
	c.mu.Unlock()
	return nil
}

func (c *Catalog) Get(name string) (Protocol, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.protocols[name]
	return p, ok
}

// Names lists registered protocol names alphabetically.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.protocols))
	for n := range c.protocols {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.protocols)
}
