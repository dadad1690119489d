// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cpu simulates the execution units of the kernel.
//
// Each CPU carries an interrupt-enable flag and a nesting counter that makes
// interrupt masking composable: PushOff and PopOff are like cli and sti
// except that they are matched. It takes two PopOff calls to undo two
// PushOff calls, and if interrupts were already off, PushOff followed by
// PopOff leaves them off.
//
// A CPU is driven by at most one goroutine at a time, and handlers only run
// on that goroutine. Only Post, Pending and InterruptsEnabled may be called
// from other goroutines.
package cpu

import (
	"fmt"

	"gvisor.dev/kmux/pkg/atomicbitops"
	"gvisor.dev/kmux/pkg/sync"
)

// Handler is a simulated interrupt handler. It runs on the interrupted CPU
// with interrupts disabled.
type Handler func(c *CPU)

// CPU is a simulated execution unit.
type CPU struct {
	id int

	// intr is the current interrupt-enable flag.
	intr atomicbitops.Bool

	// ncli is the PushOff nesting depth and intena records whether
	// interrupts were enabled before the outermost PushOff. Both are only
	// accessed by the goroutine driving the CPU.
	ncli   int
	intena bool

	// delivering is set while pending handlers are being run, so that the
	// PopOff ending a handler does not start a nested delivery. Like ncli it
	// is only accessed by the driving goroutine.
	delivering bool

	// mu protects pending.
	mu      sync.Mutex
	pending []Handler
}

// New returns a CPU with the given id and interrupts enabled.
func New(id int) *CPU {
	c := &CPU{id: id}
	c.intr.Store(true)
	return c
}

// NewSet returns n CPUs with ids 0 through n-1, interrupts enabled.
func NewSet(n int) []*CPU {
	cpus := make([]*CPU, n)
	for i := range cpus {
		cpus[i] = New(i)
	}
	return cpus
}

// ID returns the CPU number.
func (c *CPU) ID() int {
	return c.id
}

// String implements fmt.Stringer.
func (c *CPU) String() string {
	return fmt.Sprintf("cpu %d", c.id)
}

// InterruptsEnabled reports whether interrupts are currently enabled.
func (c *CPU) InterruptsEnabled() bool {
	return c.intr.Load()
}

// Depth returns the PushOff nesting depth.
func (c *CPU) Depth() int {
	return c.ncli
}

// DisableInterrupts is cli.
func (c *CPU) DisableInterrupts() {
	c.intr.Store(false)
}

// EnableInterrupts is sti. Interrupts raised while they were disabled are
// delivered before it returns.
func (c *CPU) EnableInterrupts() {
	c.intr.Store(true)
	c.deliver()
}

// PushOff disables interrupts and increments the nesting depth. The
// interrupt state seen by the outermost call is restored by the matching
// PopOff.
func (c *CPU) PushOff() {
	enabled := c.intr.Load()
	c.DisableInterrupts()
	if c.ncli == 0 {
		c.intena = enabled
	}
	c.ncli++
}

// PopOff undoes one PushOff. It panics if interrupts are enabled, since
// that means they were turned on behind the counter's back, and on an
// unpaired call.
func (c *CPU) PopOff() {
	if c.intr.Load() {
		panic(fmt.Sprintf("%v: popoff - interruptible", c))
	}
	c.ncli--
	if c.ncli < 0 {
		c.ncli = 0
		panic(fmt.Sprintf("%v: popoff", c))
	}
	if c.ncli == 0 && c.intena {
		c.EnableInterrupts()
	}
}

// Raise delivers a simulated interrupt from the goroutine driving c. If
// interrupts are enabled the handler runs before Raise returns; otherwise it
// is queued and runs as soon as they are re-enabled.
func (c *CPU) Raise(h Handler) {
	c.Post(h)
	if c.intr.Load() {
		c.deliver()
	}
}

// Post queues an interrupt from any goroutine. It never runs the handler:
// the driving goroutine does, at its next EnableInterrupts, outermost
// PopOff or Poll.
func (c *CPU) Post(h Handler) {
	c.mu.Lock()
	c.pending = append(c.pending, h)
	c.mu.Unlock()
}

// Poll runs posted interrupts if interrupts are enabled. It must be called
// by the goroutine driving c.
func (c *CPU) Poll() {
	if c.intr.Load() {
		c.deliver()
	}
}

// Pending returns the number of interrupts waiting for delivery.
func (c *CPU) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// deliver runs queued handlers in the order they were raised.
func (c *CPU) deliver() {
	if c.delivering {
		return
	}
	c.delivering = true
	defer func() { c.delivering = false }()
	for c.intr.Load() {
		c.mu.Lock()
		if len(c.pending) == 0 {
			c.mu.Unlock()
			return
		}
		h := c.pending[0]
		c.pending = c.pending[1:]
		c.mu.Unlock()

		c.PushOff()
		h(c)
		c.PopOff()
	}
}
