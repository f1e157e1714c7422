// Package engine provides the month-based simulation loop and the
// Simulation that wires households, markets, the bank and construction
// together.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/talgya/housing-market/internal/config"
)

// Engine drives a simulation forward one month at a time.
type Engine struct {
	Interval time.Duration // wall time per month at speed 1; zero runs flat out

	// Callbacks, populated during setup.
	OnMonth func(month int) error // every month
	OnYear  func(month int)       // every 12 months

	mu      sync.Mutex
	month   int // months completed
	speed   float64
	running bool
	stop    bool
}

// NewEngine creates an engine at speed 1 starting from month 0.
func NewEngine(interval time.Duration) *Engine {
	return &Engine{Interval: interval, speed: 1.0}
}

// Status is the engine state as seen from outside the loop.
type Status struct {
	Month   int     `json:"month"`
	Speed   float64 `json:"speed"`
	Running bool    `json:"running"`
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{Month: e.month, Speed: e.speed, Running: e.running}
}

// SetSpeed sets the speed multiplier. Zero pauses the loop.
func (e *Engine) SetSpeed(speed float64) error {
	if speed < 0 {
		return errors.Errorf("speed must not be negative, got %g", speed)
	}
	e.mu.Lock()
	e.speed = speed
	e.mu.Unlock()
	return nil
}

// Run steps the simulation until nMonths months have completed, ctx is
// cancelled, Stop is called or a callback fails.
func (e *Engine) Run(ctx context.Context, nMonths int) error {
	e.mu.Lock()
	e.running, e.stop = true, false
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	zap.S().Infow("simulation engine started", "month", e.Status().Month, "months", nMonths)
	for {
		e.mu.Lock()
		month, speed, stop := e.month, e.speed, e.stop
		e.mu.Unlock()
		if stop || month >= nMonths {
			break
		}
		if speed <= 0 {
			if err := sleep(ctx, 100*time.Millisecond); err != nil {
				return err
			}
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()
		if err := e.step(); err != nil {
			return err
		}

		// Sleep for the remainder of the interval, adjusted for speed.
		if e.Interval > 0 {
			target := time.Duration(float64(e.Interval) / speed)
			if elapsed := time.Since(start); elapsed < target {
				if err := sleep(ctx, target-elapsed); err != nil {
					return err
				}
			}
		}
	}

	zap.S().Infow("simulation engine stopped", "month", e.Status().Month)
	return nil
}

// Stop halts the loop after the month in progress.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stop = true
	e.mu.Unlock()
}

// step advances the simulation by one month.
func (e *Engine) step() error {
	e.mu.Lock()
	month := e.month
	e.mu.Unlock()

	if e.OnMonth != nil {
		if err := e.OnMonth(month); err != nil {
			return errors.Wrapf(err, "month %d", month)
		}
	}

	e.mu.Lock()
	e.month++
	e.mu.Unlock()

	if (month+1)%config.MonthsInYear == 0 && e.OnYear != nil {
		e.OnYear(month)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SimTime formats a month number as a calendar position.
func SimTime(month int) string {
	return fmt.Sprintf("Year %d Month %d", month/config.MonthsInYear+1, month%config.MonthsInYear+1)
}
