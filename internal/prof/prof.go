// Package prof starts and stops the Go runtime profilers for one CLI run.
package prof

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
)

// Options names the output files; empty paths disable that profiler.
type Options struct {
	CPU   string
	Mem   string
	Trace string
}

// Enabled reports whether any profiler is requested.
func (o Options) Enabled() bool { return o.CPU != "" || o.Mem != "" || o.Trace != "" }

// Run holds the profilers started by Start. Stop is safe to call more
// than once.
type Run struct {
	cpu     *os.File
	trace   *os.File
	memPath string
	stopped bool
}

// Start enables the requested profilers. On error nothing is left running.
func Start(o Options) (*Run, error) {
	r := &Run{memPath: o.Mem}
	if o.CPU != "" {
		f, err := os.Create(o.CPU)
		if err != nil {
			return nil, fmt.Errorf("cpu profile: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("cpu profile: %w", err)
		}
		r.cpu = f
	}
	if o.Trace != "" {
		f, err := os.Create(o.Trace)
		if err != nil {
			r.stopCPU()
			return nil, fmt.Errorf("runtime trace: %w", err)
		}
		if err := trace.Start(f); err != nil {
			_ = f.Close()
			r.stopCPU()
			return nil, fmt.Errorf("runtime trace: %w", err)
		}
		r.trace = f
	}
	return r, nil
}

func (r *Run) stopCPU() error {
	if r.cpu == nil {
		return nil
	}
	pprof.StopCPUProfile()
	err := r.cpu.Close()
	r.cpu = nil
	return err
}

func (r *Run) stopTrace() error {
	if r.trace == nil {
		return nil
	}
	trace.Stop()
	err := r.trace.Close()
	r.trace = nil
	return err
}

// Stop ends the running profilers and writes the heap profile.
func (r *Run) Stop() error {
	if r == nil || r.stopped {
		return nil
	}
	r.stopped = true
	errs := []error{r.stopTrace(), r.stopCPU()}
	if r.memPath != "" {
		errs = append(errs, writeHeap(r.memPath))
	}
	return errors.Join(errs...)
}

func writeHeap(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("heap profile: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	runtime.GC()
	return pprof.WriteHeapProfile(f)
}
