package stt

import (
	"context"
	"os/exec"
	"runtime"
	"time"
)

const (
	DeviceCUDA = "cuda"
	DeviceMPS  = "mps"
	DeviceCPU  = "cpu"
)

// Prober picks a compute device, preferring accelerators and falling back to cpu.
type Prober struct {
	LookPath func(file string) (string, error)
	Run      func(ctx context.Context, name string, args ...string) error
	GOOS     string
	GOARCH   string
}

func NewProber() *Prober {
	return &Prober{
		LookPath: exec.LookPath,
		Run: func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		},
		GOOS:   runtime.GOOS,
		GOARCH: runtime.GOARCH,
	}
}

// Resolve returns requested when set, otherwise the best available device.
func (p *Prober) Resolve(ctx context.Context, requested string) string {
	if requested != "" {
		return requested
	}
	if p.hasCUDA(ctx) {
		return DeviceCUDA
	}
	if p.GOOS == "darwin" && p.GOARCH == "arm64" {
		return DeviceMPS
	}
	return DeviceCPU
}

func (p *Prober) hasCUDA(ctx context.Context) bool {
	if p.LookPath == nil || p.Run == nil {
		return false
	}
	bin, err := p.LookPath("nvidia-smi")
	if err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.Run(ctx, bin, "-L") == nil
}
