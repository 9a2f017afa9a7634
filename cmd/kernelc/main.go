// Command kernelc compiles and runs a saxpy kernel on a compute backend.
//
// Usage:
//
//	kernelc [-backend native] [-n 1000000] [-runs 3] [-wgsl] [-v]
//
// With -wgsl it prints the generated program and exits without opening a
// device. The noop backend computes nothing, so run it with -check=false.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/gogpu/compute"
	"github.com/gogpu/compute/backend"
	_ "github.com/gogpu/compute/backend/native"
	"github.com/gogpu/compute/gpucore"
	"github.com/gogpu/compute/kernel"
)

func main() {
	var (
		name    = flag.String("backend", "", "backend name (default: best available)")
		n       = flag.Int("n", 1<<20, "number of elements")
		a       = flag.Float64("a", 2, "saxpy scale factor")
		runs    = flag.Int("runs", 3, "number of dispatches")
		wgsl    = flag.Bool("wgsl", false, "print the generated WGSL and exit")
		check   = flag.Bool("check", true, "verify the result on the host")
		verbose = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	if *verbose {
		compute.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	rt := compute.New()

	if *wgsl {
		src, err := rt.Compile(saxpy(float32(*a), 0, 0, 64))
		if err != nil {
			log.Fatalf("compile: %v", err)
		}
		fmt.Print(src)
		return
	}

	dev, err := open(*name)
	if err != nil {
		log.Fatalf("open device: %v", err)
	}
	defer dev.Destroy()
	log.Printf("device %s (%s), backends: %v", dev.Label(), dev.Target(), backend.Available())

	if err := run(rt, dev, *n, float32(*a), *runs, *check); err != nil {
		log.Fatalf("saxpy: %v", err)
	}
}

func open(name string) (backend.Device, error) {
	if name == "" {
		return backend.OpenDefault()
	}
	return backend.Open(name)
}

func run(rt *compute.Runtime, dev backend.Device, n int, a float32, runs int, check bool) error {
	xs := make([]float32, n)
	for i := range xs {
		xs[i] = float32(i % 1024)
	}
	x, err := upload(dev, xs)
	if err != nil {
		return err
	}
	defer dev.DestroyBuffer(x)
	y, err := upload(dev, make([]float32, n))
	if err != nil {
		return err
	}
	defer dev.DestroyBuffer(y)

	domain := [3]int{n, 1, 1}
	group := compute.GroupShapeFor(domain, dev)
	d := saxpy(a, x, y, group[0])

	for i := 0; i < runs; i++ {
		start := time.Now()
		if err := rt.Dispatch(d, domain, dev); err != nil {
			return err
		}
		log.Printf("run %d: %d elements in %v", i+1, n, time.Since(start))
	}

	s := rt.Stats()
	log.Printf("shapes %d, compiles %d, pipelines %d, dispatches %d", s.Shapes, s.Compiles, s.Pipelines, s.Completed)

	if !check {
		return nil
	}
	out := make([]byte, 4*n)
	if err := dev.ReadBuffer(y, 0, out); err != nil {
		return err
	}
	ys := fromBytes(out)
	for i, v := range ys {
		want := float32(runs) * a * xs[i]
		if math.Abs(float64(v-want)) > 1e-4*math.Max(1, math.Abs(float64(want))) {
			return fmt.Errorf("y[%d] = %v, want %v", i, v, want)
		}
	}
	log.Printf("result verified")
	return nil
}

func upload(dev gpucore.Device, values []float32) (gpucore.BufferID, error) {
	id, err := dev.CreateBuffer(&gpucore.BufferDesc{
		Label: "saxpy",
		Size:  uint64(kernel.Float.Stride()) * uint64(len(values)),
		Usage: gpucore.BufferUsageStorage | gpucore.BufferUsageCopyDst | gpucore.BufferUsageCopySrc,
	})
	if err != nil {
		return 0, err
	}
	if err := dev.WriteBuffer(id, 0, toBytes(values)); err != nil {
		dev.DestroyBuffer(id)
		return 0, err
	}
	return id, nil
}

// saxpy computes y[i] += a * x[i].
func saxpy(a float32, x, y gpucore.BufferID, width uint32) *kernel.Descriptor {
	return kernel.New("saxpy", [3]uint32{width, 1, 1},
		[]kernel.Capture{
			kernel.Scalar("a", kernel.Float, a),
			kernel.ReadOnlyBuffer("x", kernel.Float, x),
			kernel.ReadWriteBuffer("y", kernel.Float, y),
		},
		kernel.Let("i", kernel.ThreadID(kernel.X)),
		kernel.Store("y",
			kernel.Add(
				kernel.Mul(kernel.Ref("a"), kernel.Load("x", kernel.Ref("i"))),
				kernel.Load("y", kernel.Ref("i"))),
			kernel.Ref("i")),
	)
}

func toBytes(values []float32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

func fromBytes(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}
