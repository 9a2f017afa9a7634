package backend

import (
	"errors"
	"reflect"
	"testing"

	"github.com/gogpu/compute/internal/gputest"
)

func register(t *testing.T, name string, f Factory) {
	t.Helper()
	Register(name, f)
	t.Cleanup(func() { Unregister(name) })
}

func fakeFactory(label string) Factory {
	return func() (Device, error) { return gputest.NewDevice(label), nil }
}

func TestRegister(t *testing.T) {
	register(t, "b-fake", fakeFactory("b"))
	register(t, "a-fake", fakeFactory("a"))

	if !IsRegistered("a-fake") {
		t.Error("a-fake should be registered")
	}
	if got, want := Available(), []string{"a-fake", "b-fake"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Available() = %v, want %v", got, want)
	}

	Unregister("a-fake")
	if IsRegistered("a-fake") {
		t.Error("a-fake should be unregistered")
	}
}

func TestOpen(t *testing.T) {
	register(t, "fake", fakeFactory("fake"))

	dev, err := Open("fake")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer dev.Destroy()
	if dev.Label() != "fake" {
		t.Errorf("Label() = %q, want fake", dev.Label())
	}

	if _, err := Open("missing"); !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("Open(missing) = %v, want ErrBackendNotAvailable", err)
	}
}

func TestOpenDefaultPriority(t *testing.T) {
	register(t, "zz-fake", fakeFactory("other"))
	register(t, Noop, fakeFactory("noop"))

	dev, err := OpenDefault()
	if err != nil {
		t.Fatalf("OpenDefault() error = %v", err)
	}
	if dev.Label() != "noop" {
		t.Errorf("OpenDefault() picked %q, want noop", dev.Label())
	}
}

func TestOpenDefaultSkipsFailures(t *testing.T) {
	errNoGPU := errors.New("no gpu")
	register(t, Native, func() (Device, error) { return nil, errNoGPU })
	register(t, "fallback", fakeFactory("fallback"))

	dev, err := OpenDefault()
	if err != nil {
		t.Fatalf("OpenDefault() error = %v", err)
	}
	if dev.Label() != "fallback" {
		t.Errorf("OpenDefault() picked %q, want fallback", dev.Label())
	}

	Unregister("fallback")
	_, err = OpenDefault()
	if !errors.Is(err, ErrBackendNotAvailable) || !errors.Is(err, errNoGPU) {
		t.Errorf("OpenDefault() = %v, want ErrBackendNotAvailable wrapping the factory error", err)
	}
}

func TestOpenDefaultEmpty(t *testing.T) {
	for _, name := range Available() {
		f, _ := factory(name)
		Unregister(name)
		t.Cleanup(func() { Register(name, f) })
	}
	if _, err := OpenDefault(); !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("OpenDefault() = %v, want ErrBackendNotAvailable", err)
	}
}
