package boxed

import (
	"testing"

	"github.com/openzim/zimbridge/errors"
)

type entry struct {
	path  string
	title string
}

func TestZeroValueIsEmpty(t *testing.T) {
	var b Box[entry]
	if b.IsSet() {
		t.Fatalf("zero-value box must be empty")
	}
	if _, err := b.Get(); !errors.IsKind(err, errors.KindNotInitialized) {
		t.Fatalf("Get on empty box: got %v, want not_initialized", err)
	}
}

func TestNewAndGet(t *testing.T) {
	b := New(entry{path: "A/home", title: "Home"})
	if !b.IsSet() {
		t.Fatalf("box constructed from a value must be set")
	}
	v, err := b.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v.path != "A/home" || v.title != "Home" {
		t.Fatalf("boxed value = %+v", *v)
	}
}

func TestTwoPhaseAssignment(t *testing.T) {
	// The shape generated glue needs: declare empty, assign later.
	var b Box[entry]
	b = New(entry{path: "A/x"})
	if v := b.MustGet(); v.path != "A/x" {
		t.Fatalf("assigned box value = %+v", *v)
	}
}

func TestMove(t *testing.T) {
	src := New(entry{path: "A/a"})
	ptr := src.MustGet()

	dst := src.Move()
	if src.IsSet() {
		t.Fatalf("moved-from box must be empty")
	}
	if _, err := src.Get(); !errors.IsKind(err, errors.KindNotInitialized) {
		t.Fatalf("read on moved-from box: got %v, want not_initialized", err)
	}
	if dst.MustGet() != ptr {
		t.Fatalf("Move must transfer the instance, not copy it")
	}
}

func TestClear(t *testing.T) {
	b := New(entry{})
	b.Clear()
	if b.IsSet() {
		t.Fatalf("cleared box still set")
	}
}

func TestMustGetPanicsOnEmpty(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("MustGet on empty box must panic")
		}
	}()
	var b Box[entry]
	b.MustGet()
}
