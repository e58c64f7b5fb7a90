package registry

import (
	"fmt"
	"testing"
)

// strategy is a stand-in for the registered item types (providers,
// correction strategies, extractors).
type strategy struct {
	Tag  string
	Desc string
}

func TestBaseRegistry_Register(t *testing.T) {
	reg := NewBaseRegistry[strategy]()

	tests := []struct {
		name    string
		key     string
		item    strategy
		wantErr bool
	}{
		{name: "register valid item", key: "table_not_found", item: strategy{Tag: "table_not_found"}, wantErr: false},
		{name: "register empty name", key: "", item: strategy{}, wantErr: true},
		{name: "register duplicate", key: "table_not_found", item: strategy{Tag: "other"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.Register(tt.key, tt.item)
			if (err != nil) != tt.wantErr {
				t.Errorf("Register() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBaseRegistry_Get(t *testing.T) {
	reg := NewBaseRegistry[strategy]()
	want := strategy{Tag: "column_not_found", Desc: "regex recovery"}
	if err := reg.Register("column_not_found", want); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	got, ok := reg.Get("column_not_found")
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got != want {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}

	if _, ok := reg.Get("missing"); ok {
		t.Error("Get() ok = true for missing item")
	}
}

func TestBaseRegistry_ListPreservesRegistrationOrder(t *testing.T) {
	reg := NewBaseRegistry[strategy]()
	order := []string{"table_not_found", "column_not_found", "generic"}
	for _, name := range order {
		if err := reg.Register(name, strategy{Tag: name}); err != nil {
			t.Fatalf("Register(%s) error = %v", name, err)
		}
	}

	items := reg.List()
	if len(items) != len(order) {
		t.Fatalf("List() length = %d, want %d", len(items), len(order))
	}
	for i, name := range order {
		if items[i].Tag != name {
			t.Errorf("List()[%d].Tag = %s, want %s", i, items[i].Tag, name)
		}
	}
}

func TestBaseRegistry_Names(t *testing.T) {
	reg := NewBaseRegistry[strategy]()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := reg.Register(name, strategy{Tag: name}); err != nil {
			t.Fatalf("Register(%s) error = %v", name, err)
		}
	}

	names := reg.Names()
	want := []string{"alpha", "mid", "zeta"}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names()[%d] = %s, want %s", i, names[i], want[i])
		}
	}
}

func TestBaseRegistry_Remove(t *testing.T) {
	reg := NewBaseRegistry[strategy]()
	if err := reg.Register("generic", strategy{Tag: "generic"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := reg.Remove("generic"); err != nil {
		t.Errorf("Remove() error = %v", err)
	}
	if _, ok := reg.Get("generic"); ok {
		t.Error("item still present after Remove()")
	}
	if len(reg.List()) != 0 {
		t.Error("List() not empty after Remove()")
	}

	if err := reg.Remove("generic"); err == nil {
		t.Error("Remove() of missing item should error")
	}
}

func TestBaseRegistry_Clear(t *testing.T) {
	reg := NewBaseRegistry[strategy]()
	for i := 0; i < 3; i++ {
		if err := reg.Register(fmt.Sprintf("s-%d", i), strategy{}); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}

	reg.Clear()

	if count := reg.Count(); count != 0 {
		t.Errorf("Count() after Clear() = %d, want 0", count)
	}
	if len(reg.List()) != 0 {
		t.Error("List() after Clear() not empty")
	}
}

func TestBaseRegistry_Concurrency(t *testing.T) {
	reg := NewBaseRegistry[strategy]()
	done := make(chan bool, 2)

	go func() {
		defer func() { done <- true }()
		for i := 0; i < 100; i++ {
			_ = reg.Register(fmt.Sprintf("concurrent-%d", i), strategy{})
		}
	}()

	go func() {
		defer func() { done <- true }()
		for i := 0; i < 100; i++ {
			reg.Get(fmt.Sprintf("concurrent-%d", i))
			reg.Count()
			reg.List()
		}
	}()

	<-done
	<-done

	if count := reg.Count(); count != 100 {
		t.Errorf("Count() after concurrent access = %d, want 100", count)
	}
}
