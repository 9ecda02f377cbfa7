package latch

import (
	"context"
	"errors"
	"math/big"
	"reflect"
	"testing"
)

var (
	typedFlag  = Key[bool]("flag")
	typedLimit = Key[float64]("limit")
	typedCount = Key[*big.Int]("count")
	typedPrefs = Key[testNumbers]("prefs")
)

func newTypedSettings() (*Settings, *MemoryStore) {
	store := NewMemoryStore()
	settings := New(store, Schema{
		typedFlag.Name():  Bool(false),
		typedLimit.Name(): Number(10),
		typedCount.Name(): BigInt(big.NewInt(1)),
		typedPrefs.Name(): JSON(testNumbers{Numbers: []int{}}),
	}).Prefix("app/")
	return settings, store
}

func TestKey_Name(t *testing.T) {
	if typedFlag.Name() != "flag" {
		t.Errorf("expected 'flag', got %q", typedFlag.Name())
	}
}

func TestTyped_GetDefault(t *testing.T) {
	settings, _ := newTypedSettings()
	ctx := context.Background()

	flag, err := Get(ctx, settings, typedFlag)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if flag {
		t.Error("expected default false")
	}

	limit, _ := Get(ctx, settings, typedLimit)
	if limit != 10 {
		t.Errorf("expected default 10, got %v", limit)
	}
}

func TestTyped_SetGet(t *testing.T) {
	settings, store := newTypedSettings()
	ctx := context.Background()

	if err := Set(ctx, settings, typedPrefs, testNumbers{Numbers: []int{1, 2, 3}}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	raw, _, _ := store.Get(ctx, "app/prefs")
	if raw != `{"numbers":[1,2,3]}` {
		t.Errorf("unexpected stored value %q", raw)
	}

	prefs, err := Get(ctx, settings, typedPrefs)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !reflect.DeepEqual(prefs.Numbers, []int{1, 2, 3}) {
		t.Errorf("unexpected value %+v", prefs)
	}
}

func TestTyped_BigInt(t *testing.T) {
	settings, store := newTypedSettings()
	ctx := context.Background()

	n, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	if err := Set(ctx, settings, typedCount, n); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	raw, _, _ := store.Get(ctx, "app/count")
	if raw != "123456789012345678901234567890" {
		t.Errorf("unexpected stored value %q", raw)
	}

	got, _ := Get(ctx, settings, typedCount)
	if got.Cmp(n) != 0 {
		t.Errorf("expected %v, got %v", n, got)
	}
}

func TestTyped_SetNilBigIntStoresDefault(t *testing.T) {
	settings, store := newTypedSettings()
	ctx := context.Background()

	if err := Set(ctx, settings, typedCount, nil); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	raw, _, _ := store.Get(ctx, "app/count")
	if raw != "1" {
		t.Errorf("expected default '1' stored, got %q", raw)
	}
}

func TestTyped_Delete(t *testing.T) {
	settings, store := newTypedSettings()
	ctx := context.Background()

	_ = Set(ctx, settings, typedFlag, true)
	if err := Delete(ctx, settings, typedFlag); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("expected empty store, got %d keys", store.Len())
	}
}

func TestTyped_Subscribe(t *testing.T) {
	settings, _ := newTypedSettings()
	ctx := context.Background()

	var values []float64
	var sets []bool
	cancel, err := Subscribe(settings, typedLimit, func(v float64, set bool) {
		values = append(values, v)
		sets = append(sets, set)
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	_ = Set(ctx, settings, typedLimit, 25)
	_ = Delete(ctx, settings, typedLimit)
	cancel()
	_ = Set(ctx, settings, typedLimit, 30)

	if !reflect.DeepEqual(values, []float64{25, 10}) {
		t.Errorf("unexpected values %v", values)
	}
	if !reflect.DeepEqual(sets, []bool{true, false}) {
		t.Errorf("unexpected set flags %v", sets)
	}
}

func TestTyped_TypeMismatch(t *testing.T) {
	settings, store := newTypedSettings()
	ctx := context.Background()

	wrong := Key[string]("flag")

	if _, err := Get(ctx, settings, wrong); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("Get: expected ErrTypeMismatch, got %v", err)
	}
	if err := Set(ctx, settings, wrong, "true"); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("Set: expected ErrTypeMismatch, got %v", err)
	}
	if _, err := Subscribe(settings, wrong, func(string, bool) {}); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("Subscribe: expected ErrTypeMismatch, got %v", err)
	}
	if store.Len() != 0 {
		t.Error("expected store untouched")
	}
}

func TestTyped_UnknownSetting(t *testing.T) {
	settings, _ := newTypedSettings()

	missing := Key[bool]("missing")
	if _, err := Get(context.Background(), settings, missing); !errors.Is(err, ErrUnknownSetting) {
		t.Errorf("expected ErrUnknownSetting, got %v", err)
	}
	if _, err := Lookup(settings, missing); !errors.Is(err, ErrUnknownSetting) {
		t.Errorf("expected ErrUnknownSetting, got %v", err)
	}
}

func TestTyped_Lookup(t *testing.T) {
	settings, _ := newTypedSettings()

	setting, err := Lookup(settings, typedLimit)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if setting.Name() != "limit" {
		t.Errorf("expected name 'limit', got %q", setting.Name())
	}
	if setting.Kind() != KindNumber {
		t.Errorf("expected KindNumber, got %s", setting.Kind())
	}
	if setting.Default() != 10 {
		t.Errorf("expected default 10, got %v", setting.Default())
	}
}
