package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

// mapStore is a minimal IStore used to test the typed helpers
type mapStore map[string][]byte

func (m mapStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func (m mapStore) Set(_ context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return WrapError(RetCInvalidOperation, err)
	}
	m[key] = data
	return nil
}

func (m mapStore) Delete(_ context.Context, key string) error {
	delete(m, key)
	return nil
}

func (m mapStore) Keys(context.Context) ([]string, error) { return nil, nil }
func (m mapStore) Clear(context.Context) error            { return nil }

type preferences struct {
	Theme string   `json:"theme"`
	Tags  []string `json:"tags"`
}

func TestTypedHelpers(t *testing.T) {
	ctx := context.Background()
	s := mapStore{}

	in := preferences{Theme: "dark", Tags: []string{"a", "b"}}
	if err := SetAs(ctx, s, "user_preferences", in); err != nil {
		t.Fatalf("SetAs failed: %v", err)
	}

	out, ok, err := GetAs[preferences](ctx, s, "user_preferences")
	if err != nil || !ok {
		t.Fatalf("GetAs failed: ok=%v err=%v", ok, err)
	}
	if out.Theme != "dark" || len(out.Tags) != 2 {
		t.Errorf("Unexpected value %+v", out)
	}

	if _, ok, err := GetAs[preferences](ctx, s, "missing"); ok || err != nil {
		t.Errorf("Expected miss, got ok=%v err=%v", ok, err)
	}

	s["broken"] = []byte(`"not an object"`)
	_, _, err = GetAs[preferences](ctx, s, "broken")
	var storeErr *Error
	if !errors.As(err, &storeErr) || storeErr.Code != RetCInvalidOperation {
		t.Errorf("Expected InvalidOperation error, got %v", err)
	}
}

func TestErrorUnwrap(t *testing.T) {
	sentinel := errors.New("sentinel")
	err := error(WrapError(RetCUnavailable, sentinel))

	if !errors.Is(err, sentinel) {
		t.Errorf("Expected wrapped sentinel to be found")
	}
	if err.Error() != "StoreError (code Unavailable): sentinel" {
		t.Errorf("Unexpected message %q", err.Error())
	}
	if NewError(RetCClosed, "closed").Unwrap() != nil {
		t.Errorf("NewError should not wrap anything")
	}
}
