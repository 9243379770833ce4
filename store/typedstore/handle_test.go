package typedstore_test

import (
	"testing"

	"github.com/dogmatiq/storekit/driver/memory/memoryengine"
	"github.com/dogmatiq/storekit/marshal"
	"github.com/dogmatiq/storekit/store"
	. "github.com/dogmatiq/storekit/store/typedstore"
	"github.com/google/go-cmp/cmp"
)

type user struct {
	Name string `json:"name"`
}

func TestHandle(t *testing.T) {
	t.Parallel()

	tr := store.NewTracker(&memoryengine.Engine{})
	h := New[uint64, user](
		tr,
		"app-db",
		"users",
		marshal.Uint64,
		marshal.JSON[user]{},
	)

	users := map[uint64]user{
		3: {"Cat"},
		1: {"Ann"},
		2: {"Bob"},
	}

	for id, u := range users {
		k, err := h.Save(t.Context(), id, u)
		if err != nil {
			t.Fatal(err)
		}

		if k != id {
			t.Fatalf("unexpected key: got %d, want %d", k, id)
		}
	}

	keys, err := h.Keys(t.Context())
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]uint64{1, 2, 3}, keys); diff != "" {
		t.Fatalf("unexpected keys (-want +got):\n%s", diff)
	}

	values, err := h.Values(t.Context())
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]user{{"Ann"}, {"Bob"}, {"Cat"}}, values); diff != "" {
		t.Fatalf("unexpected values (-want +got):\n%s", diff)
	}

	for id, want := range users {
		ok, err := h.Exists(t.Context(), id)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatalf("expected key %d to exist", id)
		}

		got, ok, err := h.Get(t.Context(), id)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatalf("expected key %d to exist", id)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("unexpected value (-want +got):\n%s", diff)
		}

		if err := h.Delete(t.Context(), id); err != nil {
			t.Fatal(err)
		}

		_, ok, err = h.Get(t.Context(), id)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Fatalf("expected key %d to be deleted", id)
		}
	}

	if v, ok := tr.Version("app-db"); !ok || v != 2 {
		t.Fatalf("unexpected version: got %d, want 2", v)
	}
}
