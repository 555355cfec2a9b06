package canonical

import (
	"testing"
)

func TestJSONSortsKeys(t *testing.T) {
	got, err := JSON(map[string]any{"zebra": 1, "alpha": 2, "mid": 3})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"alpha":2,"mid":3,"zebra":1}`
	if string(got) != want {
		t.Errorf("JSON = %s, want %s", got, want)
	}
}

func TestJSONNested(t *testing.T) {
	v := map[string]any{
		"b": map[string]any{"y": []any{3, 1}, "x": "s"},
		"a": nil,
	}
	got, err := JSON(v)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"a":null,"b":{"x":"s","y":[3,1]}}`
	if string(got) != want {
		t.Errorf("JSON = %s, want %s", got, want)
	}
}

func TestJSONStructFieldOrderIrrelevant(t *testing.T) {
	type ab struct {
		B int `json:"b"`
		A int `json:"a"`
	}
	got, err := JSON(ab{B: 2, A: 1})
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"a":1,"b":2}` {
		t.Errorf("JSON = %s", got)
	}
}

func TestJSONNoHTMLEscaping(t *testing.T) {
	got, err := JSON(map[string]string{"q": "a<b>&c"})
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"q":"a<b>&c"}` {
		t.Errorf("JSON escaped HTML: %s", got)
	}
}

func TestHashStable(t *testing.T) {
	a, err := Hash(map[string]any{"x": 1, "y": "z"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Hash(map[string]any{"y": "z", "x": 1})
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("hash differs for equal values: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(a))
	}
}

func TestHashSensitive(t *testing.T) {
	a, _ := Hash(map[string]any{"msg": "legit"})
	b, _ := Hash(map[string]any{"msg": "TAMPERED"})
	if a == b {
		t.Error("hash collision for different content")
	}
}
