package bus

import (
	"errors"
	"testing"
	"time"

	"github.com/rzbill/pollbus/internal/messagelog"
)

func TestCompileFilterEmptyIsNil(t *testing.T) {
	f, err := CompileFilter("   ")
	if err != nil || f != nil {
		t.Fatalf("empty filter: %v %v", f, err)
	}
	if !f.Match(messagelog.Message{}, time.Now()) {
		t.Fatalf("nil filter must match")
	}
}

func TestCompileFilterErrors(t *testing.T) {
	if _, err := CompileFilter("id >"); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := CompileFilter("unknown_var == 1"); err == nil {
		t.Fatalf("expected check error")
	}
	_, err := CompileFilter("size + 1")
	var te *FilterTypeError
	if !errors.As(err, &te) {
		t.Fatalf("expected FilterTypeError, got %v", err)
	}
}

func TestFilterVariables(t *testing.T) {
	now := time.UnixMilli(10_000)
	m := messagelog.Message{
		ID:        42,
		CreatedAt: time.UnixMilli(9_000),
		Channel:   "orders",
		Payload:   []byte(`{"kind":"paid","amount":12}`),
	}
	cases := []struct {
		expr string
		want bool
	}{
		{`id == 42`, true},
		{`channel.startsWith("ord")`, true},
		{`text.contains("paid")`, true},
		{`json.kind == "paid" && json.amount > 10.0`, true},
		{`size == 27`, true},
		{`now_ms - ts_ms == 1000`, true},
		{`json.kind == "refund"`, false},
		{`json.missing == 1`, false},
	}
	for _, c := range cases {
		f, err := CompileFilter(c.expr)
		if err != nil {
			t.Fatalf("compile %q: %v", c.expr, err)
		}
		if got := f.Match(m, now); got != c.want {
			t.Fatalf("%q = %v want %v", c.expr, got, c.want)
		}
	}
}

func TestFilterOnNonJSONPayload(t *testing.T) {
	f, err := CompileFilter(`text == "plain"`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	msgs := []messagelog.Message{{ID: 1, Payload: []byte("plain")}, {ID: 2, Payload: []byte("other")}}
	out := f.Apply(msgs, time.Now())
	if len(out) != 1 || out[0].ID != 1 {
		t.Fatalf("Apply = %v", out)
	}
}
