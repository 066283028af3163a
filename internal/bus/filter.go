package bus

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/rzbill/pollbus/internal/messagelog"
)

// Filter is a compiled CEL predicate over messages. Expressions see:
//
//	id      int     message id
//	channel string
//	text    string  payload as text
//	json    dyn     payload parsed as JSON, or null
//	size    int     payload length in bytes
//	now_ms  int     evaluation time in unix ms
//	ts_ms   int     created_at in unix ms
//
// A nil *Filter matches everything.
type Filter struct {
	expr string
	prog cel.Program
}

// CompileFilter parses and type-checks expr. An empty expression yields a nil
// filter.
func CompileFilter(expr string) (*Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("id", cel.IntType),
		cel.Variable("channel", cel.StringType),
		cel.Variable("text", cel.StringType),
		cel.Variable("json", cel.DynType),
		cel.Variable("size", cel.IntType),
		cel.Variable("now_ms", cel.IntType),
		cel.Variable("ts_ms", cel.IntType),
	)
	if err != nil {
		return nil, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, &FilterTypeError{Expr: expr, Got: out.String()}
	}
	prog, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	return &Filter{expr: expr, prog: prog}, nil
}

// FilterTypeError reports an expression that does not produce a bool.
type FilterTypeError struct {
	Expr string
	Got  string
}

func (e *FilterTypeError) Error() string {
	return "bus: filter " + e.Expr + " returns " + e.Got + ", want bool"
}

func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.expr
}

// Match evaluates the filter. Evaluation errors count as no match.
func (f *Filter) Match(m messagelog.Message, now time.Time) bool {
	if f == nil {
		return true
	}
	var doc any
	_ = json.Unmarshal(m.Payload, &doc)
	out, _, err := f.prog.Eval(map[string]any{
		"id":      int64(m.ID),
		"channel": m.Channel,
		"text":    string(m.Payload),
		"json":    doc,
		"size":    int64(len(m.Payload)),
		"now_ms":  now.UnixMilli(),
		"ts_ms":   m.CreatedAt.UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// Apply returns the messages that match, reusing msgs' backing array.
func (f *Filter) Apply(msgs []messagelog.Message, now time.Time) []messagelog.Message {
	if f == nil {
		return msgs
	}
	out := msgs[:0]
	for _, m := range msgs {
		if f.Match(m, now) {
			out = append(out, m)
		}
	}
	return out
}
