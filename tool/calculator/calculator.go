// Package calculator evaluates arithmetic expressions for the calculator tool.
package calculator

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
)

// Name is the tool name the calculator is registered under.
const Name = "calculator"

// Description is shown to the model.
const Description = "Evaluate a mathematical expression. Supports + - * / % ^, parentheses " +
	"and the functions sqrt, pow, abs, floor, ceil, round, log, ln, sin, cos, tan and the constants pi and e."

// Args is the calculator input.
type Args struct {
	Expression string `json:"expression" jsonschema:"description=The arithmetic expression to evaluate, e.g. (2 + 3) * 4"`
}

// ErrEmptyExpression is returned for blank input.
var ErrEmptyExpression = errors.New("expression is empty")

var env = map[string]any{
	"pi":   math.Pi,
	"e":    math.E,
	"sqrt": math.Sqrt,
	"pow":  math.Pow,
	"log":  math.Log10,
	"ln":   math.Log,
	"sin":  math.Sin,
	"cos":  math.Cos,
	"tan":  math.Tan,
}

// Evaluate computes expression and formats the numeric result. Integral
// results print without a fractional part.
func Evaluate(expression string) (string, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return "", ErrEmptyExpression
	}

	program, err := expr.Compile(expression, expr.Env(env), expr.AsFloat64(), expr.MaxNodes(500))
	if err != nil {
		return "", fmt.Errorf("invalid expression: %w", err)
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return "", fmt.Errorf("evaluate expression: %w", err)
	}

	v, ok := out.(float64)
	if !ok {
		return "", fmt.Errorf("expression did not evaluate to a number")
	}

	return Format(v)
}

// Format renders a finite float without trailing zeros.
func Format(v float64) (string, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "", fmt.Errorf("result is not a finite number")
	}
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10), nil
	}
	return strconv.FormatFloat(v, 'g', 12, 64), nil
}
