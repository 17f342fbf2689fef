package tool

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// CalculatorName is the name the calculator is offered under.
const CalculatorName = "calculate_metrics"

const maxScriptLines = 200

var assignment = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*=\s*([^=].*)$`)

// Calculator evaluates small arithmetic scripts so a model can check the
// numbers behind a capacity or latency estimate instead of guessing them.
//
// A script is one statement per line. A statement is either an assignment
// ("qps = 12000 * 3") or an expression ("qps / 8"). Expressions use HCL
// syntax and may call abs, ceil, floor, int, log, max, min, pow, round,
// signum, sqrt and print. Blank lines, "#" comments and import lines are
// ignored.
//
// The output lists the value of every bare expression, one per line. A
// script made only of assignments reports each assigned name instead.
// Failures are reported in the output text, not as a Go error, so the
// model sees them and can retry.
type Calculator struct{}

// NewCalculator returns the calculate_metrics tool.
func NewCalculator() *Calculator { return &Calculator{} }

func (c *Calculator) Name() string { return CalculatorName }

func (c *Calculator) Description() string {
	return "Evaluate arithmetic to verify system design metrics. Pass a script with one " +
		"statement per line; assignments like `rps = 5000 * 4` define variables and bare " +
		"expressions are printed. Functions: abs, ceil, floor, int, log, max, min, pow, " +
		"round, signum, sqrt."
}

func (c *Calculator) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"script": map[string]interface{}{
				"type":        "string",
				"description": "Statements to evaluate, one per line.",
			},
		},
		"required": []interface{}{"script"},
	}
}

// Call evaluates input["script"], or input["expression"] when no script is
// given, and returns {"output": text}.
func (c *Calculator) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	script, _ := input["script"].(string)
	if script == "" {
		script, _ = input["expression"].(string)
	}
	if strings.TrimSpace(script) == "" {
		return nil, errors.New("script parameter required")
	}

	out, err := Evaluate(ctx, script)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		out = "Error executing code: " + err.Error()
	}
	return map[string]interface{}{"output": out}, nil
}

// Evaluate runs a calculator script and returns its printed output.
func Evaluate(ctx context.Context, script string) (string, error) {
	lines := strings.Split(strings.ReplaceAll(script, "\r\n", "\n"), "\n")
	if len(lines) > maxScriptLines {
		return "", fmt.Errorf("script has %d lines, limit is %d", len(lines), maxScriptLines)
	}

	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{},
		Functions: calculatorFunctions,
	}

	var printed, assigned []string
	for i, line := range lines {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "import ") {
			continue
		}

		name, src := "", line
		if m := assignment.FindStringSubmatch(line); m != nil {
			name, src = m[1], m[2]
		}

		val, err := evalExpression(src, evalCtx, i+1)
		if err != nil {
			return "", err
		}
		text, err := formatValue(val)
		if err != nil {
			return "", fmt.Errorf("line %d: %w", i+1, err)
		}

		if name == "" {
			printed = append(printed, text)
			continue
		}
		evalCtx.Variables[name] = val
		assigned = append(assigned, name+" = "+text)
	}

	if len(printed) > 0 {
		return strings.Join(printed, "\n"), nil
	}
	if len(assigned) > 0 {
		return strings.Join(assigned, "\n"), nil
	}
	return "", errors.New("script has no statements")
}

func evalExpression(src string, evalCtx *hcl.EvalContext, line int) (cty.Value, error) {
	expr, diags := hclsyntax.ParseExpression([]byte(src), "script", hcl.Pos{Line: line, Column: 1, Byte: 0})
	if diags.HasErrors() {
		return cty.NilVal, errors.New(diags.Error())
	}
	val, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return cty.NilVal, errors.New(diags.Error())
	}
	return val, nil
}

func formatValue(val cty.Value) (string, error) {
	if val.IsNull() {
		return "null", nil
	}
	if !val.IsKnown() {
		return "", errors.New("value is unknown")
	}

	switch ty := val.Type(); {
	case ty == cty.Number:
		return formatNumber(val.AsBigFloat()), nil
	case ty == cty.String:
		return val.AsString(), nil
	case ty == cty.Bool:
		return strconv.FormatBool(val.True()), nil
	case ty.IsTupleType() || ty.IsListType() || ty.IsSetType():
		parts := make([]string, 0, val.LengthInt())
		for it := val.ElementIterator(); it.Next(); {
			_, elem := it.Element()
			s, err := formatValue(elem)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	default:
		return "", fmt.Errorf("cannot print a value of type %s", ty.FriendlyName())
	}
}

func formatNumber(bf *big.Float) string {
	if bf.IsInf() {
		if bf.Sign() < 0 {
			return "-inf"
		}
		return "inf"
	}
	if bf.IsInt() {
		return bf.Text('f', 0)
	}
	f, _ := bf.Float64()
	return strconv.FormatFloat(f, 'f', -1, 64)
}

var calculatorFunctions = map[string]function.Function{
	"abs":    stdlib.AbsoluteFunc,
	"ceil":   stdlib.CeilFunc,
	"floor":  stdlib.FloorFunc,
	"int":    stdlib.IntFunc,
	"log":    stdlib.LogFunc,
	"max":    stdlib.MaxFunc,
	"min":    stdlib.MinFunc,
	"pow":    stdlib.PowFunc,
	"signum": stdlib.SignumFunc,
	"sqrt":   sqrtFunc,
	"round":  roundFunc,
	"print":  printFunc,
}

var sqrtFunc = function.New(&function.Spec{
	Params: []function.Parameter{{Name: "num", Type: cty.Number}},
	Type:   function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		f, _ := args[0].AsBigFloat().Float64()
		if f < 0 {
			return cty.NilVal, errors.New("square root of a negative number")
		}
		return cty.NumberFloatVal(math.Sqrt(f)), nil
	},
})

// round(num) rounds half away from zero; round(num, digits) keeps digits
// decimal places.
var roundFunc = function.New(&function.Spec{
	Params:   []function.Parameter{{Name: "num", Type: cty.Number}},
	VarParam: &function.Parameter{Name: "digits", Type: cty.Number},
	Type:     function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		f, _ := args[0].AsBigFloat().Float64()
		digits := 0
		if len(args) > 1 {
			d, _ := args[1].AsBigFloat().Int64()
			digits = int(d)
		}
		if digits < 0 || digits > 15 {
			return cty.NilVal, fmt.Errorf("digits must be between 0 and 15, got %d", digits)
		}
		scale := math.Pow(10, float64(digits))
		return cty.NumberFloatVal(math.Round(f*scale) / scale), nil
	},
})

// print returns its argument so scripts written as print(x) still work.
var printFunc = function.New(&function.Spec{
	Params: []function.Parameter{{Name: "value", Type: cty.DynamicPseudoType, AllowNull: true}},
	Type: func(args []cty.Value) (cty.Type, error) {
		return args[0].Type(), nil
	},
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		return args[0], nil
	},
})
