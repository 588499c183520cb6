package builtin

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"strings"

	"github.com/no-ai-labs/spice-go/result"
	"github.com/no-ai-labs/spice-go/schema"
	"github.com/no-ai-labs/spice-go/tool"
)

// NewCalculator builds a tool evaluating basic arithmetic expressions.
// Expressions are parsed as Go syntax, so only literals, parentheses and
// the + - * / % operators are accepted.
func NewCalculator() tool.Tool {
	s := tool.NewSchema(map[string]tool.Parameter{
		"expression": tool.StringParam("arithmetic expression, e.g. '2 + 3 * 4'", true),
	})

	return tool.New("calculator", "evaluates arithmetic expressions", s,
		func(ctx context.Context, params map[string]any) (schema.ToolResult, error) {
			expr := strings.TrimSpace(params["expression"].(string))
			if expr == "" {
				return schema.ToolResult{}, result.Validation(
					"expression is empty", "expression", "string", expr)
			}

			node, err := parser.ParseExpr(expr)
			if err != nil {
				return schema.ToolResult{}, result.Validation(
					"invalid expression", "expression", "string", expr).WithCause(err)
			}
			value, err := evalNode(node)
			if err != nil {
				return schema.ToolResult{}, result.Validation(
					err.Error(), "expression", "string", expr)
			}

			return schema.ToolResult{
				Status:   schema.ToolStatusSuccess,
				Result:   value,
				Metadata: map[string]any{"expression": expr},
			}, nil
		})
}

func evalNode(node ast.Node) (float64, error) {
	switch n := node.(type) {
	case *ast.BasicLit:
		switch n.Kind {
		case token.INT, token.FLOAT:
			return strconv.ParseFloat(n.Value, 64)
		}
		return 0, fmt.Errorf("unsupported literal %s", n.Value)
	case *ast.ParenExpr:
		return evalNode(n.X)
	case *ast.UnaryExpr:
		v, err := evalNode(n.X)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case token.SUB:
			return -v, nil
		case token.ADD:
			return v, nil
		}
		return 0, fmt.Errorf("unsupported unary operator %s", n.Op)
	case *ast.BinaryExpr:
		left, err := evalNode(n.X)
		if err != nil {
			return 0, err
		}
		right, err := evalNode(n.Y)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case token.ADD:
			return left + right, nil
		case token.SUB:
			return left - right, nil
		case token.MUL:
			return left * right, nil
		case token.QUO:
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			return left / right, nil
		case token.REM:
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			return float64(int64(left) % int64(right)), nil
		}
		return 0, fmt.Errorf("unsupported operator %s", n.Op)
	default:
		return 0, fmt.Errorf("unsupported expression type %T", n)
	}
}
