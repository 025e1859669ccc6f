package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// ExpressionEngine evaluates CEL prerequisite expressions. The character's
// facts are bound to the variable "character". Compiled programs are cached
// per expression.
type ExpressionEngine struct {
	env   *cel.Env
	cache map[string]cel.Program
	mu    sync.RWMutex
}

func NewExpressionEngine() (*ExpressionEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("character", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	return &ExpressionEngine{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

// Compile checks an expression without evaluating it.
func (e *ExpressionEngine) Compile(expression string) error {
	_, err := e.program(expression)
	return err
}

func (e *ExpressionEngine) Evaluate(expression string, facts map[string]any) (bool, error) {
	prg, err := e.program(expression)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]any{"character": facts})
	if err != nil {
		return false, fmt.Errorf("CEL eval error: %w", err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("expression %q did not return bool", expression)
	}
	return ok, nil
}

func (e *ExpressionEngine) program(expression string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.cache[expression]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.cache[expression]; hit {
		return prg, nil
	}
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compile error: %w", issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program error: %w", err)
	}
	e.cache[expression] = prg
	return prg, nil
}
