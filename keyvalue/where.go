// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

package keyvalue

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/embeddb/storecore/errkind"
)

// Metadata is a single row's metadata fields, the shape Where predicates
// are evaluated against. Values are restricted to the scalar Value kinds
// a metadata blockfile can hold (no nested records).
type Metadata map[string]Value

func (m Metadata) toCelMap() map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch v.Kind() {
		case ValueStr:
			out[k] = v.Str()
		case ValueUInt32:
			out[k] = int64(v.UInt32())
		case ValueFloat32:
			out[k] = float64(v.Float32())
		case ValueBool:
			out[k] = v.Bool()
		}
	}
	return out
}

// WhereExpr is a compiled filter-predicate AST: the query-side boundary
// named in spec.md §3 ("Where AST"). The query planner that builds these
// is out of scope (spec.md §1); this package only compiles and evaluates
// one expression against a Metadata row.
type WhereExpr struct {
	source  string
	program cel.Program
}

var celEnv = mustCelEnv()

func mustCelEnv() *cel.Env {
	env, err := cel.NewEnv(
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		panic(fmt.Sprintf("keyvalue: building cel environment: %v", err))
	}
	return env
}

// CompileWhere compiles a CEL boolean expression over the `metadata` map
// variable, e.g. `metadata["color"] == "red" && metadata["size"] > 2`.
func CompileWhere(expr string) (*WhereExpr, error) {
	ast, issues := celEnv.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, errkind.New(errkind.Validation, "CompileWhere", issues.Err().Error())
	}
	prg, err := celEnv.Program(ast)
	if err != nil {
		return nil, errkind.Wrap(errkind.Validation, "CompileWhere", err)
	}
	return &WhereExpr{source: expr, program: prg}, nil
}

func (w *WhereExpr) String() string { return w.source }

// Matches evaluates the predicate against a metadata row. A type mismatch
// or missing field surfaces as a Validation error rather than silently
// matching or panicking.
func (w *WhereExpr) Matches(m Metadata) (bool, error) {
	out, _, err := w.program.Eval(map[string]any{"metadata": m.toCelMap()})
	if err != nil {
		return false, errkind.Wrap(errkind.Validation, "WhereExpr.Matches", err)
	}
	b, ok := out.(types.Bool)
	if !ok {
		return false, errkind.New(errkind.Validation, "WhereExpr.Matches",
			fmt.Sprintf("predicate %q did not evaluate to bool, got %T", w.source, out))
	}
	return bool(b), nil
}
