// Command syscallcheck is a go/analysis-based checker enforcing the
// syscall gateway's ABI stability rule: the integer literals given to
// the constants of one const declaration must be distinct, since
// reusing a call number silently breaks every compiled user program's
// ABI. Duplicates across separate const declarations are not reported.
package main

import (
	"go/ast"
	"go/constant"
	"go/token"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/analysis/singlechecker"
	"golang.org/x/tools/go/ast/inspector"
)

// Analyzer flags duplicate integer values among the constants of each
// const declaration, in the syscallno package (or any package the
// caller points it at — the rule is general, the motivating case is
// the call-number table).
var Analyzer = &analysis.Analyzer{
	Name:     "syscallno",
	Doc:      "reports duplicate numeric values among sibling const declarations (syscall ABI numbers must stay unique)",
	Requires: []*analysis.Analyzer{inspect.Analyzer},
	Run:      run,
}

func run(pass *analysis.Pass) (interface{}, error) {
	insp := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)

	nodeFilter := []ast.Node{(*ast.GenDecl)(nil)}
	insp.Preorder(nodeFilter, func(n ast.Node) {
		decl := n.(*ast.GenDecl)
		if decl.Tok != token.CONST {
			return
		}
		seen := make(map[int64]string)
		for _, spec := range decl.Specs {
			vspec, ok := spec.(*ast.ValueSpec)
			if !ok {
				continue
			}
			for i, name := range vspec.Names {
				if i >= len(vspec.Values) {
					continue
				}
				lit, ok := vspec.Values[i].(*ast.BasicLit)
				if !ok || lit.Kind != token.INT {
					continue
				}
				val := constant.MakeFromLiteral(lit.Value, token.INT, 0)
				n, ok := constant.Int64Val(val)
				if !ok {
					continue
				}
				if prior, dup := seen[n]; dup {
					pass.Reportf(vspec.Pos(), "syscall number %d reused: %s and %s both declare %d",
						n, prior, name.Name, n)
					continue
				}
				seen[n] = name.Name
			}
		}
	})
	return nil, nil
}

func main() {
	singlechecker.Main(Analyzer)
}
