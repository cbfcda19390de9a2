package di

import (
	"go/ast"
	"go/parser"
	"go/token"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseFile(t *testing.T, name string) *ast.File {
	t.Helper()
	f, err := parser.ParseFile(token.NewFileSet(), name, nil, parser.ParseComments)
	require.NoError(t, err)
	return f
}

func providerName(e ast.Expr) (string, bool) {
	id, ok := e.(*ast.Ident)
	if !ok || !strings.HasPrefix(id.Name, "Provide") {
		return "", false
	}
	return id.Name, true
}

// wiredProviders lists the providers named in wire.go's sets and Build call.
func wiredProviders(t *testing.T) []string {
	var out []string
	ast.Inspect(parseFile(t, "wire.go"), func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		sel, ok := call.Fun.(*ast.SelectorExpr)
		if !ok || (sel.Sel.Name != "NewSet" && sel.Sel.Name != "Build") {
			return true
		}
		for _, a := range call.Args {
			if name, ok := providerName(a); ok {
				out = append(out, name)
			}
		}
		return true
	})
	sort.Strings(out)
	return out
}

func declaredProviders(t *testing.T) []string {
	var out []string
	for _, d := range parseFile(t, "providers.go").Decls {
		if fn, ok := d.(*ast.FuncDecl); ok && fn.Recv == nil && strings.HasPrefix(fn.Name.Name, "Provide") {
			out = append(out, fn.Name.Name)
		}
	}
	sort.Strings(out)
	return out
}

func TestWireGen_MatchesProviderSets(t *testing.T) {
	f := parseFile(t, "wire_gen.go")
	require.NotEmpty(t, f.Comments)
	assert.Equal(t, "// Code generated by Wire. DO NOT EDIT.", f.Comments[0].List[0].Text)

	var injector *ast.FuncDecl
	for _, d := range f.Decls {
		if fn, ok := d.(*ast.FuncDecl); ok && fn.Name.Name == "InitializeApp" {
			injector = fn
		}
	}
	require.NotNil(t, injector)

	// every provider runs once, after the providers of its arguments
	defined := map[string]bool{"cfg": true}
	var called []string
	for _, st := range injector.Body.List {
		assign, ok := st.(*ast.AssignStmt)
		if !ok || len(assign.Rhs) != 1 {
			continue
		}
		call, ok := assign.Rhs[0].(*ast.CallExpr)
		if !ok {
			continue
		}
		name, ok := providerName(call.Fun)
		if !ok {
			continue
		}
		called = append(called, name)
		for _, a := range call.Args {
			id, ok := a.(*ast.Ident)
			require.True(t, ok, "%s: argument is not a variable", name)
			assert.True(t, defined[id.Name], "%s uses %s before it is built", name, id.Name)
		}
		for _, lhs := range assign.Lhs {
			defined[lhs.(*ast.Ident).Name] = true
		}
	}
	sort.Strings(called)

	assert.Equal(t, wiredProviders(t), called)
	assert.Equal(t, declaredProviders(t), called)
}
