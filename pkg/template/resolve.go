// Copyright 2025 AUTHORS
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package template resolves ${secret.K} and ${this.NAME.FIELD} placeholders
// in every string field of a Project, in a single pass.
package template

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/shiphq/ship/pkg/model"
)

// Error is a fatal resolver error: an unknown secret key, unknown
// connectable name, or missing connectable field.
type Error struct {
	Expr string
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("resolve %q: %s", e.Expr, e.Msg)
}

var placeholderRe = regexp.MustCompile(`\$\{([^}]*)\}`)

// Resolver evaluates placeholder expressions against a secret store and a
// connectable graph.
type Resolver struct {
	Secrets      map[string]string
	Connectables map[string]model.Connectable
}

// New builds a Resolver from a secret set and the connectable set derived
// for the current project.
func New(secrets map[string]string, connectables map[string]model.Connectable) *Resolver {
	return &Resolver{Secrets: secrets, Connectables: connectables}
}

// ResolveString substitutes every ${...} placeholder in s. Resolution is
// one pass: the substituted text is never re-scanned for further
// placeholders, so cycles through `this.X.internal` references are
// unreachable by construction.
func (r *Resolver) ResolveString(s string) (string, error) {
	var outerErr error
	out := placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		if outerErr != nil {
			return m
		}
		expr := placeholderRe.FindStringSubmatch(m)[1]
		val, err := r.evalExpr(expr)
		if err != nil {
			outerErr = err
			return m
		}
		return val
	})
	if outerErr != nil {
		return "", outerErr
	}
	return out, nil
}

// evalExpr evaluates one placeholder body, supporting `+` concatenation of
// individually-evaluated sub-expressions.
func (r *Resolver) evalExpr(expr string) (string, error) {
	parts := strings.Split(expr, "+")
	var sb strings.Builder
	for _, p := range parts {
		p = strings.TrimSpace(p)
		v, err := r.evalTerm(p)
		if err != nil {
			return "", err
		}
		sb.WriteString(v)
	}
	return sb.String(), nil
}

func (r *Resolver) evalTerm(term string) (string, error) {
	switch {
	case strings.HasPrefix(term, "secret."):
		key := strings.TrimPrefix(term, "secret.")
		v, ok := r.Secrets[key]
		if !ok {
			return "", &Error{Expr: term, Msg: "unknown secret key"}
		}
		return v, nil
	case strings.HasPrefix(term, "this."):
		rest := strings.TrimPrefix(term, "this.")
		dot := strings.LastIndex(rest, ".")
		if dot < 0 {
			return "", &Error{Expr: term, Msg: "missing field"}
		}
		name, field := rest[:dot], rest[dot+1:]
		c, ok := r.Connectables[name]
		if !ok {
			return "", &Error{Expr: term, Msg: "unknown connectable"}
		}
		switch field {
		case "internal":
			if c.InternalLink == "" {
				return "", &Error{Expr: term, Msg: "no internal link (no port)"}
			}
			return c.InternalLink, nil
		case "external":
			if c.ExternalLink == "" {
				return "", &Error{Expr: term, Msg: "no external link (no domain/port)"}
			}
			return c.ExternalLink, nil
		case "host":
			return c.Host, nil
		case "port":
			if c.Port == 0 {
				return "", &Error{Expr: term, Msg: "no port"}
			}
			return fmt.Sprintf("%d", c.Port), nil
		default:
			return "", &Error{Expr: term, Msg: "unknown field " + field}
		}
	default:
		return "", &Error{Expr: term, Msg: "unrecognized expression"}
	}
}

// ResolveProject rewrites every string field of p in place, resolving
// placeholders via ResolveString. It walks the value with reflection
// through nested structs, maps, slices, and pointers.
func (r *Resolver) ResolveProject(p *model.Project) error {
	v := reflect.ValueOf(p)
	return r.walk(v)
}

func (r *Resolver) walk(v reflect.Value) error {
	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return nil
		}
		return r.walk(v.Elem())
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			f := v.Field(i)
			if !f.CanSet() {
				continue
			}
			if err := r.walk(f); err != nil {
				return err
			}
		}
		return nil
	case reflect.Map:
		for _, k := range v.MapKeys() {
			mv := v.MapIndex(k)
			switch mv.Kind() {
			case reflect.String:
				resolved, err := r.ResolveString(mv.String())
				if err != nil {
					return err
				}
				v.SetMapIndex(k, reflect.ValueOf(resolved))
			default:
				// Maps of non-string values (e.g. map[string]*App) are
				// addressed by copying out, walking, and writing back
				// since map values aren't addressable.
				cp := reflect.New(mv.Type()).Elem()
				cp.Set(mv)
				if err := r.walk(cp); err != nil {
					return err
				}
				v.SetMapIndex(k, cp)
			}
		}
		return nil
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := r.walk(v.Index(i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.String:
		resolved, err := r.ResolveString(v.String())
		if err != nil {
			return err
		}
		v.SetString(resolved)
		return nil
	default:
		return nil
	}
}
