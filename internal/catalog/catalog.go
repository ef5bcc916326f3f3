// Package catalog loads geofence catalogs written in CUE.
//
// Each geofence is unified with the embedded #Geofence schema, so range
// checks and defaults live in one place and errors carry file positions.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/geofencer/internal/geo"
)

//go:embed schema.cue
var schemaSrc string

// Catalog is the content of a catalog directory.
type Catalog struct {
	Geofences []geo.Geofence
	Arriving  *geo.NotificationTemplate
	Leaving   *geo.NotificationTemplate
	FileCount int
}

// CompileError is a catalog error with its CUE position, when known.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Mode controls how errors are handled while compiling.
type Mode int

const (
	// FailFast stops on the first error encountered.
	FailFast Mode = iota
	// CollectAll collects all errors before returning.
	CollectAll
)

// schemas holds the compiled definitions for one cue.Context.
type schemas struct {
	geofence cue.Value
	template cue.Value
}

func compileSchemas(ctx *cue.Context) (schemas, error) {
	v := ctx.CompileString(schemaSrc, cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		return schemas{}, fmt.Errorf("compile catalog schema: %w", err)
	}
	return schemas{
		geofence: v.LookupPath(cue.ParsePath("#Geofence")),
		template: v.LookupPath(cue.ParsePath("#Template")),
	}, nil
}

// LoadDir loads every .cue file in dir as one CUE package and compiles it.
func LoadDir(dir string, mode Mode) (*Catalog, []error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("catalog directory: %w", err)}
	}
	if !info.IsDir() {
		return nil, []error{fmt.Errorf("not a directory: %s", dir)}
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, []error{fmt.Errorf("scanning %s: %w", dir, err)}
	}
	if len(files) == 0 {
		return nil, []error{fmt.Errorf("no CUE files found in %s", dir)}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{fmt.Errorf("no CUE instances loaded from %s", dir)}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{formatCUEError("cue", inst.Err, token.NoPos)}
	}

	value := ctx.BuildInstance(inst)
	cat, errs := compile(ctx, value, mode)
	if cat != nil {
		cat.FileCount = len(files)
	}
	return cat, errs
}

// Compile compiles an already built CUE value. v must come from ctx.
func Compile(ctx *cue.Context, v cue.Value, mode Mode) (*Catalog, []error) {
	return compile(ctx, v, mode)
}

func compile(ctx *cue.Context, v cue.Value, mode Mode) (*Catalog, []error) {
	if err := v.Err(); err != nil {
		return nil, []error{formatCUEError("cue", err, v.Pos())}
	}
	s, err := compileSchemas(ctx)
	if err != nil {
		return nil, []error{err}
	}

	cat := &Catalog{}
	var errs []error

	fences := v.LookupPath(cue.ParsePath("geofence"))
	if fences.Exists() {
		iter, err := fences.Fields()
		if err != nil {
			return cat, []error{formatCUEError("geofence", err, fences.Pos())}
		}
		for iter.Next() {
			g, err := compileGeofence(s, iter.Selector().Unquoted(), iter.Value())
			if err != nil {
				errs = append(errs, err)
				if mode == FailFast {
					return cat, errs
				}
				continue
			}
			cat.Geofences = append(cat.Geofences, g)
		}
	}

	for _, name := range []string{"arriving", "leaving"} {
		tv := v.LookupPath(cue.MakePath(cue.Str("notification"), cue.Str(name)))
		if !tv.Exists() {
			continue
		}
		tmpl, err := compileTemplate(s, name, tv)
		if err != nil {
			errs = append(errs, err)
			if mode == FailFast {
				return cat, errs
			}
			continue
		}
		if name == "arriving" {
			cat.Arriving = tmpl
		} else {
			cat.Leaving = tmpl
		}
	}

	if len(cat.Geofences) == 0 && cat.Arriving == nil && cat.Leaving == nil && len(errs) == 0 {
		errs = append(errs, &CompileError{Field: "geofence", Message: "catalog declares no geofences or notifications", Pos: v.Pos()})
	}
	return cat, errs
}

type geofenceFields struct {
	Identifier    string  `json:"identifier"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	Radius        float64 `json:"radius"`
	NotifyOnEntry bool    `json:"notifyOnEntry"`
	NotifyOnExit  bool    `json:"notifyOnExit"`
}

// compileGeofence validates one geofence against #Geofence. The identifier
// defaults to the field label.
func compileGeofence(s schemas, label string, v cue.Value) (geo.Geofence, error) {
	field := "geofence." + label
	u := s.geofence.Unify(v)
	if err := u.Validate(cue.Concrete(true)); err != nil {
		return geo.Geofence{}, formatCUEError(field, err, v.Pos())
	}

	var f geofenceFields
	if err := u.Decode(&f); err != nil {
		return geo.Geofence{}, formatCUEError(field, err, v.Pos())
	}
	if f.Identifier == "" {
		f.Identifier = label
	}

	g := geo.Geofence{
		Identifier:    geo.NormalizeIdentifier(f.Identifier),
		Center:        geo.Coordinate{Latitude: f.Latitude, Longitude: f.Longitude},
		Radius:        f.Radius,
		NotifyOnEntry: f.NotifyOnEntry,
		NotifyOnExit:  f.NotifyOnExit,
	}
	if err := g.Validate(); err != nil {
		return geo.Geofence{}, &CompileError{Field: field, Message: err.Error(), Pos: v.Pos()}
	}
	return g, nil
}

func compileTemplate(s schemas, name string, v cue.Value) (*geo.NotificationTemplate, error) {
	u := s.template.Unify(v)
	if err := u.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError("notification."+name, err, v.Pos())
	}
	var tmpl geo.NotificationTemplate
	if err := u.Decode(&tmpl); err != nil {
		return nil, &CompileError{Field: "notification." + name, Message: err.Error(), Pos: v.Pos()}
	}
	return &tmpl, nil
}

// formatCUEError extracts position info from CUE errors. When CUE reports
// no position, fallback is used.
func formatCUEError(field string, err error, fallback token.Pos) error {
	if err == nil {
		return nil
	}

	ce := &CompileError{Field: field, Message: err.Error(), Pos: fallback}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return ce
	}

	first := errs[0]
	ce.Message = first.Error()
	if positions := errors.Positions(first); len(positions) > 0 {
		ce.Pos = positions[0]
	}
	return ce
}
