package searchspace

import (
	"github.com/tidwall/gjson"

	"github.com/copyleftdev/nestedcv/internal/errors"
)

// Parse reads a space from JSON. Each member of the top-level object is a
// dimension: a two-number array [low, high] is a numeric range, an object is
// a categorical choice whose members are option keys mapping to nested
// spaces (or null when the option has no parameters).
//
//	{"kernel": {"linear": {"C": [1, 100]},
//	            "rbf":    {"C": [1, 100], "gamma": [0, 50]}}}
//
// Member order is kept, and a key repeated within one object is reported
// as ErrDuplicateBranchKey rather than silently overwritten.
func Parse(doc []byte) (*Space, error) {
	if !gjson.ValidBytes(doc) {
		return nil, errors.New(errors.ErrInvalidConfiguration, "search space is not valid JSON").
			WithComponent("searchspace")
	}
	return FromJSON(gjson.ParseBytes(doc))
}

// FromJSON reads a space from an already parsed JSON value.
func FromJSON(v gjson.Result) (*Space, error) {
	s, err := parseSpace(v, "")
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func parseSpace(v gjson.Result, path string) (*Space, error) {
	if v.Type == gjson.Null {
		return nil, nil
	}
	if !v.IsObject() {
		return nil, errors.Newf(errors.ErrInvalidConfiguration, "%s: expected an object, got %s", where(path), v.Raw).
			WithComponent("searchspace")
	}

	s := &Space{}
	seen := map[string]struct{}{}
	var bad error
	v.ForEach(func(key, val gjson.Result) bool {
		name := key.String()
		if _, dup := seen[name]; dup {
			bad = errors.Newf(errors.ErrDuplicateBranchKey, "%s: key %q repeated", where(path), name).
				WithComponent("searchspace")
			return false
		}
		seen[name] = struct{}{}

		dim, err := parseDim(name, val, joinName(path, name))
		if err != nil {
			bad = err
			return false
		}
		s.Dims = append(s.Dims, dim)
		return true
	})
	if bad != nil {
		return nil, bad
	}
	return s, nil
}

func parseDim(name string, v gjson.Result, path string) (Dim, error) {
	switch {
	case v.IsArray():
		bounds := v.Array()
		if len(bounds) != 2 || bounds[0].Type != gjson.Number || bounds[1].Type != gjson.Number {
			return Dim{}, errors.Newf(errors.ErrInvalidRange, "%s: range must be [low, high], got %s", path, v.Raw).
				WithComponent("searchspace")
		}
		return Float(name, bounds[0].Float(), bounds[1].Float()), nil

	case v.IsObject():
		d := Dim{Name: name}
		seen := map[string]struct{}{}
		var bad error
		v.ForEach(func(key, val gjson.Result) bool {
			opt := key.String()
			if _, dup := seen[opt]; dup {
				bad = errors.Newf(errors.ErrDuplicateBranchKey, "%s: option %q repeated", path, opt).
					WithComponent("searchspace")
				return false
			}
			seen[opt] = struct{}{}

			sub, err := parseSpace(val, joinName(path, opt))
			if err != nil {
				bad = err
				return false
			}
			d.Options = append(d.Options, Option{Key: opt, Space: sub})
			return true
		})
		if bad != nil {
			return Dim{}, bad
		}
		return d, nil

	default:
		return Dim{}, errors.Newf(errors.ErrInvalidConfiguration, "%s: expected a range or an object, got %s", path, v.Raw).
			WithComponent("searchspace")
	}
}

func where(path string) string {
	if path == "" {
		return "space"
	}
	return path
}
