// Package searchspace describes structured hyperparameter search spaces: named
// numeric ranges, and categorical choices whose options own nested spaces.
//
// A space is flattened into branches, one per complete path of categorical
// choices. A configuration materialized for a branch carries only that
// branch's choices and numeric values; parameters of other branches are
// absent, never zero.
package searchspace

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/copyleftdev/nestedcv/internal/errors"
)

// DefaultBranch is the name of the single branch of a space without choices.
const DefaultBranch = "default"

// Range is a closed numeric interval [Low, High].
type Range struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Contains reports whether v lies in the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Low && v <= r.High
}

// Width returns High - Low.
func (r Range) Width() float64 {
	return r.High - r.Low
}

// Lerp maps u in [0, 1] onto the range. The result is clamped to the bounds
// so rounding never produces an out-of-range value.
func (r Range) Lerp(u float64) float64 {
	v := r.Low + u*r.Width()
	return math.Max(r.Low, math.Min(v, r.High))
}

// Unit maps v onto [0, 1].
func (r Range) Unit(v float64) float64 {
	return (v - r.Low) / r.Width()
}

// Dim is one named dimension of a space: either a numeric leaf (Range set)
// or a categorical choice (Options set).
type Dim struct {
	Name    string
	Range   *Range
	Options []Option
}

// IsChoice reports whether d is a categorical choice.
func (d Dim) IsChoice() bool {
	return d.Range == nil
}

// Option is one value of a categorical choice together with the parameters
// that become live when it is selected. Space may be nil.
type Option struct {
	Key   string
	Space *Space
}

// Space is an ordered list of dimensions. Declaration order is kept so that
// flattening and seeded sampling are reproducible.
type Space struct {
	Dims []Dim
}

// New builds a space from dims.
func New(dims ...Dim) *Space {
	return &Space{Dims: dims}
}

// Float declares a numeric dimension sampled from [low, high].
func Float(name string, low, high float64) Dim {
	return Dim{Name: name, Range: &Range{Low: low, High: high}}
}

// Choice declares a categorical dimension.
func Choice(name string, opts ...Option) Dim {
	return Dim{Name: name, Options: opts}
}

// Opt declares an option of a choice with the dimensions it activates.
func Opt(key string, dims ...Dim) Option {
	if len(dims) == 0 {
		return Option{Key: key}
	}
	return Option{Key: key, Space: New(dims...)}
}

// Validate checks the whole tree. Option keys of one choice must be
// distinct, every leaf needs finite bounds with low < high, and a name may
// appear only once on any path from the root, whether it names a choice or
// a numeric parameter.
func (s *Space) Validate() error {
	if err := s.validate(); err != nil {
		return err
	}
	_, err := s.flatten()
	return err
}

// validate runs the per-level checks of Validate.
func (s *Space) validate() error {
	if s == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(s.Dims))
	for _, d := range s.Dims {
		if d.Name == "" {
			return errors.New(errors.ErrInvalidConfiguration, "dimension without a name").
				WithComponent("searchspace")
		}
		if _, dup := seen[d.Name]; dup {
			return errors.Newf(errors.ErrDuplicateBranchKey, "dimension %q declared twice", d.Name).
				WithComponent("searchspace")
		}
		seen[d.Name] = struct{}{}

		if !d.IsChoice() {
			r := *d.Range
			if math.IsNaN(r.Low) || math.IsNaN(r.High) || math.IsInf(r.Low, 0) || math.IsInf(r.High, 0) {
				return errors.Newf(errors.ErrInvalidRange, "%s: bounds [%v, %v] are not finite", d.Name, r.Low, r.High).
					WithComponent("searchspace")
			}
			if !(r.Low < r.High) {
				return errors.Newf(errors.ErrInvalidRange, "%s: low %v must be below high %v", d.Name, r.Low, r.High).
					WithComponent("searchspace")
			}
			continue
		}

		if len(d.Options) == 0 {
			return errors.Newf(errors.ErrInvalidRange, "choice %q has no options", d.Name).
				WithComponent("searchspace")
		}
		keys := make(map[string]struct{}, len(d.Options))
		for _, opt := range d.Options {
			if _, dup := keys[opt.Key]; dup {
				return errors.Newf(errors.ErrDuplicateBranchKey, "choice %q: option %q declared twice", d.Name, opt.Key).
					WithComponent("searchspace")
			}
			keys[opt.Key] = struct{}{}
			if err := opt.Space.validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// NamedRange is a live numeric parameter of a branch.
type NamedRange struct {
	Name string
	Range
}

// Branch is one complete path through the choices of a space.
type Branch struct {
	// Name is the selected option keys joined with "/", or DefaultBranch.
	Name string
	// Choices maps each choice dimension on the path to its selected key.
	Choices map[string]string
	// Ranges are the numeric parameters live under this path, outer levels
	// first, in declaration order.
	Ranges []NamedRange
}

// Dims returns the number of numeric parameters of the branch.
func (b Branch) Dims() int {
	return len(b.Ranges)
}

// Bounds returns the ranges as [low, high] pairs.
func (b Branch) Bounds() [][2]float64 {
	out := make([][2]float64, len(b.Ranges))
	for i, r := range b.Ranges {
		out[i] = [2]float64{r.Low, r.High}
	}
	return out
}

// Flatten validates s and enumerates its branches in declaration order.
// When a level has several choices, branches are their cartesian product.
func (s *Space) Flatten() ([]Branch, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	paths, err := s.flatten()
	if err != nil {
		return nil, err
	}
	for i := range paths {
		if paths[i].Name == "" {
			paths[i].Name = DefaultBranch
		}
	}
	return paths, nil
}

func (s *Space) flatten() ([]Branch, error) {
	partial := []Branch{{Choices: map[string]string{}}}
	if s == nil {
		return partial, nil
	}

	for _, d := range s.Dims {
		if !d.IsChoice() {
			for i := range partial {
				partial[i].Ranges = append(partial[i].Ranges, NamedRange{Name: d.Name, Range: *d.Range})
			}
		}
	}

	for _, d := range s.Dims {
		if !d.IsChoice() {
			continue
		}
		var next []Branch
		for _, p := range partial {
			for _, opt := range d.Options {
				subs, err := opt.Space.flatten()
				if err != nil {
					return nil, err
				}
				for _, sub := range subs {
					if name, dup := sharedName(p, d.Name, sub); dup {
						return nil, errors.Newf(errors.ErrDuplicateBranchKey,
							"branch %q: %q declared twice on one path",
							joinName(joinName(p.Name, opt.Key), sub.Name), name).WithComponent("searchspace")
					}
					b := Branch{
						Name:    joinName(joinName(p.Name, opt.Key), sub.Name),
						Choices: make(map[string]string, len(p.Choices)+len(sub.Choices)+1),
						Ranges:  make([]NamedRange, 0, len(p.Ranges)+len(sub.Ranges)),
					}
					for k, v := range p.Choices {
						b.Choices[k] = v
					}
					b.Choices[d.Name] = opt.Key
					for k, v := range sub.Choices {
						b.Choices[k] = v
					}
					b.Ranges = append(b.Ranges, p.Ranges...)
					b.Ranges = append(b.Ranges, sub.Ranges...)
					next = append(next, b)
				}
			}
		}
		partial = next
	}
	return partial, nil
}

// sharedName returns a name live both in p and in the branch formed by
// choice and sub.
func sharedName(p Branch, choice string, sub Branch) (string, bool) {
	names := make(map[string]struct{}, len(p.Choices)+len(p.Ranges))
	for k := range p.Choices {
		names[k] = struct{}{}
	}
	for _, r := range p.Ranges {
		names[r.Name] = struct{}{}
	}

	if _, ok := names[choice]; ok {
		return choice, true
	}
	names[choice] = struct{}{}
	for _, k := range sortedKeys(sub.Choices) {
		if _, ok := names[k]; ok {
			return k, true
		}
	}
	for _, r := range sub.Ranges {
		if _, ok := names[r.Name]; ok {
			return r.Name, true
		}
	}
	return "", false
}

func joinName(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "/" + b
	}
}

// Materialize builds the configuration of branch b from sampled values.
// Every live parameter of b must be present in values and inside its range;
// values for parameters that are not live in b are dropped.
func (s *Space) Materialize(b Branch, values map[string]float64) (Configuration, error) {
	cfg := Configuration{
		Choices: make(map[string]string, len(b.Choices)),
		Values:  make(map[string]float64, len(b.Ranges)),
	}
	for k, v := range b.Choices {
		cfg.Choices[k] = v
	}
	for _, r := range b.Ranges {
		v, ok := values[r.Name]
		if !ok {
			return Configuration{}, errors.Newf(errors.ErrInvalidConfiguration,
				"branch %s: no value for %q", b.Name, r.Name).WithComponent("searchspace")
		}
		if math.IsNaN(v) || !r.Contains(v) {
			return Configuration{}, errors.Newf(errors.ErrInvalidRange,
				"branch %s: %s=%v outside [%v, %v]", b.Name, r.Name, v, r.Low, r.High).WithComponent("searchspace")
		}
		cfg.Values[r.Name] = v
	}
	return cfg, nil
}

// Configuration is one point of a space. Parameters that are not live under
// the selected choices are absent from both maps.
type Configuration struct {
	Choices map[string]string  `json:"choices,omitempty"`
	Values  map[string]float64 `json:"values,omitempty"`
}

// Float returns the numeric parameter name, if present.
func (c Configuration) Float(name string) (float64, bool) {
	v, ok := c.Values[name]
	return v, ok
}

// Choice returns the selected option of the choice name, if present.
func (c Configuration) Choice(name string) (string, bool) {
	v, ok := c.Choices[name]
	return v, ok
}

// Has reports whether name is present as a choice or a numeric value.
func (c Configuration) Has(name string) bool {
	if _, ok := c.Choices[name]; ok {
		return true
	}
	_, ok := c.Values[name]
	return ok
}

// Len returns the number of present parameters.
func (c Configuration) Len() int {
	return len(c.Choices) + len(c.Values)
}

// String renders the configuration with choices first, each group sorted by name.
func (c Configuration) String() string {
	parts := make([]string, 0, c.Len())
	for _, k := range sortedKeys(c.Choices) {
		parts = append(parts, k+"="+c.Choices[k])
	}
	for _, k := range sortedKeys(c.Values) {
		parts = append(parts, fmt.Sprintf("%s=%.6g", k, c.Values[k]))
	}
	return strings.Join(parts, " ")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
