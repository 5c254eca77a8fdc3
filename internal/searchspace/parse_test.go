package searchspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/copyleftdev/nestedcv/internal/errors"
)

func TestParse(t *testing.T) {
	doc := `{
		"C": [1, 100],
		"kernel": {
			"linear": null,
			"rbf": {"gamma": [0, 50]},
			"poly": {"degree": [2, 5], "coef0": [0, 1]}
		}
	}`
	space, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, kernelSpace(), space)

	branches, err := space.Flatten()
	require.NoError(t, err)
	assert.Len(t, branches, 3)
}

func TestParseKeepsMemberOrder(t *testing.T) {
	space, err := Parse([]byte(`{"z": [0, 1], "a": [0, 1], "m": {"q": {}, "b": {}}}`))
	require.NoError(t, err)
	require.Len(t, space.Dims, 3)
	assert.Equal(t, "z", space.Dims[0].Name)
	assert.Equal(t, "a", space.Dims[1].Name)
	assert.Equal(t, "q", space.Dims[2].Options[0].Key)
	assert.Equal(t, "b", space.Dims[2].Options[1].Key)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		kind error
	}{
		{"not JSON", `{"C": [1,`, errors.ErrInvalidConfiguration},
		{"top level array", `[1, 2]`, errors.ErrInvalidConfiguration},
		{"scalar dimension", `{"C": 3}`, errors.ErrInvalidConfiguration},
		{"three bounds", `{"C": [1, 2, 3]}`, errors.ErrInvalidRange},
		{"string bound", `{"C": ["1", 2]}`, errors.ErrInvalidRange},
		{"inverted range", `{"C": [5, 1]}`, errors.ErrInvalidRange},
		{"duplicate dimension", `{"C": [1, 2], "C": [3, 4]}`, errors.ErrDuplicateBranchKey},
		{"duplicate option", `{"kernel": {"rbf": null, "rbf": {"gamma": [0, 1]}}}`, errors.ErrDuplicateBranchKey},
		{"duplicate nested key", `{"kernel": {"rbf": {"g": [0, 1], "g": [0, 2]}}}`, errors.ErrDuplicateBranchKey},
		{"option is not an object", `{"kernel": {"rbf": [0, 1]}}`, errors.ErrInvalidConfiguration},
		{"empty choice", `{"kernel": {}}`, errors.ErrInvalidRange},
		{"option redeclares outer range", `{"C": [1, 10], "kernel": {"rbf": {"C": [50, 100]}}}`, errors.ErrDuplicateBranchKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)
		})
	}
}

func TestFromJSONNested(t *testing.T) {
	req := gjson.Parse(`{"space": {"model": {"a": {"inner": {"x": {"p": [0, 1]}, "y": null}}}}}`)
	space, err := FromJSON(req.Get("space"))
	require.NoError(t, err)

	branches, err := space.Flatten()
	require.NoError(t, err)
	require.Len(t, branches, 2)
	assert.Equal(t, "a/x", branches[0].Name)
	assert.Equal(t, "a/y", branches[1].Name)
	assert.Equal(t, "p", branches[0].Ranges[0].Name)
}
