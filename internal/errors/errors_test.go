package errors

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/nestedcv/internal/logging"
)

func TestNew(t *testing.T) {
	err := New(ErrInvalidRange, "low above high").
		WithComponent("searchspace").
		WithOperation("Validate")

	assert.Equal(t, "searchspace: Validate: low above high", err.Error())
	assert.True(t, Is(err, ErrInvalidRange))
	assert.False(t, Is(err, ErrInvalidConfiguration))
	assert.Equal(t, ErrInvalidRange, KindOf(err))
	assert.Contains(t, err.StackTrace(), "TestNew")
}

func TestNewf(t *testing.T) {
	err := Newf(ErrDimensionMismatch, "X has %d rows, y has %d", 4, 3)
	assert.Equal(t, "X has 4 rows, y has 3", err.Error())
	assert.True(t, stderrors.Is(err, ErrDimensionMismatch))
}

func TestWrap(t *testing.T) {
	base := stderrors.New("disk on fire")

	tests := []struct {
		name    string
		err     error
		kind    error
		wantMsg string
		want    error
	}{
		{"plain cause", base, ErrInvalidConfiguration, "open data: disk on fire", ErrInvalidConfiguration},
		{"inherits kind", New(ErrNotFitted, "predict"), nil, "open data: predict", ErrNotFitted},
		{"overrides kind", New(ErrNotFitted, "predict"), ErrNoValidConfiguration, "open data: predict", ErrNoValidConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Wrap(tt.err, tt.kind, "open data")
			require.Error(t, err)
			assert.Equal(t, tt.wantMsg, err.Error())
			assert.True(t, Is(err, tt.want))
			assert.Equal(t, tt.want, KindOf(err))
		})
	}

	assert.Nil(t, Wrap(nil, ErrInvalidConfiguration, "nothing"))
	assert.Nil(t, Wrapf(nil, nil, "nothing %d", 1))

	err := Wrapf(base, nil, "fold %d", 2)
	assert.Equal(t, "fold 2: disk on fire", err.Error())
	assert.Nil(t, KindOf(err))
	assert.True(t, Is(err, base))
}

func TestWrapKeepsInnerKind(t *testing.T) {
	inner := New(ErrInvalidRange, "gamma=-1")
	err := Wrap(inner, ErrInvalidConfiguration, "tuned run")

	// The outer kind wins for KindOf, but both match.
	assert.Equal(t, ErrInvalidConfiguration, KindOf(err))
	assert.True(t, Is(err, ErrInvalidConfiguration))
	assert.True(t, Is(err, ErrInvalidRange))

	var e *Error
	require.True(t, As(err, &e))
	assert.NotNil(t, Unwrap(err))
}

func TestNilError(t *testing.T) {
	var e *Error
	assert.Equal(t, "<nil>", e.Error())
	assert.Nil(t, e.Unwrap())
	assert.False(t, e.Is(ErrNotFound))
	assert.Equal(t, "", e.StackTrace())
}

func TestRecovered(t *testing.T) {
	assert.NoError(t, Recovered(nil, ErrInvalidConfiguration))

	err := Recovered("index out of range", ErrInvalidConfiguration)
	assert.EqualError(t, err, "recovered panic: index out of range")
	assert.True(t, Is(err, ErrInvalidConfiguration))

	cause := fmt.Errorf("boom")
	err = Recovered(cause, ErrNoValidConfiguration)
	assert.True(t, Is(err, ErrNoValidConfiguration))
	assert.True(t, Is(err, cause))
}

func TestRecoveryMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.ErrorLevel, &buf)

	handler := RecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/panic" {
			panic("handler exploded")
		}
		io.WriteString(w, "ok")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "handler exploded")
	assert.Contains(t, buf.String(), `"path":"/panic"`)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fine", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		RecoveryMiddleware(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic(http.ErrAbortHandler)
		})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}
