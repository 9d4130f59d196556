package errors_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	seyerrs "github.com/jdholdren/classfeed/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEConstructor(t *testing.T) {
	got := seyerrs.E(
		"something went wrong",
		seyerrs.Detail{Field: "limit", Error: "was bad"},
		http.StatusBadRequest,
		seyerrs.CodeInvalidQuery,
	)
	want := &seyerrs.Error{
		Err: errors.New("something went wrong"),
		Details: []seyerrs.Detail{
			{Field: "limit", Error: "was bad"},
		},
		Status: http.StatusBadRequest,
		Code:   seyerrs.CodeInvalidQuery,
	}

	assert.Equal(t, want, got)
}

func TestInvalidJoinsEveryDetail(t *testing.T) {
	err := seyerrs.Invalid([]seyerrs.Detail{
		{Field: "limit", Error: "must be between 1 and 100"},
		{Field: "offset", Error: "must not be negative"},
	})

	assert.Equal(t, http.StatusBadRequest, err.Status)
	assert.Equal(t, "limit: must be between 1 and 100; offset: must not be negative", err.Err.Error())
	assert.Len(t, err.Details, 2)
}

func TestStatusOf(t *testing.T) {
	wrapped := fmt.Errorf("error loading feed: %w", seyerrs.E("nope", http.StatusBadGateway))

	assert.Equal(t, http.StatusBadGateway, seyerrs.StatusOf(wrapped))
	assert.Equal(t, http.StatusInternalServerError, seyerrs.StatusOf(errors.New("plain")))
}

func TestJSONTransport(t *testing.T) {
	in := seyerrs.E("upstream exploded", http.StatusBadGateway, seyerrs.CodeProvider)

	byts, err := json.Marshal(in)
	require.NoError(t, err)

	var out seyerrs.Error
	require.NoError(t, json.Unmarshal(byts, &out))
	assert.Equal(t, "upstream exploded", out.Err.Error())
	assert.Equal(t, seyerrs.CodeProvider, out.Code)
	assert.Equal(t, http.StatusBadGateway, out.Status)
}
