package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRespondErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("quote: %w", ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("reservation: %w", ErrConflict), http.StatusConflict},
		{fmt.Errorf("stripe: %w", ErrUpstream), http.StatusBadRequest},
		{ErrForbidden, http.StatusForbidden},
		{ErrUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err)
		require.Equal(t, tc.code, rr.Code, tc.err.Error())
	}
}

func TestRespondErrorIncludesFieldErrors(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, fmt.Errorf("acceptance: %w", FieldErrors{"email": "must be a valid email"}))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "must be a valid email", body.Errors["email"])
}
