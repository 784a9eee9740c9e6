package workflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunDecodesVerdict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/workflows/gr-commit/run", r.URL.Path)
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if !req.Flags["confirm_zero_quantity"] {
			_ = json.NewEncoder(w).Encode(Result{Code: CodeConfirmZeroQty, Msg: "zero-quantity lines present"})
			return
		}
		_ = json.NewEncoder(w).Encode(Result{Code: CodeOK})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	req := Request{WorkflowID: "gr-commit", DocumentID: "GR-1"}

	res, err := c.Run(context.Background(), req)
	require.NoError(t, err)
	require.False(t, res.OK())
	require.True(t, res.NeedsConfirmation())
	require.Equal(t, CodeConfirmZeroQty, res.Code)

	req.Flags = map[string]bool{"confirm_zero_quantity": true}
	res, err = c.Run(context.Background(), req)
	require.NoError(t, err)
	require.True(t, res.OK())
}

func TestRunTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Run(context.Background(), Request{WorkflowID: "x"})
	require.Error(t, err)
}

func TestNeedsConfirmationCodes(t *testing.T) {
	require.True(t, Result{Code: CodeForceComplete}.NeedsConfirmation())
	require.True(t, Result{Code: CodeAuthExpired}.NeedsConfirmation())
	require.False(t, Result{Code: CodeOK}.NeedsConfirmation())
	require.False(t, Result{Code: "500"}.NeedsConfirmation())
}
