package archive

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fatflowers/dunning/pkg/config"
	"github.com/fatflowers/dunning/pkg/types"
)

func TestS3Archiver_Key(t *testing.T) {
	a := NewS3Archiver(nil, "bucket", "/webhooks/")
	at := time.Date(2026, 5, 6, 23, 0, 0, 0, time.FixedZone("x", -2*3600))
	require.Equal(t, "webhooks/paystack/2026/05/07/charge.failed_12.json",
		a.Key(types.PaymentProviderPaystack, "charge.failed:12", at))
}

func TestS3Archiver_PutsObject(t *testing.T) {
	var gotPath string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := newS3Client(context.Background(), config.ArchiveConfig{
		Region:          "us-east-1",
		EndpointURL:     srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	require.NoError(t, err)

	a := NewS3Archiver(client, "raw", "webhooks")
	at := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, a.Archive(context.Background(), types.PaymentProviderStripe, "evt_1", at, []byte(`{"id":"evt_1"}`)))

	require.Equal(t, "/raw/webhooks/stripe/2026/01/02/evt_1.json", gotPath)
	require.JSONEq(t, `{"id":"evt_1"}`, string(gotBody))
}

func TestNew_DisabledWithoutBucket(t *testing.T) {
	a, err := New(&config.Config{}, nil)
	require.NoError(t, err)
	require.IsType(t, Nop{}, a)
}
