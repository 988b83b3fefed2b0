package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAzureStore_Download(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/session-images/u1/s1/front.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte("blob-bytes"))
		default:
			w.Header().Set("x-ms-error-code", "BlobNotFound")
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client, err := azblob.NewClientWithNoCredential(server.URL, nil)
	require.NoError(t, err)
	s := NewAzureStoreWithClient(client, "session-images")
	ctx := context.Background()

	data, err := s.Download(ctx, "session-images/u1/s1/front.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("blob-bytes"), data)

	_, err = s.Download(ctx, "u1/s1/missing.jpg")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}
