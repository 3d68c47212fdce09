package worker

import (
	"context"
	"errors"
	"testing"

	"garminsync/internal/platform"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestUploaderConsentsOnce(t *testing.T) {
	client := &scriptedClient{}
	u := NewUploader(client, zap.NewNop())

	_, err := u.Upload(context.Background(), "1", []byte("a"))
	require.NoError(t, err)
	_, err = u.Upload(context.Background(), "2", []byte("b"))
	require.NoError(t, err)

	require.Equal(t, 1, client.consentCalls)
	require.Equal(t, []string{"1", "2"}, client.uploads)
}

func TestUploaderConsentFailureBlocksUpload(t *testing.T) {
	client := &scriptedClient{consentErr: &platform.ConsentError{Err: errors.New("forbidden")}}
	u := NewUploader(client, zap.NewNop())

	_, err := u.Upload(context.Background(), "1", []byte("a"))
	var consentErr *platform.ConsentError
	require.ErrorAs(t, err, &consentErr)
	require.Empty(t, client.uploads)

	// A later call retries the handshake instead of treating it as done.
	_, err = u.Upload(context.Background(), "2", []byte("b"))
	require.ErrorAs(t, err, &consentErr)
	require.Equal(t, 2, client.consentCalls)
}
