package mock_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"

	"github.com/kmsync/kmsync/internal/mock"
)

func TestMockFetcherReturnsConfiguredError(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := mock.NewMockFetcher(ctrl)

	wantErr := errors.New("connection reset")
	f.EXPECT().Fetch(gomock.Any(), "https://example.com/a").Return(io.ReadCloser(nil), wantErr)

	_, err := f.Fetch(context.Background(), "https://example.com/a")
	require.Equal(t, wantErr, err)
}
