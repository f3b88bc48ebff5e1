package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edcomposer/internal/config"
	"edcomposer/internal/pkg/errors"
)

func TestNewProvider(t *testing.T) {
	ctx := context.Background()

	sp, err := NewProvider(ctx, config.StorageConfig{Provider: "localfs", LocalRoot: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "localfs", sp.Provider())

	_, err = NewProvider(ctx, config.StorageConfig{Provider: "localfs"})
	assert.True(t, errors.IsValidation(err))

	_, err = NewProvider(ctx, config.StorageConfig{Provider: "gdrive"})
	assert.True(t, errors.IsValidation(err))

	_, err = NewProvider(ctx, config.StorageConfig{Provider: "s3"})
	require.Error(t, err)
	assert.Equal(t, "STORAGE_PROVIDER", errors.GetFields(err)["field"])
}

func TestDriveOAuthConfig(t *testing.T) {
	conf := DriveOAuthConfig("id", "secret", "http://localhost:8085/callback")
	assert.Equal(t, []string{"https://www.googleapis.com/auth/drive.file"}, conf.Scopes)
	assert.Contains(t, conf.AuthCodeURL("state"), "client_id=id")
}
