// Package storage builds the configured artifact storage provider.
package storage

import (
	"context"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"edcomposer/internal/adapters/storage/gdrive"
	"edcomposer/internal/adapters/storage/localfs"
	"edcomposer/internal/config"
	"edcomposer/internal/pkg/errors"
	"edcomposer/internal/ports"
)

// NewProvider returns the provider named by cfg.Provider.
func NewProvider(ctx context.Context, cfg config.StorageConfig) (ports.StorageProvider, error) {
	switch cfg.Provider {
	case "", "localfs":
		if cfg.LocalRoot == "" {
			return nil, errors.ValidationField("STORAGE_LOCAL_ROOT", "local storage root is required")
		}
		return localfs.New(cfg.LocalRoot), nil

	case "gdrive":
		return newGDriveProvider(ctx, cfg.GDrive)

	default:
		return nil, errors.ValidationField("STORAGE_PROVIDER", "unknown storage provider: "+cfg.Provider)
	}
}

// DriveOAuthConfig is the OAuth client used for Drive uploads and by the
// gdrive-auth command.
func DriveOAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
	}
}

func newGDriveProvider(ctx context.Context, cfg config.GDriveConfig) (ports.StorageProvider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, errors.ValidationField("GDRIVE_REFRESH_TOKEN", "gdrive storage needs client id, secret and refresh token")
	}

	conf := DriveOAuthConfig(cfg.ClientID, cfg.ClientSecret, "")
	httpClient := conf.Client(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	srv, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "storage.gdrive", "create drive service")
	}
	return gdrive.NewClient(srv, cfg.FolderID), nil
}
