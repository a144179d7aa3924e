package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/rrebane/salk-toolkit/internal/config"
)

// AzureStore reads and writes blobs in one Azure storage account using a
// shared key.
type AzureStore struct {
	client *azblob.Client
}

// NewAzureStore creates a blob client for the configured account.
func NewAzureStore(cfg *config.StorageConfig) (*AzureStore, error) {
	if !cfg.HasAzure() {
		return nil, fmt.Errorf("azure config is incomplete: set AZURE_ACCOUNT_NAME and AZURE_ACCOUNT_KEY")
	}
	cred, err := azblob.NewSharedKeyCredential(*cfg.AzureAccountName, *cfg.AzureAccountKey)
	if err != nil {
		return nil, fmt.Errorf("create Azure shared key credential: %w", err)
	}
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", *cfg.AzureAccountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create Azure blob client: %w", err)
	}
	return &AzureStore{client: client}, nil
}

// Open streams a blob given as an az://, abfss:// or blob HTTPS URI.
func (s *AzureStore) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	container, key, err := parseAzurePath(uri)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.DownloadStream(ctx, container, key, nil)
	if err != nil {
		return nil, fmt.Errorf("download %q: %w", uri, err)
	}
	return resp.Body, nil
}

// Upload writes f to the blob named by uri.
func (s *AzureStore) Upload(ctx context.Context, uri string, f *os.File) error {
	container, key, err := parseAzurePath(uri)
	if err != nil {
		return err
	}
	if _, err := s.client.UploadFile(ctx, container, key, f, nil); err != nil {
		return fmt.Errorf("upload %q: %w", uri, err)
	}
	return nil
}

// parseAzurePath extracts container and blob name. Accepted forms:
//
//	abfss://container@account.dfs.core.windows.net/path/to/file
//	az://container/path/to/file
//	https://account.blob.core.windows.net/container/path/to/file
func parseAzurePath(path string) (container, key string, err error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", "", fmt.Errorf("parse Azure path %q: %w", path, err)
	}

	switch u.Scheme {
	case "abfss":
		// url.Parse puts the container in userinfo
		if u.User == nil {
			return "", "", fmt.Errorf("abfss path %q missing container@account component", path)
		}
		container = u.User.Username()
		key = strings.TrimPrefix(u.Path, "/")
	case "az":
		container = u.Host
		key = strings.TrimPrefix(u.Path, "/")
	case "https":
		if !strings.Contains(u.Host, ".blob.core.windows.net") {
			return "", "", fmt.Errorf("unrecognized Azure HTTPS host %q in path %q", u.Host, path)
		}
		container, key, _ = strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	default:
		return "", "", fmt.Errorf("unrecognized Azure path scheme %q in %q", u.Scheme, path)
	}

	if container == "" {
		return "", "", fmt.Errorf("empty container in Azure path %q", path)
	}
	if key == "" {
		return "", "", fmt.Errorf("empty blob name in Azure path %q", path)
	}
	return container, key, nil
}
