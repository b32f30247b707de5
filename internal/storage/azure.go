package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// AzureStore writes document payloads as block blobs in a single container.
type AzureStore struct {
	client    *azblob.Client
	container string
}

var _ ObjectStore = (*AzureStore)(nil)

// NewAzureStore creates a client from a storage account connection string.
func NewAzureStore(connectionString, container string) (*AzureStore, error) {
	if connectionString == "" {
		return nil, errors.New("azure connection string is required")
	}
	if container == "" {
		return nil, errors.New("azure container name is required")
	}
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("create azure blob client: %w", err)
	}
	return &AzureStore{client: client, container: container}, nil
}

func (s *AzureStore) EnsureReady(ctx context.Context) error {
	_, err := s.client.CreateContainer(ctx, s.container, nil)
	if err == nil || bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return nil
	}
	return fmt.Errorf("%w: create container %s: %w", ErrStorageUnavailable, s.container, err)
}

func (s *AzureStore) Put(ctx context.Context, docID string, data []byte, meta Metadata) (string, error) {
	if err := validateKey(docID); err != nil {
		return "", err
	}
	contentType := meta.contentType()
	// UploadBuffer replaces an existing blob with the same name.
	_, err := s.client.UploadBuffer(ctx, s.container, docID, data, &azblob.UploadBufferOptions{
		Metadata: azureMetadata(meta),
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: &contentType,
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: upload blob %s: %w", ErrUploadFailed, docID, err)
	}
	return s.client.ServiceClient().NewContainerClient(s.container).NewBlobClient(docID).URL(), nil
}

func (s *AzureStore) Close() error { return nil }

func azureMetadata(meta Metadata) map[string]*string {
	m := meta.Map()
	out := make(map[string]*string, len(m))
	for k, v := range m {
		out[k] = &v
	}
	return out
}
