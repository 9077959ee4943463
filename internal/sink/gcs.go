package sink

import (
	"context"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"github.com/cockroachdb/errors"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStore maps containers to Cloud Storage buckets in one project.
type GCSStore struct {
	client    *storage.Client
	projectID string
	location  string
}

// NewGCSStore uses application default credentials. Extra client options
// (an emulator endpoint, say) are passed through.
func NewGCSStore(ctx context.Context, projectID, location string, opts ...option.ClientOption) (*GCSStore, error) {
	if projectID == "" {
		return nil, errors.New("gcs: project id is required")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create gcs client")
	}
	return &GCSStore{client: client, projectID: projectID, location: location}, nil
}

func (g *GCSStore) Close() error {
	return g.client.Close()
}

func (g *GCSStore) ListContainers(ctx context.Context) ([]string, error) {
	var names []string
	it := g.client.Buckets(ctx, g.projectID)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			return names, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "list buckets")
		}
		names = append(names, attrs.Name)
	}
}

func (g *GCSStore) CreateContainer(ctx context.Context, name string) error {
	var attrs *storage.BucketAttrs
	if g.location != "" {
		attrs = &storage.BucketAttrs{Location: g.location}
	}
	err := g.client.Bucket(name).Create(ctx, g.projectID, attrs)
	if err != nil && !isConflict(err) {
		return errors.Wrapf(err, "create bucket %s", name)
	}
	return nil
}

func (g *GCSStore) PutObject(ctx context.Context, container, key string, body []byte) error {
	w := g.client.Bucket(container).Object(key).NewWriter(ctx)
	w.ContentType = "text/csv"
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return errors.Wrapf(err, "write gcs object %s/%s", container, key)
	}
	if err := w.Close(); err != nil {
		return errors.Wrapf(err, "finalize gcs object %s/%s", container, key)
	}
	return nil
}

func (g *GCSStore) GetObject(ctx context.Context, container, key string) ([]byte, error) {
	r, err := g.client.Bucket(container).Object(key).NewReader(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "open gcs object %s/%s", container, key)
	}
	defer r.Close()
	return io.ReadAll(r)
}

// isConflict reports a 409, which bucket creation returns when the bucket
// already exists.
func isConflict(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusConflict
}
