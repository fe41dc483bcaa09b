package supabase

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	storage "github.com/supabase-community/storage-go"
)

// Bucket is a storage bucket as listed by the project.
type Bucket struct {
	ID               string
	Name             string
	Public           bool
	FileSizeLimit    *int64
	AllowedMimeTypes []string
}

func bucketFrom(b storage.Bucket) Bucket {
	return Bucket{
		ID:               b.Id,
		Name:             b.Name,
		Public:           b.Public,
		FileSizeLimit:    b.FileSizeLimit,
		AllowedMimeTypes: b.AllowedMimeTypes,
	}
}

// BucketSpec describes a bucket to create.
type BucketSpec struct {
	Name             string
	Public           bool
	FileSizeLimit    int64
	AllowedMimeTypes []string
}

// Object is one entry of a bucket listing. Folders have no ID.
type Object struct {
	Name      string
	ID        string
	UpdatedAt time.Time
	Metadata  map[string]any
}

func objectFrom(f storage.FileObject) Object {
	o := Object{Name: f.Name, ID: f.Id}
	if t, err := time.Parse(time.RFC3339Nano, f.UpdatedAt); err == nil {
		o.UpdatedAt = t
	}
	if md, ok := f.Metadata.(map[string]any); ok {
		o.Metadata = md
	}
	return o
}

// Size is the object size from its metadata, or -1 for folders.
func (o Object) Size() int64 {
	switch v := o.Metadata["size"].(type) {
	case float64:
		return int64(v)
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			return n
		}
	}
	return -1
}

// ListBuckets lists every bucket of the project.
func (c *Client) ListBuckets(ctx context.Context) ([]Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, err := c.storage()
	if err != nil {
		return nil, err
	}
	bs, err := st.ListBuckets()
	if err != nil {
		return nil, fmt.Errorf("failed to list buckets: %w", err)
	}
	out := make([]Bucket, len(bs))
	for i, b := range bs {
		out[i] = bucketFrom(b)
	}
	return out, nil
}

// FindBucket returns the named bucket, or nil when there is none.
func (c *Client) FindBucket(ctx context.Context, name string) (*Bucket, error) {
	bs, err := c.ListBuckets(ctx)
	if err != nil {
		return nil, err
	}
	for i := range bs {
		if bs[i].Name == name || bs[i].ID == name {
			return &bs[i], nil
		}
	}
	return nil, nil
}

// CreateBucket creates a bucket. It fails if the bucket exists.
func (c *Client) CreateBucket(ctx context.Context, spec BucketSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st, err := c.storage()
	if err != nil {
		return err
	}
	opts := storage.BucketOptions{Public: spec.Public, AllowedMimeTypes: spec.AllowedMimeTypes}
	if spec.FileSizeLimit > 0 {
		opts.FileSizeLimit = strconv.FormatInt(spec.FileSizeLimit, 10)
	}
	if _, err := st.CreateBucket(spec.Name, opts); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", spec.Name, err)
	}
	return nil
}

// EnsureBucket creates the bucket unless it already exists. An existing
// bucket is left untouched even if its settings differ from spec.
func (c *Client) EnsureBucket(ctx context.Context, spec BucketSpec) (b *Bucket, created bool, err error) {
	b, err = c.FindBucket(ctx, spec.Name)
	if err != nil {
		return nil, false, err
	}
	if b != nil {
		return b, false, nil
	}
	if err := c.CreateBucket(ctx, spec); err != nil {
		return nil, false, err
	}
	b, err = c.FindBucket(ctx, spec.Name)
	if err != nil {
		return nil, true, err
	}
	if b == nil {
		return nil, true, fmt.Errorf("bucket %s was created but is not listed", spec.Name)
	}
	return b, true, nil
}

// ListObjects lists up to limit entries directly under prefix, sorted by name.
func (c *Client) ListObjects(ctx context.Context, bucket, prefix string, limit int) ([]Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	st, err := c.storage()
	if err != nil {
		return nil, err
	}
	files, err := st.ListFiles(bucket, prefix, storage.FileSearchOptions{
		Limit:         limit,
		SortByOptions: storage.SortBy{Column: "name", Order: "asc"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s/%s: %w", bucket, prefix, err)
	}
	out := make([]Object, len(files))
	for i, f := range files {
		out[i] = objectFrom(f)
	}
	return out, nil
}

// ObjectExists reports whether bucket/name is stored. It asks for a
// short-lived signed URL, which storage refuses for missing objects, so
// nothing is downloaded.
func (c *Client) ObjectExists(ctx context.Context, bucket, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	st, err := c.storage()
	if err != nil {
		return false, err
	}
	if _, err := st.CreateSignedUrl(bucket, cleanPath(name), 60); err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to look up %s/%s: %w", bucket, name, err)
	}
	return true, nil
}

// Upload stores data at bucket/name. With upsert an existing object is replaced.
func (c *Client) Upload(ctx context.Context, bucket, name, contentType string, data []byte, upsert bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st, err := c.storage()
	if err != nil {
		return err
	}
	_, err = st.UploadFile(bucket, cleanPath(name), bytes.NewReader(data), storage.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s/%s: %w", bucket, name, err)
	}
	return nil
}

// PublicURL is where a public bucket serves name.
func (c *Client) PublicURL(bucket, name string) string {
	st, err := c.storage()
	if err != nil {
		return c.baseURL + "/storage/v1/object/public/" + bucket + "/" + cleanPath(name)
	}
	return st.GetPublicUrl(bucket, cleanPath(name)).SignedURL
}

// Download returns the content of bucket/name.
func (c *Client) Download(ctx context.Context, bucket, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, err := c.storage()
	if err != nil {
		return nil, err
	}
	data, err := st.DownloadFile(bucket, cleanPath(name))
	if err != nil {
		return nil, fmt.Errorf("failed to download %s/%s: %w", bucket, name, err)
	}
	return data, nil
}

func cleanPath(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}
