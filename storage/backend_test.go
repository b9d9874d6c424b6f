package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/ruteri/treasury-vault/interfaces"
	"github.com/ruteri/treasury-vault/sqlitedb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runBackendContract exercises the behaviour every record backend must share.
func runBackendContract(t *testing.T, backend interfaces.RecordBackend) {
	ctx := context.Background()

	assert.True(t, backend.Available(ctx))
	assert.NotEmpty(t, backend.Name())
	assert.NotEmpty(t, backend.LocationURI())

	_, err := backend.Fetch(ctx, "operationsReserve")
	assert.ErrorIs(t, err, interfaces.ErrCredentialNotFound)

	accounts, err := backend.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, accounts)

	require.NoError(t, backend.Store(ctx, "operationsReserve", []byte("v1")))
	require.NoError(t, backend.Store(ctx, "marketing", []byte("m1")))

	data, err := backend.Fetch(ctx, "operationsReserve")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), data)

	// Replace keeps one record per account.
	require.NoError(t, backend.Store(ctx, "operationsReserve", []byte("v2")))
	data, err = backend.Fetch(ctx, "operationsReserve")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)

	accounts, err = backend.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []interfaces.AccountID{"marketing", "operationsReserve"}, accounts)

	err = backend.Store(ctx, "../escape", []byte("x"))
	assert.ErrorIs(t, err, interfaces.ErrInvalidRequest)
}

func TestFileBackend(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "vaults")
	backend, err := NewFileBackend(dir, discardLogger())
	require.NoError(t, err)

	runBackendContract(t, backend)

	info, err := os.Stat(filepath.Join(dir, "marketing.vault"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	dirInfo, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())

	// Stray files are ignored by List.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	accounts, err := backend.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, accounts, 2)
}

func TestMemoryBackend(t *testing.T) {
	runBackendContract(t, NewMemoryBackend("test"))
}

func TestSQLiteBackend(t *testing.T) {
	db, err := sqlitedb.OpenInMemory(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	runBackendContract(t, NewSQLiteBackend(db, discardLogger()))
}

// fakeS3 is an in-memory S3API implementing the calls the backend makes.
type fakeS3 struct {
	s3iface.S3API

	mu      sync.Mutex
	objects map[string][]byte
	puts    []*s3.PutObjectInput
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "missing", nil)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.StringValue(in.Key)] = data
	f.puts = append(f.puts, in)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2PagesWithContext(_ aws.Context, in *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool, _ ...request.Option) error {
	f.mu.Lock()
	var contents []*s3.Object
	for key := range f.objects {
		if strings.HasPrefix(key, aws.StringValue(in.Prefix)) {
			contents = append(contents, &s3.Object{Key: aws.String(key)})
		}
	}
	f.mu.Unlock()
	fn(&s3.ListObjectsV2Output{Contents: contents}, true)
	return nil
}

func (f *fakeS3) HeadBucketWithContext(aws.Context, *s3.HeadBucketInput, ...request.Option) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func TestS3Backend(t *testing.T) {
	client := newFakeS3()
	backend := NewS3BackendWithClient(client, "treasury", "/prod/", "s3://treasury/prod", discardLogger())

	runBackendContract(t, backend)

	_, ok := client.objects["prod/marketing.vault"]
	assert.True(t, ok)
	for _, put := range client.puts {
		assert.Equal(t, s3.ObjectCannedACLPrivate, aws.StringValue(put.ACL))
		assert.Equal(t, s3.ServerSideEncryptionAes256, aws.StringValue(put.ServerSideEncryption))
	}
}

func TestStorageBackendFactory(t *testing.T) {
	db, err := sqlitedb.OpenInMemory(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	factory := NewStorageBackendFactory(discardLogger(), db)
	dir := t.TempDir()

	t.Run("file", func(t *testing.T) {
		backend, err := factory.StorageBackendFor("file://" + dir)
		require.NoError(t, err)
		assert.IsType(t, &FileBackend{}, backend)
		assert.Equal(t, "file://"+dir, backend.LocationURI())
	})

	t.Run("sqlite reuses shared database", func(t *testing.T) {
		backend, err := factory.StorageBackendFor("sqlite://")
		require.NoError(t, err)
		assert.IsType(t, &SQLiteBackend{}, backend)
	})

	t.Run("memory", func(t *testing.T) {
		backend, err := factory.StorageBackendFor("memory://scratch")
		require.NoError(t, err)
		assert.Equal(t, "memory://scratch", backend.LocationURI())
	})

	t.Run("multi", func(t *testing.T) {
		backend, err := factory.StorageBackendFor("memory://a, memory://b")
		require.NoError(t, err)
		multi, ok := backend.(*MultiStorageBackend)
		require.True(t, ok)
		assert.Len(t, multi.backends, 2)
	})

	t.Run("errors", func(t *testing.T) {
		for _, uri := range []string{
			"ftp://host/path",
			"vault://host:8200/onlymount",
			"s3:///prefix",
			"memory://a,ipfs://x",
			"",
		} {
			_, err := factory.StorageBackendFor(uri)
			assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI, uri)
		}
	})
}
