package backup

import (
	"context"
	"errors"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Evasc0/BTS-PIMS/internal/config"
)

type fakeSource struct {
	dests []string
	err   error
}

func (f *fakeSource) Snapshot(ctx context.Context, dest string) error {
	if f.err != nil {
		return f.err
	}
	f.dests = append(f.dests, dest)
	return os.WriteFile(dest, []byte("db"), 0o644)
}

type fakeUploader struct {
	uploaded []string
	err      error
}

func (f *fakeUploader) Upload(ctx context.Context, filePath string) error {
	if f.err != nil {
		return f.err
	}
	f.uploaded = append(f.uploaded, filePath)
	return nil
}

func (f *fakeUploader) PresignedURL(ctx context.Context) (string, time.Time, error) {
	return "", time.Time{}, ErrNotConfigured
}

func TestWorker_RunOnce(t *testing.T) {
	source := &fakeSource{}
	uploader := &fakeUploader{}
	w := NewWorker(source, uploader, t.TempDir(), time.Hour)
	w.now = func() time.Time { return time.Date(2026, 3, 2, 8, 15, 0, 0, time.UTC) }

	dest, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(dest, "pims-20260302-081500.db") {
		t.Errorf("unexpected snapshot name %q", dest)
	}
	if len(source.dests) != 1 || source.dests[0] != dest {
		t.Errorf("source not asked for %q: %v", dest, source.dests)
	}
	if len(uploader.uploaded) != 1 || uploader.uploaded[0] != dest {
		t.Errorf("snapshot not uploaded: %v", uploader.uploaded)
	}
}

func TestWorker_RunOnce_SnapshotError(t *testing.T) {
	source := &fakeSource{err: errors.New("disk full")}
	uploader := &fakeUploader{}
	w := NewWorker(source, uploader, t.TempDir(), time.Hour)

	if _, err := w.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(uploader.uploaded) != 0 {
		t.Error("failed snapshot must not upload")
	}
}

func TestWorker_NilUploaderIsLocalOnly(t *testing.T) {
	source := &fakeSource{}
	w := NewWorker(source, nil, t.TempDir(), time.Hour)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	source := &fakeSource{}
	w := NewWorker(source, &fakeUploader{}, t.TempDir(), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancellation")
	}
	if len(source.dests) == 0 {
		t.Error("expected at least the startup snapshot")
	}
}

func TestNewUploader_EmptyBucketIsNoop(t *testing.T) {
	u, err := NewUploader(config.BackupStorageConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := u.(*NoopUploader); !ok {
		t.Fatalf("expected NoopUploader, got %T", u)
	}
	if err := u.Upload(context.Background(), "/tmp/whatever.db"); err != nil {
		t.Errorf("noop upload errored: %v", err)
	}
	if _, _, err := u.PresignedURL(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

type fakeS3 struct {
	puts []string
}

func (f *fakeS3) FPutObject(ctx context.Context, bucket, objectName, filePath string) error {
	f.puts = append(f.puts, objectName)
	return nil
}

func (f *fakeS3) PresignedGetObject(ctx context.Context, bucket, objectName string, expiry time.Duration) (*url.URL, error) {
	return url.Parse("https://s3.example.com/" + bucket + "/" + objectName)
}

func TestS3Uploader_UploadRefreshesLatest(t *testing.T) {
	client := &fakeS3{}
	u := &S3Uploader{client: client, bucket: "pims-backups", urlExpiry: time.Minute}

	if err := u.Upload(context.Background(), "/backups/pims-20260302-081500.db"); err != nil {
		t.Fatal(err)
	}
	if len(client.puts) != 2 {
		t.Fatalf("expected timestamped + latest keys, got %v", client.puts)
	}
	if client.puts[0] != "snapshots/pims-20260302-081500.db" || client.puts[1] != latestKey {
		t.Errorf("unexpected keys %v", client.puts)
	}

	got, _, err := u.PresignedURL(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, latestKey) {
		t.Errorf("presigned URL should target latest key, got %q", got)
	}
}
