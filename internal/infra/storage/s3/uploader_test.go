package s3

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestObjectKey(t *testing.T) {
	s := &ImageStore{newKey: func() string { return "k1" }}
	key, err := s.objectKey("c1", "image/PNG")
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	if key != "conversations/c1/k1.png" {
		t.Fatalf("unexpected key %q", key)
	}
	if _, err := s.objectKey("c1", "application/pdf"); !errors.Is(err, ErrUnsupportedImage) {
		t.Fatalf("expected unsupported image, got %v", err)
	}
	for _, bad := range []string{"", " / ", "a/b"} {
		if _, err := s.objectKey(bad, "image/png"); !errors.Is(err, ErrConversationMissing) {
			t.Fatalf("%q: expected missing conversation, got %v", bad, err)
		}
	}
}

func TestNewImageStoreBuildsPublicURL(t *testing.T) {
	s, err := NewImageStore("http://minio:9000", false, "key", "secret", "chat", "https://cdn.example.com/", nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := s.objectURL("conversations/c1/k1.png"); got != "https://cdn.example.com/chat/conversations/c1/k1.png" {
		t.Fatalf("unexpected url %q", got)
	}
	if _, err := NewImageStore(" ", false, "", "", "chat", "", nil); err == nil {
		t.Fatal("expected endpoint error")
	}
}

func TestUnconfiguredStoreFailsFast(t *testing.T) {
	var s *ImageStore
	if _, err := s.UploadImage(context.Background(), "c1", strings.NewReader("x"), 1, "image/png"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
