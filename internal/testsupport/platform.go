package testsupport

import (
	"context"
	"fmt"
	"sync"

	"github.com/ifuryst/reposter/internal/service/publisher/wall"
)

// FakePlatform is an in-memory wall API. Error slices are consumed one per
// call; once empty the call succeeds.
type FakePlatform struct {
	mu sync.Mutex

	UploadErrors   []error
	PostErrors     []error
	VideoErr       error
	PinErr         error
	DownloadErrors map[string]error

	Posts   []wall.PostRequest
	Pinned  []int64
	Deleted []int64
	Uploads int

	nextID int64
}

func NewFakePlatform() *FakePlatform {
	return &FakePlatform{DownloadErrors: map[string]error{}}
}

func (f *FakePlatform) NegotiateUpload(ctx context.Context, token string, kind wall.MediaKind, destination string) (*wall.UploadTarget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if kind == wall.MediaVideo {
		if f.VideoErr != nil {
			return nil, f.VideoErr
		}
		f.nextID++
		return &wall.UploadTarget{Kind: kind, UploadURL: "fake://upload", OwnerID: -1, VideoID: 9000 + f.nextID}, nil
	}
	return &wall.UploadTarget{Kind: kind, UploadURL: "fake://upload"}, nil
}

func (f *FakePlatform) UploadBinary(ctx context.Context, target *wall.UploadTarget, filename string, data []byte) (*wall.UploadReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Uploads++
	if len(f.UploadErrors) > 0 {
		err := f.UploadErrors[0]
		f.UploadErrors = f.UploadErrors[1:]
		return nil, err
	}
	f.nextID++
	return &wall.UploadReceipt{Server: 1, Photo: fmt.Sprint(f.nextID), Hash: "h"}, nil
}

func (f *FakePlatform) SaveAttachment(ctx context.Context, token string, kind wall.MediaKind, destination string, target *wall.UploadTarget, receipt *wall.UploadReceipt) (string, error) {
	if kind == wall.MediaVideo {
		return wall.Ref("video", target.OwnerID, target.VideoID), nil
	}
	return "photo-1_" + receipt.Photo, nil
}

func (f *FakePlatform) Download(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.DownloadErrors[url]; err != nil {
		return nil, err
	}
	return []byte("bytes:" + url), nil
}

func (f *FakePlatform) CreatePost(ctx context.Context, token string, req wall.PostRequest) (*wall.PostResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.PostErrors) > 0 {
		err := f.PostErrors[0]
		f.PostErrors = f.PostErrors[1:]
		return nil, err
	}
	f.Posts = append(f.Posts, req)
	postID := int64(len(f.Posts))
	return &wall.PostResult{PostID: postID, URL: fmt.Sprintf("https://wall.example/%s_%d", req.OwnerID, postID)}, nil
}

func (f *FakePlatform) PinPost(ctx context.Context, token, ownerID string, postID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PinErr != nil {
		return f.PinErr
	}
	f.Pinned = append(f.Pinned, postID)
	return nil
}

func (f *FakePlatform) DeletePost(ctx context.Context, token, ownerID string, postID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Deleted = append(f.Deleted, postID)
	return nil
}

func (f *FakePlatform) PostCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Posts)
}

func (f *FakePlatform) LastPost() wall.PostRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Posts) == 0 {
		return wall.PostRequest{}
	}
	return f.Posts[len(f.Posts)-1]
}

func (f *FakePlatform) UploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Uploads
}
