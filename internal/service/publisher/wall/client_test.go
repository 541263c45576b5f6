package wall

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ifuryst/reposter/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(&config.WallConfig{
		BaseURL:         srv.URL + "/method/",
		APIVersion:      "5.199",
		RequestTimeout:  5 * time.Second,
		DownloadTimeout: 5 * time.Second,
	}, zap.NewNop())
	return c, srv
}

func TestCreatePostSendsParams(t *testing.T) {
	var got map[string][]string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/method/wall.post", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		got = r.PostForm
		fmt.Fprint(w, `{"response":{"post_id":77}}`)
	})

	publishAt := time.Unix(1700000000, 0)
	res, err := c.CreatePost(context.Background(), "tok", PostRequest{
		OwnerID:     "-42",
		Message:     "hello",
		Attachments: []string{"photo-42_1", "video-42_2"},
		FromGroup:   true,
		MarkAsAds:   true,
		Carousel:    true,
		PublishAt:   &publishAt,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(77), res.PostID)
	assert.Equal(t, "https://vk.com/wall-42_77", res.URL)
	assert.Equal(t, []string{"tok"}, got["access_token"])
	assert.Equal(t, []string{"5.199"}, got["v"])
	assert.Equal(t, []string{"-42"}, got["owner_id"])
	assert.Equal(t, []string{"1"}, got["from_group"])
	assert.Equal(t, []string{"photo-42_1,video-42_2"}, got["attachments"])
	assert.Equal(t, []string{"1"}, got["mark_as_ads"])
	assert.Equal(t, []string{"carousel"}, got["primary_attachments_mode"])
	assert.Equal(t, []string{"1700000000"}, got["publish_date"])
}

func TestCreatePostOmitsUnsetFlags(t *testing.T) {
	var got map[string][]string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		got = r.PostForm
		fmt.Fprint(w, `{"response":{"post_id":1}}`)
	})

	_, err := c.CreatePost(context.Background(), "tok", PostRequest{OwnerID: "-1", Message: "x"})
	require.NoError(t, err)

	assert.Equal(t, []string{"0"}, got["from_group"])
	assert.NotContains(t, got, "attachments")
	assert.NotContains(t, got, "mark_as_ads")
	assert.NotContains(t, got, "primary_attachments_mode")
	assert.NotContains(t, got, "publish_date")
}

func TestCallReturnsAPIError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":{"error_code":15,"error_msg":"Access denied: no access to call this method"}}`)
	})

	err := c.PinPost(context.Background(), "tok", "-1", 5)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 15, apiErr.Code)
	assert.Equal(t, KindPermission, apiErr.Kind())
	assert.True(t, IsPermission(err))
}

func TestCallHTTPStatusIsClassified(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	err := c.DeletePost(context.Background(), "tok", "-1", 5)
	require.Error(t, err)
	assert.Equal(t, KindServer, KindOf(err))
	assert.True(t, IsTransient(err))
}

func TestPhotoUploadFlow(t *testing.T) {
	var srvURL string
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/method/photos.getWallUploadServer":
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "42", r.PostForm.Get("group_id"))
			fmt.Fprintf(w, `{"response":{"upload_url":%q}}`, srvURL+"/upload")
		case "/upload":
			file, header, err := r.FormFile("photo")
			if !assert.NoError(t, err) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			body, _ := io.ReadAll(file)
			assert.Equal(t, "a.jpg", header.Filename)
			assert.Equal(t, "binary", string(body))
			fmt.Fprint(w, `{"server":9,"photo":"[{}]","hash":"h"}`)
		case "/method/photos.saveWallPhoto":
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "9", r.PostForm.Get("server"))
			assert.Equal(t, "h", r.PostForm.Get("hash"))
			fmt.Fprint(w, `{"response":[{"id":555,"owner_id":-42}]}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
	srvURL = srv.URL

	ctx := context.Background()
	target, err := c.NegotiateUpload(ctx, "tok", MediaPhoto, "-42")
	require.NoError(t, err)

	receipt, err := c.UploadBinary(ctx, target, "a.jpg", []byte("binary"))
	require.NoError(t, err)

	ref, err := c.SaveAttachment(ctx, "tok", MediaPhoto, "-42", target, receipt)
	require.NoError(t, err)
	assert.Equal(t, "photo-42_555", ref)
}

func TestUploadBinaryErrorReceipt(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":"Too many requests per second"}`)
	})

	_, err := c.UploadBinary(context.Background(), &UploadTarget{Kind: MediaPhoto, UploadURL: srv.URL}, "a.jpg", []byte("x"))
	require.Error(t, err)
	assert.Equal(t, KindRateLimit, KindOf(err))
}

func TestVideoSaveUsesNegotiatedID(t *testing.T) {
	c, _ := newTestClient(t, nil)

	ref, err := c.SaveAttachment(context.Background(), "tok", MediaVideo, "-42",
		&UploadTarget{Kind: MediaVideo, OwnerID: -42, VideoID: 9001}, &UploadReceipt{})
	require.NoError(t, err)
	assert.Equal(t, "video-42_9001", ref)
}

func TestDownload(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, "image-bytes")
	})

	data, err := c.Download(context.Background(), srv.URL+"/ok.jpg")
	require.NoError(t, err)
	assert.Equal(t, "image-bytes", string(data))

	_, err = c.Download(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		name string
		err  *APIError
		want ErrorKind
	}{
		{name: "rate limit code", err: &APIError{Code: 6, Message: "Too many requests per second"}, want: KindRateLimit},
		{name: "flood code", err: &APIError{Code: 9}, want: KindRateLimit},
		{name: "server code", err: &APIError{Code: 10}, want: KindServer},
		{name: "permission code", err: &APIError{Code: 27}, want: KindPermission},
		{name: "code wins over text", err: &APIError{Code: 100, Message: "rate limit"}, want: KindOther},
		{name: "http 429", err: &APIError{HTTPStatus: 429}, want: KindRateLimit},
		{name: "http 503", err: &APIError{HTTPStatus: 503}, want: KindServer},
		{name: "http 403", err: &APIError{HTTPStatus: 403}, want: KindPermission},
		{name: "text fallback", err: &APIError{Message: "Flood control: too much"}, want: KindRateLimit},
		{name: "unknown", err: &APIError{Message: "bad photo"}, want: KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Kind())
		})
	}

	wrapped := fmt.Errorf("failed to upload: %w", &APIError{Code: 29})
	assert.True(t, IsTransient(wrapped))
	assert.Equal(t, KindOther, KindOf(errors.New("plain")))
	assert.Equal(t, "rate_limit", KindRateLimit.String())
}
