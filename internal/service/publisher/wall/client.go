package wall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/ifuryst/reposter/internal/config"
)

type MediaKind string

const (
	MediaPhoto MediaKind = "photo"
	MediaVideo MediaKind = "video"
)

// UploadTarget is what the platform hands out before a binary upload.
type UploadTarget struct {
	Kind      MediaKind `json:"kind"`
	UploadURL string    `json:"upload_url"`
	OwnerID   int64     `json:"owner_id,omitempty"`
	VideoID   int64     `json:"video_id,omitempty"`
}

type UploadReceipt struct {
	Server  int    `json:"server"`
	Photo   string `json:"photo"`
	Hash    string `json:"hash"`
	VideoID int64  `json:"video_id"`
	Size    int64  `json:"size"`
	Error   string `json:"error"`
}

type PostRequest struct {
	OwnerID     string
	Message     string
	Attachments []string
	FromGroup   bool
	MarkAsAds   bool
	Carousel    bool
	PublishAt   *time.Time
}

type PostResult struct {
	PostID int64  `json:"post_id"`
	URL    string `json:"url"`
}

type envelope struct {
	Response json.RawMessage `json:"response"`
	Error    *struct {
		Code    int    `json:"error_code"`
		Message string `json:"error_msg"`
	} `json:"error"`
}

// Client talks to a "social wall" style API: form-encoded method calls that
// answer with {"response": ...} or {"error": {...}}.
type Client struct {
	logger        *zap.Logger
	api           *resty.Client
	upload        *resty.Client
	media         *resty.Client
	baseURL       string
	version       string
	postURLFormat string
}

func NewClient(cfg *config.WallConfig, logger *zap.Logger) *Client {
	postURLFormat := cfg.PostURLFormat
	if postURLFormat == "" {
		postURLFormat = "https://vk.com/wall%s_%d"
	}

	// Binary uploads carry no timeout; a video upload takes as long as it takes.
	return &Client{
		logger:        logger,
		api:           resty.New().SetTimeout(cfg.RequestTimeout),
		upload:        resty.New(),
		media:         resty.New().SetTimeout(cfg.DownloadTimeout),
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		version:       cfg.APIVersion,
		postURLFormat: postURLFormat,
	}
}

// Ref formats a native attachment reference such as "photo-1_42".
func Ref(kind string, ownerID, mediaID int64) string {
	return fmt.Sprintf("%s%d_%d", kind, ownerID, mediaID)
}

func (c *Client) PostURL(ownerID string, postID int64) string {
	return fmt.Sprintf(c.postURLFormat, ownerID, postID)
}

func (c *Client) NegotiateUpload(ctx context.Context, token string, kind MediaKind, destination string) (*UploadTarget, error) {
	groupID := groupIDOf(destination)

	switch kind {
	case MediaPhoto:
		var out struct {
			UploadURL string `json:"upload_url"`
		}
		if err := c.call(ctx, token, "photos.getWallUploadServer", map[string]string{
			"group_id": groupID,
		}, &out); err != nil {
			return nil, err
		}
		return &UploadTarget{Kind: kind, UploadURL: out.UploadURL}, nil

	case MediaVideo:
		var out struct {
			UploadURL string `json:"upload_url"`
			VideoID   int64  `json:"video_id"`
			OwnerID   int64  `json:"owner_id"`
		}
		if err := c.call(ctx, token, "video.save", map[string]string{
			"group_id": groupID,
			"wallpost": "0",
		}, &out); err != nil {
			return nil, err
		}
		return &UploadTarget{Kind: kind, UploadURL: out.UploadURL, OwnerID: out.OwnerID, VideoID: out.VideoID}, nil
	}

	return nil, fmt.Errorf("unsupported media kind %q", kind)
}

func (c *Client) UploadBinary(ctx context.Context, target *UploadTarget, filename string, data []byte) (*UploadReceipt, error) {
	field := "photo"
	if target.Kind == MediaVideo {
		field = "video_file"
	}

	resp, err := c.upload.R().
		SetContext(ctx).
		SetFileReader(field, filename, bytes.NewReader(data)).
		Post(target.UploadURL)
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", target.Kind, err)
	}
	if resp.IsError() {
		return nil, &APIError{HTTPStatus: resp.StatusCode(), Message: strings.TrimSpace(resp.String())}
	}

	var receipt UploadReceipt
	if err := json.Unmarshal(resp.Body(), &receipt); err != nil {
		return nil, fmt.Errorf("failed to parse upload response: %w", err)
	}
	if receipt.Error != "" {
		return nil, &APIError{Message: receipt.Error}
	}
	if target.Kind == MediaPhoto && receipt.Photo == "" {
		return nil, &APIError{Message: "upload server returned no photo"}
	}

	return &receipt, nil
}

func (c *Client) SaveAttachment(ctx context.Context, token string, kind MediaKind, destination string, target *UploadTarget, receipt *UploadReceipt) (string, error) {
	switch kind {
	case MediaPhoto:
		var saved []struct {
			ID      int64 `json:"id"`
			OwnerID int64 `json:"owner_id"`
		}
		if err := c.call(ctx, token, "photos.saveWallPhoto", map[string]string{
			"group_id": groupIDOf(destination),
			"server":   strconv.Itoa(receipt.Server),
			"photo":    receipt.Photo,
			"hash":     receipt.Hash,
		}, &saved); err != nil {
			return "", err
		}
		if len(saved) == 0 {
			return "", &APIError{Message: "photos.saveWallPhoto returned nothing"}
		}
		return Ref("photo", saved[0].OwnerID, saved[0].ID), nil

	case MediaVideo:
		// video.save already registered the video; the upload only fills it.
		videoID := target.VideoID
		if videoID == 0 {
			videoID = receipt.VideoID
		}
		if videoID == 0 {
			return "", &APIError{Message: "video upload returned no video id"}
		}
		return Ref("video", target.OwnerID, videoID), nil
	}

	return "", fmt.Errorf("unsupported media kind %q", kind)
}

func (c *Client) CreatePost(ctx context.Context, token string, req PostRequest) (*PostResult, error) {
	params := map[string]string{
		"owner_id":   req.OwnerID,
		"message":    req.Message,
		"from_group": boolParam(req.FromGroup),
	}
	if len(req.Attachments) > 0 {
		params["attachments"] = strings.Join(req.Attachments, ",")
	}
	if req.MarkAsAds {
		params["mark_as_ads"] = "1"
	}
	if req.Carousel {
		params["primary_attachments_mode"] = "carousel"
	}
	if req.PublishAt != nil {
		params["publish_date"] = strconv.FormatInt(req.PublishAt.Unix(), 10)
	}

	var out PostResult
	if err := c.call(ctx, token, "wall.post", params, &out); err != nil {
		return nil, err
	}
	out.URL = c.PostURL(req.OwnerID, out.PostID)
	return &out, nil
}

func (c *Client) PinPost(ctx context.Context, token, ownerID string, postID int64) error {
	return c.call(ctx, token, "wall.pin", map[string]string{
		"owner_id": ownerID,
		"post_id":  strconv.FormatInt(postID, 10),
	}, nil)
}

func (c *Client) DeletePost(ctx context.Context, token, ownerID string, postID int64) error {
	return c.call(ctx, token, "wall.delete", map[string]string{
		"owner_id": ownerID,
		"post_id":  strconv.FormatInt(postID, 10),
	}, nil)
}

// Download fetches media bytes with the configured download timeout.
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.media.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", url, err)
	}
	if resp.IsError() {
		return nil, &APIError{HTTPStatus: resp.StatusCode(), Message: "download " + url + ": " + resp.Status()}
	}
	return resp.Body(), nil
}

func (c *Client) call(ctx context.Context, token, method string, params map[string]string, out interface{}) error {
	form := make(map[string]string, len(params)+2)
	for k, v := range params {
		form[k] = v
	}
	form["access_token"] = token
	form["v"] = c.version

	resp, err := c.api.R().
		SetContext(ctx).
		SetFormData(form).
		Post(c.baseURL + "/" + method)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", method, err)
	}
	if resp.IsError() {
		return &APIError{HTTPStatus: resp.StatusCode(), Message: method + ": " + resp.Status()}
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", method, err)
	}
	if env.Error != nil {
		c.logger.Debug("Wall API returned error",
			zap.String("method", method),
			zap.Int("code", env.Error.Code),
			zap.String("message", env.Error.Message))
		return &APIError{Code: env.Error.Code, Message: env.Error.Message}
	}

	if out == nil || len(env.Response) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Response, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	return nil
}

func groupIDOf(destination string) string {
	return strings.TrimPrefix(destination, "-")
}

func boolParam(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
