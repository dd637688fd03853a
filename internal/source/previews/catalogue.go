// Package previews lists preview clips from an S3 bucket and keeps the
// engine's preview set in step with it.
package previews

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/gyaneshwarpardhi/camreview/internal/config"
	"github.com/gyaneshwarpardhi/camreview/internal/event"
)

// ErrBadKey is returned for object keys that do not follow
// <camera>/<start>-<end>.<ext>.
var ErrBadKey = errors.New("preview key must look like <camera>/<start>-<end>.<ext>")

// Catalogue lists clips under one bucket prefix.
type Catalogue struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewCatalogue connects to the bucket described by conf.
func NewCatalogue(conf config.PreviewsConf) (*Catalogue, error) {
	client, err := minio.New(conf.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(conf.AccessKey, conf.SecretKey, ""),
		Secure: conf.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return &Catalogue{client: client, bucket: conf.Bucket, prefix: conf.Prefix}, nil
}

// List returns every clip in the bucket. Objects with unparseable keys are
// skipped and logged.
func (c *Catalogue) List(ctx context.Context) ([]event.Preview, error) {
	objectCh := c.client.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{
		Prefix:    c.prefix,
		Recursive: true,
	})

	var out []event.Preview
	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("error listing objects: %w", object.Err)
		}
		if strings.HasSuffix(object.Key, "/") {
			continue
		}
		p, err := ParseKey(c.prefix, object.Key)
		if err != nil {
			slog.Debug("skipping preview object", "key", object.Key, "err", err)
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// ParseKey turns an object key into a Preview. prefix is stripped before
// parsing; Src keeps the full key.
func ParseKey(prefix, key string) (event.Preview, error) {
	rel := strings.TrimPrefix(strings.TrimPrefix(key, prefix), "/")
	camera, file := path.Split(rel)
	camera = strings.TrimSuffix(camera, "/")
	if camera == "" || strings.Contains(camera, "/") || file == "" {
		return event.Preview{}, fmt.Errorf("%q: %w", key, ErrBadKey)
	}

	ext := path.Ext(file)
	span := strings.TrimSuffix(file, ext)
	startStr, endStr, ok := strings.Cut(span, "-")
	if !ok || ext == "" {
		return event.Preview{}, fmt.Errorf("%q: %w", key, ErrBadKey)
	}
	start, err := strconv.ParseFloat(startStr, 64)
	if err != nil {
		return event.Preview{}, fmt.Errorf("%q start: %w", key, ErrBadKey)
	}
	end, err := strconv.ParseFloat(endStr, 64)
	if err != nil {
		return event.Preview{}, fmt.Errorf("%q end: %w", key, ErrBadKey)
	}

	p := event.Preview{
		Camera: camera,
		Src:    key,
		Type:   mimeType(ext),
		Start:  start,
		End:    end,
	}
	if err := p.Validate(); err != nil {
		return event.Preview{}, err
	}
	return p, nil
}

func mimeType(ext string) string {
	switch strings.ToLower(ext) {
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// Lister is the clip source a Refresher polls.
type Lister interface {
	List(ctx context.Context) ([]event.Preview, error)
}

// Target receives refreshed clip sets. A new listing replaces the previous
// one only; clips the target learned elsewhere stay.
type Target interface {
	SetCatalogue(previews []event.Preview)
}

// Refresher periodically replaces the target's catalogue with a fresh listing.
type Refresher struct {
	lister   Lister
	target   Target
	interval time.Duration
	onList   func(ctx context.Context, previews []event.Preview)
}

// NewRefresher polls lister every interval. onList, if set, observes each
// successful listing (e.g. to archive it).
func NewRefresher(lister Lister, target Target, interval time.Duration, onList func(context.Context, []event.Preview)) *Refresher {
	return &Refresher{lister: lister, target: target, interval: interval, onList: onList}
}

// Refresh performs one listing.
func (r *Refresher) Refresh(ctx context.Context) error {
	ps, err := r.lister.List(ctx)
	if err != nil {
		return err
	}
	r.target.SetCatalogue(ps)
	if r.onList != nil {
		r.onList(ctx, ps)
	}
	slog.Debug("preview catalogue refreshed", "clips", len(ps))
	return nil
}

// Run refreshes immediately and then on every tick until ctx is done.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
			slog.Error("preview refresh failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
