// Package uploads owns attachment blobs: direct multipart intake with
// type denylist and sha256 dedup, the presigned two-step hand-off, the
// upload registry and signed GET URLs binding the owner id.
package uploads

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/veilchat/backend/go/internal/v1/metrics"
	"github.com/veilchat/backend/go/internal/v1/store"
)

var (
	ErrTooLarge        = errors.New("file too large")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrBadKey          = errors.New("invalid storage key")
)

// SVG and executables are rejected on both intake paths.
var deniedExtensions = map[string]struct{}{
	".svg": {}, ".exe": {}, ".dll": {}, ".bat": {}, ".cmd": {}, ".com": {},
	".sh": {}, ".ps1": {}, ".msi": {}, ".scr": {}, ".jar": {}, ".apk": {},
}

var deniedMIMEs = map[string]struct{}{
	"image/svg+xml":            {},
	"application/x-msdownload": {},
	"application/x-executable": {},
	"application/x-sh":         {},
	"application/x-dosexec":    {},
	"application/java-archive": {},
	"application/vnd.microsoft.portable-executable": {},
}

// Service is the upload registry plus blob driver front.
type Service struct {
	store   store.Store
	storage Storage
	signer  *Signer

	driver       string
	maxSizeBytes int64
	presignTTL   time.Duration
}

// NewService wires the upload paths.
func NewService(st store.Store, storage Storage, signer *Signer, driver string, maxSizeBytes int64, presignTTL time.Duration) *Service {
	return &Service{
		store:        st,
		storage:      storage,
		signer:       signer,
		driver:       driver,
		maxSizeBytes: maxSizeBytes,
		presignTTL:   presignTTL,
	}
}

// Signer exposes the URL signer for the message read path.
func (s *Service) Signer() *Signer { return s.signer }

func checkType(name, mimeType string) error {
	ext := strings.ToLower(filepath.Ext(name))
	if _, denied := deniedExtensions[ext]; denied {
		return ErrUnsupportedType
	}
	mt := strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0]))
	if _, denied := deniedMIMEs[mt]; denied {
		return ErrUnsupportedType
	}
	return nil
}

// newKey builds the canonical storage key. The owner id is the first path
// segment so retrieval ACLs can check ownership from the key alone.
func newKey(ownerID int64, name string) string {
	return fmt.Sprintf("%d/%s%s", ownerID, uuid.NewString(), strings.ToLower(filepath.Ext(name)))
}

// OwnerFromKey extracts the owner id encoded in a storage key.
func OwnerFromKey(key string) (int64, error) {
	seg, _, ok := strings.Cut(key, "/")
	if !ok {
		return 0, ErrBadKey
	}
	id, err := strconv.ParseInt(seg, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrBadKey
	}
	return id, nil
}

// Direct accepts a multipart file: size cap, type denylist, sha256 dedup
// per owner, blob write, registry row.
func (s *Service) Direct(ctx context.Context, ownerID int64, header *multipart.FileHeader) (*store.Upload, error) {
	if header.Size > s.maxSizeBytes {
		return nil, ErrTooLarge
	}
	if err := checkType(header.Filename, header.Header.Get("Content-Type")); err != nil {
		return nil, err
	}

	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Hash first for dedup, then rewind for the blob write.
	h := sha256.New()
	if _, err := io.Copy(h, io.LimitReader(f, s.maxSizeBytes+1)); err != nil {
		return nil, err
	}
	sum := hex.EncodeToString(h.Sum(nil))

	if existing, err := s.store.FindUploadBySHA(ctx, ownerID, sum); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	// The blob is local here, so fill audio duration while we can.
	mimeType := header.Header.Get("Content-Type")
	var durationSec *float64
	if strings.HasPrefix(mimeType, "audio/") {
		durationSec = probeAudioDuration(f, mimeType)
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
	}

	key := newKey(ownerID, header.Filename)
	if err := s.storage.Put(ctx, key, f); err != nil {
		return nil, fmt.Errorf("storing blob: %w", err)
	}

	upload := &store.Upload{
		OwnerID:      ownerID,
		Key:          key,
		SHA256:       sum,
		OriginalName: header.Filename,
		MimeType:     mimeType,
		Size:         header.Size,
		DurationSec:  durationSec,
		Driver:       s.driver,
	}
	if err := s.store.CreateUpload(ctx, upload); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Concurrent dedup race; the existing row wins.
			return s.store.FindUploadBySHA(ctx, ownerID, sum)
		}
		return nil, err
	}
	metrics.UploadsAccepted.WithLabelValues(s.driver).Inc()
	return upload, nil
}

// Intent is the presigned two-step's first half: mint the canonical key
// and a PUT URL. With the local driver there is no presign; the client
// must use direct upload instead.
type Intent struct {
	UploadURL        string `json:"uploadUrl"`
	Key              string `json:"key"`
	ExpiresIn        int    `json:"expiresIn"`
	RequiresComplete bool   `json:"requiresComplete"`
}

func (s *Service) CreateIntent(ctx context.Context, ownerID int64, name, mimeType string, size int64) (*Intent, error) {
	if size > s.maxSizeBytes {
		return nil, ErrTooLarge
	}
	if err := checkType(name, mimeType); err != nil {
		return nil, err
	}

	key := newKey(ownerID, name)
	url, err := s.storage.PresignPut(ctx, key, mimeType, s.presignTTL)
	if err != nil {
		return nil, fmt.Errorf("presigning upload: %w", err)
	}
	if url == "" {
		return nil, ErrUnsupportedType
	}
	return &Intent{
		UploadURL:        url,
		Key:              key,
		ExpiresIn:        int(s.presignTTL.Seconds()),
		RequiresComplete: true,
	}, nil
}

// CompleteInput finishes the two-step: the client reports the blob it
// PUT, plus any media metadata it measured. The blob lives remote on
// this path, so the metadata is client-reported only.
type CompleteInput struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	MimeType    string   `json:"mimeType"`
	Size        int64    `json:"size"`
	Width       *int     `json:"width,omitempty"`
	Height      *int     `json:"height,omitempty"`
	DurationSec *float64 `json:"durationSec,omitempty"`
	SHA256      string   `json:"sha256,omitempty"`
}

// Complete registers a presign-uploaded blob. The key must encode the
// caller's owner id; anything else is rejected before touching the store.
func (s *Service) Complete(ctx context.Context, ownerID int64, in CompleteInput) (*store.Upload, error) {
	keyOwner, err := OwnerFromKey(in.Key)
	if err != nil {
		return nil, err
	}
	if keyOwner != ownerID {
		return nil, ErrForbidden
	}
	if in.Size > s.maxSizeBytes {
		return nil, ErrTooLarge
	}
	if err := checkType(in.Name, in.MimeType); err != nil {
		return nil, err
	}

	upload := &store.Upload{
		OwnerID:      ownerID,
		Key:          in.Key,
		SHA256:       in.SHA256,
		OriginalName: in.Name,
		MimeType:     in.MimeType,
		Size:         in.Size,
		Width:        in.Width,
		Height:       in.Height,
		DurationSec:  in.DurationSec,
		Driver:       s.driver,
	}
	if err := s.store.CreateUpload(ctx, upload); err != nil {
		if errors.Is(err, store.ErrConflict) {
			if existing, findErr := s.store.GetUploadByKey(ctx, in.Key); findErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}
	metrics.UploadsAccepted.WithLabelValues(s.driver).Inc()
	return upload, nil
}

// Open streams an upload after the ACL check: the requester must own the
// id encoded in the key, regardless of what the registry row says.
func (s *Service) Open(ctx context.Context, requesterID int64, uploadID int64) (*store.Upload, io.ReadCloser, error) {
	upload, err := s.store.GetUpload(ctx, uploadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	keyOwner, err := OwnerFromKey(upload.Key)
	if err != nil {
		return nil, nil, ErrBadKey
	}
	if keyOwner != requesterID {
		return nil, nil, ErrForbidden
	}

	rc, err := s.storage.Open(ctx, upload.Key)
	if err != nil {
		return nil, nil, ErrNotFound
	}
	return upload, rc, nil
}

// OpenSigned streams a blob addressed by storage key with a valid
// signature from the read path's signed URLs.
func (s *Service) OpenSigned(ctx context.Context, key string, ownerID, exp int64, sig string) (io.ReadCloser, string, error) {
	if !s.signer.Verify(key, ownerID, exp, sig) {
		return nil, "", ErrForbidden
	}
	mimeType := "application/octet-stream"
	if upload, err := s.store.GetUploadByKey(ctx, key); err == nil && upload.MimeType != "" {
		mimeType = upload.MimeType
	}
	rc, err := s.storage.Open(ctx, key)
	if err != nil {
		return nil, "", ErrNotFound
	}
	return rc, mimeType, nil
}
