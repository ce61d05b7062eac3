package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/shaiso/flowcase/internal/domain"
)

// DefaultURLExpiry — срок жизни подписанной ссылки на asset.
const DefaultURLExpiry = 15 * time.Minute

var (
	caseTypeRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)
	extRe      = regexp.MustCompile(`^[a-zA-Z0-9]{1,16}$`)
)

// AssetInfo — описание загруженного asset.
type AssetInfo struct {
	ID          string    `json:"id"`
	CaseType    string    `json:"case_type"`
	ExtName     string    `json:"ext_name"`
	ContentType string    `json:"content_type,omitempty"`
	Size        int64     `json:"size"`
	Created     time.Time `json:"created"`
}

// Asset возвращает ссылку на asset для case (без URL).
func (i *AssetInfo) Asset() domain.Asset {
	return domain.Asset{ID: i.ID, ExtName: i.ExtName}
}

// Config — настройки архива.
type Config struct {
	// URL — адрес bucket, например "file:///var/lib/flowcase" или "mem://".
	URL string

	// PublicURL — базовый адрес API для ссылок на assets,
	// если драйвер не умеет подписывать URL.
	PublicURL string

	// URLExpiry — срок жизни подписанной ссылки.
	URLExpiry time.Duration

	Logger *slog.Logger
}

// Archive — хранилище завершённых case и assets.
type Archive struct {
	bucket    *blob.Bucket
	publicURL string
	expiry    time.Duration
	logger    *slog.Logger
}

// Open открывает bucket по cfg.URL.
func Open(ctx context.Context, cfg Config) (*Archive, error) {
	bucket, err := blob.OpenBucket(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %q: %w", cfg.URL, err)
	}
	if cfg.URLExpiry <= 0 {
		cfg.URLExpiry = DefaultURLExpiry
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Archive{
		bucket:    bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		expiry:    cfg.URLExpiry,
		logger:    cfg.Logger,
	}, nil
}

// Close закрывает bucket.
func (a *Archive) Close() error {
	return a.bucket.Close()
}

// SaveFinalCase сохраняет финальный case.
func (a *Archive) SaveFinalCase(ctx context.Context, c *domain.Case) error {
	key, err := caseKey(c.CaseType, c.ID.String())
	if err != nil {
		return err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal case: %w", err)
	}
	opts := &blob.WriterOptions{ContentType: "application/json"}
	if err := a.bucket.WriteAll(ctx, key, data, opts); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// LoadFinalCase читает финальный case.
func (a *Archive) LoadFinalCase(ctx context.Context, caseType string, id uuid.UUID) (*domain.Case, error) {
	key, err := caseKey(caseType, id.String())
	if err != nil {
		return nil, err
	}
	data, err := a.read(ctx, key)
	if err != nil {
		return nil, err
	}
	var c domain.Case
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return &c, nil
}

// SaveAsset сохраняет содержимое asset и его описание.
func (a *Archive) SaveAsset(ctx context.Context, caseType, ext, contentType string, data []byte) (*AssetInfo, error) {
	if !caseTypeRe.MatchString(caseType) || !extRe.MatchString(ext) {
		return nil, fmt.Errorf("%w: %s.%s", ErrInvalidKey, caseType, ext)
	}
	info := &AssetInfo{
		ID:          uuid.NewString(),
		CaseType:    caseType,
		ExtName:     strings.ToLower(ext),
		ContentType: contentType,
		Size:        int64(len(data)),
		Created:     time.Now().UTC(),
	}

	dataKey := assetDataKey(info)
	opts := &blob.WriterOptions{ContentType: contentType}
	if err := a.bucket.WriteAll(ctx, dataKey, data, opts); err != nil {
		return nil, fmt.Errorf("write %s: %w", dataKey, err)
	}

	raw, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("marshal asset info: %w", err)
	}
	infoKey := "assets/" + caseType + "/" + info.ID + ".json"
	if err := a.bucket.WriteAll(ctx, infoKey, raw, &blob.WriterOptions{ContentType: "application/json"}); err != nil {
		return nil, fmt.Errorf("write %s: %w", infoKey, err)
	}

	a.logger.Info("asset saved", "case_type", caseType, "asset_id", info.ID, "size", info.Size)
	return info, nil
}

// LoadAssetInfo читает описание asset.
func (a *Archive) LoadAssetInfo(ctx context.Context, caseType, id string) (*AssetInfo, error) {
	key, err := assetInfoKey(caseType, id)
	if err != nil {
		return nil, err
	}
	data, err := a.read(ctx, key)
	if err != nil {
		return nil, err
	}
	var info AssetInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return &info, nil
}

// ReadAsset читает описание и содержимое asset.
func (a *Archive) ReadAsset(ctx context.Context, caseType, id string) (*AssetInfo, []byte, error) {
	info, err := a.LoadAssetInfo(ctx, caseType, id)
	if err != nil {
		return nil, nil, err
	}
	data, err := a.read(ctx, assetDataKey(info))
	if err != nil {
		return nil, nil, err
	}
	return info, data, nil
}

// AssetURL возвращает ссылку на содержимое asset.
//
// Если драйвер не подписывает URL, ссылка ведёт на API скачивания.
func (a *Archive) AssetURL(ctx context.Context, caseType string, asset domain.Asset) (string, error) {
	if _, err := assetInfoKey(caseType, asset.ID); err != nil {
		return "", err
	}
	info := &AssetInfo{ID: asset.ID, CaseType: caseType, ExtName: asset.ExtName}
	url, err := a.bucket.SignedURL(ctx, assetDataKey(info), &blob.SignedURLOptions{Expiry: a.expiry})
	if err == nil {
		return url, nil
	}
	if a.publicURL == "" {
		return "", fmt.Errorf("sign asset url: %w", err)
	}
	return a.publicURL + "/api/v1/assets/" + caseType + "/" + asset.ID, nil
}

func (a *Archive) read(ctx context.Context, key string) ([]byte, error) {
	data, err := a.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

func caseKey(caseType, id string) (string, error) {
	if !caseTypeRe.MatchString(caseType) || id == "" {
		return "", fmt.Errorf("%w: %s/%s", ErrInvalidKey, caseType, id)
	}
	return "cases/" + caseType + "/" + id + ".json", nil
}

func assetInfoKey(caseType, id string) (string, error) {
	if !caseTypeRe.MatchString(caseType) {
		return "", fmt.Errorf("%w: case type %q", ErrInvalidKey, caseType)
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("%w: asset id %q", ErrInvalidKey, id)
	}
	return "assets/" + caseType + "/" + id + ".json", nil
}

func assetDataKey(info *AssetInfo) string {
	key := "assets/" + info.CaseType + "/" + info.ID
	if info.ExtName != "" {
		key += "." + info.ExtName
	}
	return key
}
