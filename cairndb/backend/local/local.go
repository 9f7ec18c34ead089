package local

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/cairndb/cairn/cairndb/backend"
	"github.com/cairndb/cairn/cairndb/encoding"
)

const (
	metaName          = "meta.json"
	compactedMetaName = "meta.compacted.json"
	indexName         = "index"
	dataName          = "data"
)

// Backend stores blocks on the local filesystem:
//
//	<path>/<tenant>/<blockID>/{meta.json,index,data}
//
// A block is only considered complete once meta.json exists.  Marking a block
// compacted renames meta.json to meta.compacted.json which removes the block
// from the active blocklist while its data stays readable.
type Backend struct {
	cfg *Config
}

var (
	_ backend.Reader    = (*Backend)(nil)
	_ backend.Writer    = (*Backend)(nil)
	_ backend.Compactor = (*Backend)(nil)
)

func New(cfg *Config) (*Backend, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("please provide a path for the local backend")
	}

	err := os.MkdirAll(cfg.Path, os.ModePerm)
	if err != nil {
		return nil, err
	}

	return &Backend{cfg: cfg}, nil
}

// NewAll is a convenience method returning the backend as its three roles.
func NewAll(cfg *Config) (backend.Reader, backend.Writer, backend.Compactor, error) {
	b, err := New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return b, b, b, nil
}

func (rw *Backend) Write(ctx context.Context, meta *encoding.BlockMeta, bIndex []byte, objectFilePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	blockFolder := rw.rootPath(meta.BlockID, meta.TenantID)
	err := os.MkdirAll(blockFolder, os.ModePerm)
	if err != nil {
		return err
	}

	err = rw.copyDataFile(blockFolder, objectFilePath)
	if err != nil {
		os.RemoveAll(blockFolder)
		return err
	}

	err = os.WriteFile(filepath.Join(blockFolder, indexName), bIndex, 0o644)
	if err != nil {
		os.RemoveAll(blockFolder)
		return err
	}

	// the meta is written last.  a block without a meta is partial and is
	// cleaned up on discovery.
	bMeta, err := json.Marshal(meta)
	if err != nil {
		os.RemoveAll(blockFolder)
		return err
	}
	err = os.WriteFile(filepath.Join(blockFolder, metaName), bMeta, 0o644)
	if err != nil {
		os.RemoveAll(blockFolder)
		return err
	}

	return nil
}

func (rw *Backend) copyDataFile(blockFolder string, objectFilePath string) error {
	src, err := os.Open(objectFilePath)
	if err != nil {
		return errors.Wrap(err, "error opening data file")
	}
	defer src.Close()

	dst, err := os.Create(filepath.Join(blockFolder, dataName))
	if err != nil {
		return errors.Wrap(err, "error creating data file")
	}

	_, err = io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	return err
}

func (rw *Backend) Tenants(_ context.Context) ([]string, error) {
	folders, err := os.ReadDir(rw.cfg.Path)
	if err != nil {
		return nil, err
	}

	tenants := make([]string, 0, len(folders))
	for _, f := range folders {
		if !f.IsDir() {
			continue
		}
		tenants = append(tenants, f.Name())
	}

	return tenants, nil
}

func (rw *Backend) Blocks(_ context.Context, tenantID string) ([]uuid.UUID, error) {
	if tenantID == "" {
		return nil, backend.ErrEmptyTenantID
	}

	path := filepath.Join(rw.cfg.Path, tenantID)
	folders, err := os.ReadDir(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	blocks := make([]uuid.UUID, 0, len(folders))
	for _, f := range folders {
		if !f.IsDir() {
			continue
		}
		blockID, err := uuid.Parse(f.Name())
		if err != nil {
			continue
		}
		blocks = append(blocks, blockID)
	}

	return blocks, nil
}

func (rw *Backend) BlockMeta(_ context.Context, blockID uuid.UUID, tenantID string) (*encoding.BlockMeta, error) {
	bytes, err := os.ReadFile(filepath.Join(rw.rootPath(blockID, tenantID), metaName))
	if os.IsNotExist(err) {
		return nil, backend.ErrMetaDoesNotExist
	}
	if err != nil {
		return nil, err
	}

	meta := &encoding.BlockMeta{}
	err = json.Unmarshal(bytes, meta)
	if err != nil {
		return nil, err
	}

	return meta, nil
}

func (rw *Backend) Index(_ context.Context, blockID uuid.UUID, tenantID string) ([]byte, error) {
	return os.ReadFile(filepath.Join(rw.rootPath(blockID, tenantID), indexName))
}

func (rw *Backend) Object(_ context.Context, blockID uuid.UUID, tenantID string, start uint64, buffer []byte) error {
	f, err := os.OpenFile(filepath.Join(rw.rootPath(blockID, tenantID), dataName), os.O_RDONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.ReadAt(buffer, int64(start))
	return err
}

func (rw *Backend) Shutdown() {}

func (rw *Backend) MarkBlockCompacted(blockID uuid.UUID, tenantID string) error {
	root := rw.rootPath(blockID, tenantID)
	return os.Rename(filepath.Join(root, metaName), filepath.Join(root, compactedMetaName))
}

func (rw *Backend) ClearBlock(blockID uuid.UUID, tenantID string) error {
	if blockID == uuid.Nil {
		return backend.ErrEmptyBlockID
	}
	if tenantID == "" {
		return backend.ErrEmptyTenantID
	}

	// RemoveAll of a missing path is nil which makes retried deletes safe
	return os.RemoveAll(rw.rootPath(blockID, tenantID))
}

func (rw *Backend) CompactedBlockMeta(blockID uuid.UUID, tenantID string) (*encoding.CompactedBlockMeta, error) {
	filename := filepath.Join(rw.rootPath(blockID, tenantID), compactedMetaName)

	fi, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return nil, backend.ErrMetaDoesNotExist
	}
	if err != nil {
		return nil, err
	}

	bytes, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	meta := &encoding.CompactedBlockMeta{}
	err = json.Unmarshal(bytes, meta)
	if err != nil {
		return nil, err
	}
	meta.CompactedTime = fi.ModTime()

	return meta, nil
}

func (rw *Backend) rootPath(blockID uuid.UUID, tenantID string) string {
	return filepath.Join(rw.cfg.Path, tenantID, blockID.String())
}
