package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/cairndb/cairn/cairndb/encoding"
)

const completedDir = "completed"

// WAL owns the directory of head block files.  A head block file doubles as
// the write ahead log for the block: every append lands on disk before it is
// acknowledged.
type WAL struct {
	c *Config
}

type Config struct {
	Filepath          string            `yaml:"path"`
	CompletedFilepath string            `yaml:"completed_file_path"`
	IndexDownsample   int               `yaml:"index_downsample"`
	Encoding          encoding.Encoding `yaml:"encoding"`
}

func New(c *Config) (*WAL, error) {
	if c.Filepath == "" {
		return nil, fmt.Errorf("please provide a path for the WAL")
	}

	if c.IndexDownsample <= 0 {
		return nil, fmt.Errorf("non-zero index downsample required")
	}

	if _, err := encoding.CodecFor(c.Encoding); err != nil {
		return nil, err
	}

	err := os.MkdirAll(c.Filepath, os.ModePerm)
	if err != nil {
		return nil, err
	}

	// completed blocks do not survive restarts, their data is already in
	// the backend or will be rebuilt from the head block files
	if c.CompletedFilepath == "" {
		completedFilepath := filepath.Join(c.Filepath, completedDir)
		err = os.RemoveAll(completedFilepath)
		if err != nil {
			return nil, err
		}
		err = os.MkdirAll(completedFilepath, os.ModePerm)
		if err != nil {
			return nil, err
		}

		c.CompletedFilepath = completedFilepath
	}

	return &WAL{c: c}, nil
}

// AllBlocks lists the head block files found on disk for replay.
func (w *WAL) AllBlocks() ([]*ReplayBlock, error) {
	files, err := os.ReadDir(w.c.Filepath)
	if err != nil {
		return nil, err
	}

	blocks := make([]*ReplayBlock, 0, len(files))
	for _, f := range files {
		if f.IsDir() {
			continue
		}

		r, err := newReplayBlock(f.Name(), w.c.Filepath)
		if err != nil {
			return nil, err
		}

		blocks = append(blocks, r)
	}

	return blocks, nil
}

func (w *WAL) NewBlock(id uuid.UUID, tenantID string) (*AppendBlock, error) {
	return newAppendBlock(id, tenantID, w.c.Filepath, w.c.Encoding)
}

func fullFilename(filepath_ string, meta *encoding.BlockMeta) string {
	return filepath.Join(filepath_, fmt.Sprintf("%v:%v:%v", meta.BlockID, meta.TenantID, meta.Encoding))
}

func parseFilename(name string) (uuid.UUID, string, encoding.Encoding, error) {
	splits := strings.Split(name, ":")

	if len(splits) != 3 {
		return uuid.UUID{}, "", "", fmt.Errorf("unable to parse %s", name)
	}

	blockID, err := uuid.Parse(splits[0])
	if err != nil {
		return uuid.UUID{}, "", "", err
	}

	tenantID := splits[1]
	if tenantID == "" {
		return uuid.UUID{}, "", "", fmt.Errorf("empty tenant id in %s", name)
	}

	enc, err := encoding.ParseEncoding(splits[2])
	if err != nil {
		return uuid.UUID{}, "", "", err
	}

	return blockID, tenantID, enc, nil
}
