package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/cairndb/cairn/cairndb/backend"
	"github.com/cairndb/cairn/cairndb/encoding"
)

type viewBlockCmd struct {
	TenantID  string `arg:"" help:"tenant id within the backend"`
	BlockID   string `arg:"" help:"block id to view"`
	ScanDupes bool   `help:"scan the data file for duplicate object ids"`

	backendOptions
}

func (v *viewBlockCmd) Run(_ *globalOptions) error {
	r, c, err := loadBackend(&v.backendOptions)
	if err != nil {
		return err
	}

	id, err := uuid.Parse(v.BlockID)
	if err != nil {
		return err
	}

	meta, err := r.BlockMeta(context.Background(), id, v.TenantID)
	if err != nil && err != backend.ErrMetaDoesNotExist {
		return err
	}

	compactedMeta, err := c.CompactedBlockMeta(id, v.TenantID)
	if err != nil && err != backend.ErrMetaDoesNotExist {
		return err
	}

	b := getMeta(meta, compactedMeta, time.Hour)

	fmt.Println("ID            : ", b.BlockID)
	fmt.Println("Total Objects : ", b.TotalObjects)
	fmt.Println("Size          : ", humanize.Bytes(b.Size))
	fmt.Println("Encoding      : ", string(b.Encoding))
	fmt.Println("Start         : ", b.StartTime.Format(time.RFC3339))
	fmt.Println("End           : ", b.EndTime.Format(time.RFC3339))
	fmt.Println("Compacted     : ", b.compacted)

	if !v.ScanDupes {
		return nil
	}

	fmt.Println("Searching for dupes ...")

	codec, err := encoding.CodecFor(b.Encoding)
	if err != nil {
		return err
	}

	iter, err := backend.NewBackendIterator(context.Background(), v.TenantID, id, 10*1024*1024, r, codec)
	if err != nil {
		return err
	}

	i := 0
	dupe := 0
	prevID := make([]byte, 16)
	for {
		objID, _, err := iter.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return err
		}

		if bytes.Equal(objID, prevID) {
			dupe++
		}

		copy(prevID, objID)
		i++
		if i%100000 == 0 {
			fmt.Println("Record: ", i)
		}
	}

	fmt.Println("total: ", i)
	fmt.Println("dupes: ", dupe)

	return nil
}
