package backend_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cairndb/cairn/cairndb/backend"
	"github.com/cairndb/cairn/cairndb/backend/local"
	"github.com/cairndb/cairn/cairndb/encoding"
)

const testTenantID = "fake"

func TestBackendIterator(t *testing.T) {
	tests := []struct {
		name           string
		chunkSizeBytes uint32
	}{
		{"large chunks", 1024 * 1024},
		{"small chunks force multiple reads", 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := local.New(&local.Config{Path: t.TempDir()})
			require.NoError(t, err)

			codec, err := encoding.CodecFor(encoding.EncSnappy)
			require.NoError(t, err)

			// build a block by hand
			blockID := uuid.New()
			meta := encoding.NewBlockMeta(testTenantID, blockID, encoding.EncSnappy)

			buf := &bytes.Buffer{}
			appender := encoding.NewBufferedAppender(buf, codec, 2, 10)

			numObjects := 10
			ids := make([]encoding.ID, 0, numObjects)
			objects := make([][]byte, 0, numObjects)
			for i := 0; i < numObjects; i++ {
				id := encoding.ID(fmt.Sprintf("%016d", i))
				object := []byte(fmt.Sprintf("object-%d", i))
				require.NoError(t, appender.Append(id, object))
				meta.ObjectAdded(id, len(object))
				ids = append(ids, id)
				objects = append(objects, object)
			}
			appender.Complete()

			dataFile := filepath.Join(t.TempDir(), "data")
			require.NoError(t, os.WriteFile(dataFile, buf.Bytes(), 0o644))

			indexBytes, err := encoding.MarshalRecords(appender.Records())
			require.NoError(t, err)
			require.NoError(t, b.Write(context.Background(), meta, indexBytes, dataFile))

			iter, err := backend.NewBackendIterator(context.Background(), testTenantID, blockID, tt.chunkSizeBytes, b, codec)
			require.NoError(t, err)

			for i := 0; i < numObjects; i++ {
				id, object, err := iter.Next()
				require.NoError(t, err)
				assert.Equal(t, ids[i], id)
				assert.Equal(t, objects[i], object)
			}

			_, _, err = iter.Next()
			assert.Equal(t, io.EOF, err)
		})
	}
}
