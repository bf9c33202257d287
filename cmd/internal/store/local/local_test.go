package local

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_ObjectStoreLocal(t *testing.T) {
	var (
		ctx    = context.Background()
		log    = slog.Default()
		bucket = "backups"
	)

	fs := afero.NewMemMapFs()

	s, err := New(log, &ObjectStoreConfigLocal{
		FS:           fs,
		ListPageSize: 2,
	})
	require.NoError(t, err)
	require.NotNil(t, s)

	var uploaded []string
	for _, folder := range []string{"2024-03-14", "2024-03-15"} {
		for _, db := range []string{"shop", "crm", "wiki"} {
			key := fmt.Sprintf("databases/%s/12-30/%s.sql.gz", folder, db)
			err := s.Upload(ctx, bucket, key, strings.NewReader("precious data of "+db))
			require.NoError(t, err)
			uploaded = append(uploaded, key)
		}
	}

	t.Run("uploaded objects are on the filesystem", func(t *testing.T) {
		content, err := afero.ReadFile(fs, defaultBasePath+"/backups/databases/2024-03-15/12-30/shop.sql.gz")
		require.NoError(t, err)
		assert.Equal(t, "precious data of shop", string(content))
	})

	t.Run("listing pages through all objects", func(t *testing.T) {
		var (
			keys  []string
			token = ""
			pages = 0
		)
		for {
			page, next, err := s.ListObjects(ctx, bucket, "databases/", token)
			require.NoError(t, err)
			keys = append(keys, page...)
			pages++
			if next == "" {
				break
			}
			token = next
		}

		assert.Equal(t, 3, pages)
		assert.ElementsMatch(t, uploaded, keys)
		assert.IsIncreasing(t, keys)
	})

	t.Run("listing respects the prefix", func(t *testing.T) {
		keys, next, err := s.ListObjects(ctx, bucket, "databases/2024-03-14/", "")
		require.NoError(t, err)
		assert.NotEmpty(t, next)
		assert.Len(t, keys, 2)

		keys, _, err = s.ListObjects(ctx, bucket, "elsewhere/", "")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("listing an unknown bucket is empty", func(t *testing.T) {
		keys, next, err := s.ListObjects(ctx, "no-such-bucket", "databases/", "")
		require.NoError(t, err)
		assert.Empty(t, keys)
		assert.Empty(t, next)
	})

	t.Run("invalid continuation token", func(t *testing.T) {
		_, _, err := s.ListObjects(ctx, bucket, "databases/", "not-a-number")
		require.ErrorContains(t, err, "invalid continuation token")
	})

	t.Run("delete removes objects and tolerates missing ones", func(t *testing.T) {
		err := s.DeleteObjects(ctx, bucket, []string{
			"databases/2024-03-14/12-30/shop.sql.gz",
			"databases/2024-03-14/12-30/already-gone.sql.gz",
		})
		require.NoError(t, err)

		keys, _, err := s.ListObjects(ctx, bucket, "databases/2024-03-14/", "")
		require.NoError(t, err)
		assert.Len(t, keys, 2)
	})
}
