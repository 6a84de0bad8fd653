package contentstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/tradebot-lab/helmsman/pkg/errors"
)

type FileStoreTestSuite struct {
	suite.Suite
	dir   string
	store *FileStore
}

func TestFileStoreSuite(t *testing.T) {
	suite.Run(t, new(FileStoreTestSuite))
}

func (suite *FileStoreTestSuite) SetupTest() {
	suite.dir = suite.T().TempDir()
	suite.store = NewFileStore(suite.dir)
}

func (suite *FileStoreTestSuite) TestFetchExisting() {
	err := os.WriteFile(filepath.Join(suite.dir, "sma.wasm"), []byte("wasm-bytes"), 0644)
	suite.Require().NoError(err)

	data, err := suite.store.Fetch(context.Background(), "sma.wasm")
	suite.NoError(err)
	suite.Equal([]byte("wasm-bytes"), data)
}

func (suite *FileStoreTestSuite) TestFetchMissing() {
	_, err := suite.store.Fetch(context.Background(), "missing.wasm")
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeStrategyNotFound))
}

func (suite *FileStoreTestSuite) TestFetchRejectsPathEscape() {
	for _, name := range []string{"../secret", "a/../../secret", "/etc/passwd"} {
		_, err := suite.store.Fetch(context.Background(), name)
		suite.Error(err, "name %q should be rejected", name)
		suite.True(errors.HasCode(err, errors.ErrCodeStrategyNotFound))
	}
}

func (suite *FileStoreTestSuite) TestFetchCancelledContext() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := suite.store.Fetch(ctx, "sma.wasm")
	suite.ErrorIs(err, context.Canceled)
}
