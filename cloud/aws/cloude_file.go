package aws

import (
	"os"

	"github.com/edb-project/embeddeddb/cloud/common"
	"github.com/edb-project/embeddeddb/vfs"
)

// CloudFile wraps a local vfs.File, mirroring its MANIFEST/SSTable content
// to S3 on Sync/Close. WAL and .dbtmp files pass straight through, per
// helper.SkipUpload.
type CloudFile struct {
	file   vfs.File
	name   string
	helper common.S3Helper
}

// NewCloudFile wraps base so its content is mirrored to S3 via helper.
func NewCloudFile(base vfs.File, name string, helper common.S3Helper) vfs.File {
	return &CloudFile{file: base, name: name, helper: helper}
}

func (c *CloudFile) maybeSync() {
	if c.helper.SkipUpload(c.name) {
		return
	}
	if err := c.helper.SyncFileToS3(c.file, c.name); err != nil {
		println("edb: failed to mirror", c.name, "to S3:", err.Error())
	}
}

func (c *CloudFile) Close() error {
	c.maybeSync()
	return c.file.Close()
}

func (c *CloudFile) Read(p []byte) (n int, err error)              { return c.file.Read(p) }
func (c *CloudFile) ReadAt(p []byte, off int64) (n int, err error) { return c.file.ReadAt(p, off) }
func (c *CloudFile) Write(p []byte) (n int, err error)             { return c.file.Write(p) }
func (c *CloudFile) Preallocate(offset, length int64) error {
	return c.file.Preallocate(offset, length)
}
func (c *CloudFile) Stat() (os.FileInfo, error)          { return c.file.Stat() }
func (c *CloudFile) Prefetch(offset, length int64) error { return c.file.Prefetch(offset, length) }
func (c *CloudFile) Fd() uintptr                         { return c.file.Fd() }

// Sync mirrors MANIFEST/CURRENT/SSTable content to S3 immediately, rather
// than waiting for Close, since a crash between Sync and Close must not
// lose a durably-fsynced file's cloud copy.
func (c *CloudFile) Sync() error {
	if err := c.file.Sync(); err != nil {
		return err
	}
	c.maybeSync()
	return nil
}

func (c *CloudFile) SyncTo(length int64) (fullSync bool, err error) {
	fullSync, err = c.file.SyncTo(length)
	if err != nil {
		return fullSync, err
	}
	if fullSync {
		c.maybeSync()
	}
	return fullSync, nil
}

func (c *CloudFile) SyncData() error {
	if err := c.file.SyncData(); err != nil {
		return err
	}
	c.maybeSync()
	return nil
}

var _ vfs.File = (*CloudFile)(nil)
