// Package aws wraps vfs.FS so that the files an EmbeddedDB considers
// durable (SSTables, MANIFEST, CURRENT) are mirrored to S3 as they're
// synced or renamed into place, while leaving WAL segments and .dbtmp
// staging files local-only.
package aws

import (
	"fmt"
	"io"
	"os"

	"github.com/edb-project/embeddeddb/cloud/common"
	"github.com/edb-project/embeddeddb/vfs"
)

// CloudFsOption configures a CloudFS's S3 destination.
type CloudFsOption = common.CloudFsOption

// CloudFS wraps a local vfs.FS, mirroring writes to S3 via helper.
type CloudFS struct {
	wrapperFs vfs.FS
	helper    common.S3Helper
	options   common.CloudFsOption
}

// NewCloudFS wraps fs so that files it creates are also mirrored to S3.
func NewCloudFS(fs vfs.FS, options CloudFsOption) (vfs.FS, error) {
	helper, err := common.NewS3Helper(options)
	if err != nil {
		return nil, err
	}
	return &CloudFS{wrapperFs: fs, helper: helper, options: options}, nil
}

func (c *CloudFS) Create(name string) (vfs.File, error) {
	f, err := c.wrapperFs.Create(name)
	if err != nil {
		return nil, err
	}
	return NewCloudFile(f, name, c.helper), nil
}

func (c *CloudFS) Link(oldname, newname string) error {
	return c.wrapperFs.Link(oldname, newname)
}

func (c *CloudFS) Open(name string, opts ...vfs.OpenOption) (vfs.File, error) {
	return c.wrapperFs.Open(name, opts...)
}

func (c *CloudFS) OpenDir(name string) (vfs.File, error) {
	return c.wrapperFs.OpenDir(name)
}

func (c *CloudFS) Remove(name string) error {
	if !c.helper.SkipUpload(name) {
		if err := c.helper.DeleteS3File(name); err != nil {
			fmt.Printf("edb: failed to delete %s from S3: %v\n", name, err)
		}
	}
	return c.wrapperFs.Remove(name)
}

func (c *CloudFS) RemoveAll(name string) error {
	return c.wrapperFs.RemoveAll(name)
}

// Rename mirrors newname to S3 once the local rename durably lands: this is
// how CURRENT (atomically rewritten via write-temp + rename, spec.md §6)
// and MANIFEST files end up in S3 without CloudFile needing to know it was
// the target of a rename rather than a Create.
func (c *CloudFS) Rename(oldname, newname string) error {
	if err := c.wrapperFs.Rename(oldname, newname); err != nil {
		return err
	}
	if c.helper.SkipUpload(newname) {
		return nil
	}
	f, err := c.wrapperFs.Open(newname)
	if err != nil {
		return err
	}
	defer f.Close()
	return c.helper.SyncFileToS3(f, newname)
}

func (c *CloudFS) ReuseForWrite(oldname, newname string) (vfs.File, error) {
	f, err := c.wrapperFs.ReuseForWrite(oldname, newname)
	if err != nil {
		return nil, err
	}
	return NewCloudFile(f, newname, c.helper), nil
}

func (c *CloudFS) MkdirAll(dir string, perm os.FileMode) error {
	return c.wrapperFs.MkdirAll(dir, perm)
}

func (c *CloudFS) Lock(name string) (io.Closer, error) {
	return c.wrapperFs.Lock(name)
}

func (c *CloudFS) List(dir string) ([]string, error) {
	return c.wrapperFs.List(dir)
}

func (c *CloudFS) PathBase(path string) string {
	return c.wrapperFs.PathBase(path)
}

func (c *CloudFS) PathJoin(elem ...string) string {
	return c.wrapperFs.PathJoin(elem...)
}

var _ vfs.FS = (*CloudFS)(nil)
