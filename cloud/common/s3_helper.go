// Package common holds the S3 plumbing shared by cloud/aws's CloudFS and
// CloudFile, split out so CloudFile doesn't need its own AWS session.
package common

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	awssdk "github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/edb-project/embeddeddb/vfs"
)

// CloudFsOption configures where a CloudFS mirrors durable files to.
type CloudFsOption struct {
	Bucket   string
	BasePath string
}

// S3Helper mirrors durable database files (MANIFEST, CURRENT, SSTables) to
// S3. WAL segments and .dbtmp staging files are skipped: they are either
// too hot to be worth mirroring (the WAL) or never meant to be durable in
// the first place (a .dbtmp file mid-rename).
type S3Helper interface {
	SyncFileToS3(file vfs.File, name string) error
	DeleteS3File(name string) error
	SkipUpload(name string) bool
}

type s3HelperImpl struct {
	bucket     string
	filePrefix string
	uploader   *s3manager.Uploader
	client     *s3.S3
}

// NewS3Helper builds an S3Helper backed by the default AWS credential chain.
func NewS3Helper(options CloudFsOption) (S3Helper, error) {
	sess, err := session.NewSession(&awssdk.Config{Region: awssdk.String("ap-south-1")})
	if err != nil {
		return nil, err
	}
	bucket := options.Bucket
	if bucket == "" {
		bucket = os.Getenv("S3_BUCKET")
	}
	return &s3HelperImpl{
		bucket:     bucket,
		filePrefix: options.BasePath,
		uploader:   s3manager.NewUploader(sess),
		client:     s3.New(sess),
	}, nil
}

func (s *s3HelperImpl) SkipUpload(name string) bool {
	return strings.HasSuffix(name, ".log") || strings.HasSuffix(name, ".dbtmp")
}

func (s *s3HelperImpl) key(name string) string { return s.filePrefix + "/" + name }

func (s *s3HelperImpl) SyncFileToS3(file vfs.File, name string) error {
	if s.SkipUpload(name) {
		return nil
	}
	if _, err := file.Stat(); err != nil {
		return err
	}
	out, err := s.uploader.Upload(&s3manager.UploadInput{
		Body:   bufio.NewReader(file),
		Bucket: awssdk.String(s.bucket),
		Key:    awssdk.String(s.key(name)),
	})
	if err != nil {
		return err
	}
	fmt.Printf("edb: mirrored %s to %s\n", name, out.Location)
	return nil
}

func (s *s3HelperImpl) DeleteS3File(name string) error {
	_, err := s.client.DeleteObject(&s3.DeleteObjectInput{
		Bucket: awssdk.String(s.bucket),
		Key:    awssdk.String(s.key(name)),
	})
	return err
}
