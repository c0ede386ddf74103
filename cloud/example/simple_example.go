// Command edb-s3-demo writes a stream of keys into a database whose
// SSTables and MANIFEST are mirrored to S3, demonstrating cloud/aws.CloudFS
// as a drop-in vfs.FS.
package main

import (
	"fmt"
	"log"
	"strings"

	"github.com/edb-project/embeddeddb"
	pebbleaws "github.com/edb-project/embeddeddb/cloud/aws"
	"github.com/edb-project/embeddeddb/vfs"
)

func main() {
	id := "5"

	baseFs, err := pebbleaws.NewCloudFS(vfs.Default, pebbleaws.CloudFsOption{BasePath: "project_" + id})
	if err != nil {
		log.Fatal(err)
	}

	db, err := embeddeddb.Open("/tmp/demo_"+id, embeddeddb.Options{
		FS:              baseFs,
		CreateIfMissing: true,
	})
	if err != nil {
		log.Fatal(err)
	}

	data := strings.Repeat("world", 10000)
	for i := 0; i < 1000; i++ {
		key := []byte(fmt.Sprintf("hello_%d", i))
		b := embeddeddb.NewBatch()
		b.Put(key, []byte(data))
		if err := db.Write(b); err != nil {
			log.Fatal(err)
		}
	}

	lastKey := []byte("hello_999")
	value, found, err := db.Get(lastKey)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%s found=%v len(value)=%d\n", lastKey, found, len(value))

	if err := db.Close(); err != nil {
		log.Fatal(err)
	}
}
