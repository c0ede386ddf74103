package embeddeddb

import (
	"log"

	"github.com/cockroachdb/redact"

	"github.com/edb-project/embeddeddb/internal/base"
)

// defaultLogger writes to the standard library logger. Key and value bytes
// passed to it must be wrapped with RedactKey so that a
// production deployment can later swap in a sink that actually strips
// marked spans; locally this still prints them, but through the same
// redact.RedactableString pipeline the rest of the ecosystem uses.
type defaultLogger struct{}

var _ base.Logger = defaultLogger{}

func (defaultLogger) Infof(format string, args ...interface{}) {
	log.Print(redact.Sprintf(format, args...))
}

func (defaultLogger) Errorf(format string, args ...interface{}) {
	log.Print(redact.Sprintf(format, args...))
}

func (defaultLogger) Fatalf(format string, args ...interface{}) {
	log.Fatal(redact.Sprintf(format, args...))
}

// RedactKey formats a user key through the redaction pipeline so that a
// sink configured to strip marked spans never prints raw key bytes; unlike
// a level number or file count (wrapped in redact.Safe at the call site),
// key and value bytes are left as the default redactable argument.
func RedactKey(key []byte) redact.RedactableString {
	return redact.Sprintf("%s", key)
}
