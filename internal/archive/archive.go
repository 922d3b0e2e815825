// Package archive packages named documents into a single ZIP archive.
package archive

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/jonathan/bom-generator/internal/types"
)

// DefaultFilename is the archive name used when the caller does not pick one.
const DefaultFilename = "output_files.zip"

// entryTime is stamped on every entry so equal inputs produce equal archives.
var entryTime = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// Error represents a failure while writing the archive
type Error struct {
	Filename string
	Cause    error
}

func (e *Error) Error() string {
	if e.Filename != "" {
		return fmt.Sprintf("archive error (%s): %v", e.Filename, e.Cause)
	}
	return fmt.Sprintf("archive error: %v", e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Assemble returns a ZIP archive holding docs in order.
func Assemble(docs []types.NamedDocument) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, docs); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write streams a ZIP archive holding docs to w. Entries keep the input order
// and duplicate filenames are written as separate entries.
func Write(w io.Writer, docs []types.NamedDocument) error {
	zw := zip.NewWriter(w)

	for _, doc := range docs {
		if doc.Filename == "" {
			_ = zw.Close()
			return &Error{Cause: fmt.Errorf("document has no filename")}
		}
		entry, err := zw.CreateHeader(&zip.FileHeader{
			Name:     doc.Filename,
			Method:   zip.Deflate,
			Modified: entryTime,
		})
		if err != nil {
			_ = zw.Close()
			return &Error{Filename: doc.Filename, Cause: err}
		}
		if _, err := entry.Write(doc.Bytes); err != nil {
			_ = zw.Close()
			return &Error{Filename: doc.Filename, Cause: err}
		}
	}

	if err := zw.Close(); err != nil {
		return &Error{Cause: err}
	}
	return nil
}
