package capture

import (
	"bytes"
	"io"
	"time"
)

// Blob is an immutable encoded recording. Name is set only for blobs that
// came from a file; captured blobs carry just their MIME type.
type Blob struct {
	data      []byte
	mimeType  string
	name      string
	createdAt time.Time
}

func newBlob(data []byte, mimeType, name string) *Blob {
	return &Blob{data: data, mimeType: mimeType, name: name, createdAt: time.Now()}
}

// FileBlob wraps the contents of an opened file. data is copied.
func FileBlob(name, mimeType string, data []byte) *Blob {
	return newBlob(bytes.Clone(data), mimeType, name)
}

// RestoreBlob rebuilds a blob from persisted fields. data is not copied.
func RestoreBlob(name, mimeType string, data []byte, createdAt time.Time) *Blob {
	return &Blob{data: data, mimeType: mimeType, name: name, createdAt: createdAt}
}

// Bytes returns the encoded data. Callers must not modify it.
func (b *Blob) Bytes() []byte { return b.data }

// Reader returns a fresh reader over the data.
func (b *Blob) Reader() io.Reader { return bytes.NewReader(b.data) }

func (b *Blob) Size() int            { return len(b.data) }
func (b *Blob) MimeType() string     { return b.mimeType }
func (b *Blob) Name() string         { return b.name }
func (b *Blob) CreatedAt() time.Time { return b.createdAt }
