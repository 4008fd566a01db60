package upload

import (
	"bytes"
	"fmt"
	"io"
	"maps"
	"mime/multipart"
	"slices"
)

// switchWriter lets the multipart writer emit its preamble and its closing
// boundary into different buffers.
type switchWriter struct {
	w io.Writer
}

func (s *switchWriter) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

// multipartBody streams fields followed by a single file part named "file".
// The returned length is exact, so the request carries a Content-Length and
// storage services that reject chunked uploads accept it.
func multipartBody(fields map[string]string, fileName string, file io.Reader, size int64) (body io.Reader, contentType string, length int64, err error) {
	var head, tail bytes.Buffer
	sw := &switchWriter{w: &head}
	mw := multipart.NewWriter(sw)

	for _, k := range slices.Sorted(maps.Keys(fields)) {
		if err := mw.WriteField(k, fields[k]); err != nil {
			return nil, "", 0, fmt.Errorf("write form field %s: %w", k, err)
		}
	}
	if _, err := mw.CreateFormFile("file", fileName); err != nil {
		return nil, "", 0, fmt.Errorf("write file part: %w", err)
	}

	sw.w = &tail
	if err := mw.Close(); err != nil {
		return nil, "", 0, fmt.Errorf("close multipart body: %w", err)
	}

	length = int64(head.Len()) + size + int64(tail.Len())
	body = io.MultiReader(&head, io.LimitReader(file, size), &tail)
	return body, mw.FormDataContentType(), length, nil
}
