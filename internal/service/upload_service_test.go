package service

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/require"
)

type storageStub struct {
	uploaded bytes.Buffer
}

func (s *storageStub) Upload(ctx context.Context, name string, reader io.Reader) (string, error) {
	s.uploaded.Reset()
	if _, err := s.uploaded.ReadFrom(reader); err != nil {
		return "", err
	}
	return "https://cdn.lingua.test/" + name, nil
}

func TestUploadRejectsOversizedAttachments(t *testing.T) {
	svc := NewUploadService(&storageStub{}, 1, testLogger())

	file := buildFileHeader(t, "recording.ogg", bytes.Repeat([]byte("a"), 2*1024*1024))
	_, err := svc.Upload(context.Background(), file, "user-1")
	require.ErrorIs(t, err, ErrUploadTooLarge)
}

func TestUploadRejectsUnsupportedTypes(t *testing.T) {
	svc := NewUploadService(&storageStub{}, 5, testLogger())

	file := buildFileHeader(t, "homework.txt", []byte("plain text essay"))
	_, err := svc.Upload(context.Background(), file, "user-1")
	require.ErrorIs(t, err, ErrUploadTypeNotAllowed)

	// Executables disguised with a friendly name are detected by content.
	elf := append([]byte{0x7F, 'E', 'L', 'F'}, bytes.Repeat([]byte{0}, 64)...)
	file = buildFileHeader(t, "photo.png", elf)
	_, err = svc.Upload(context.Background(), file, "user-1")
	require.ErrorIs(t, err, ErrUploadTypeNotAllowed)
}

func TestUploadStoresImageAndSanitizesName(t *testing.T) {
	storage := &storageStub{}
	svc := NewUploadService(storage, 5, testLogger())

	pngHeader := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	file := buildFileHeader(t, "Tafelbild (Montag)!.PNG", pngHeader)

	attachment, err := svc.Upload(context.Background(), file, "user-1")
	require.NoError(t, err)
	require.Equal(t, "tafelbild--montag.png", attachment.FileName)
	require.Equal(t, "image/png", attachment.MimeType)
	require.Equal(t, int64(len(pngHeader)), attachment.SizeBytes)
	require.NotEmpty(t, attachment.Checksum)
	require.Contains(t, attachment.URL, "tafelbild")
	require.Equal(t, pngHeader, storage.uploaded.Bytes())
}

func buildFileHeader(t *testing.T, filename string, content []byte) *multipart.FileHeader {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {"form-data; name=\"file\"; filename=\"" + filename + "\""},
		"Content-Type":        {"application/octet-stream"},
	})
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	writer.Close()

	reader := multipart.NewReader(body, writer.Boundary())
	form, err := reader.ReadForm(int64(len(content) + 1024))
	require.NoError(t, err)
	files := form.File["file"]
	require.Len(t, files, 1)
	return files[0]
}
