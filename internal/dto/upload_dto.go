package dto

// AttachmentResponse describes a stored chat attachment. The client includes
// these fields in a subsequent FILE or VOICE message.
type AttachmentResponse struct {
	URL       string `json:"url"`
	FileName  string `json:"file_name"`
	SizeBytes int64  `json:"size_bytes"`
	MimeType  string `json:"mime_type"`
	Checksum  string `json:"checksum"`
}
