package domain

// Document is the metadata half of an uploaded file; URL points at the blob.
type Document struct {
	ID           string `json:"id"`
	URL          string `json:"url"`
	OriginalName string `json:"originalName"`
	UploadedAt   int64  `json:"uploadedAt"`
}
