package types

// UploadStatus is the lifecycle state of a pending upload.
type UploadStatus string

const (
	UploadPending UploadStatus = "pending"
	UploadError   UploadStatus = "error"
)

// PendingUpload holds a binary blob pasted offline, awaiting a live
// connection to reach the server. Purged once the server accepts it.
type PendingUpload struct {
	Token        string       `json:"token"`
	ArticleID    string       `json:"articleId"`
	Kind         string       `json:"kind"`
	Blob         []byte       `json:"blob"`
	Mime         string       `json:"mime"`
	FileName     string       `json:"fileName"`
	Status       UploadStatus `json:"status"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
	CreatedAtMs  int64        `json:"createdAtMs"`
	UpdatedAtMs  int64        `json:"updatedAtMs"`
}
