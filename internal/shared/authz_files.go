package shared

// File storage permissions.
const (
	PermFilesView   = "files:view"
	PermFilesUpload = "files:upload"
	PermFilesDelete = "files:delete"
)

// FileScopes returns file storage permissions.
func FileScopes() []string {
	return []string{PermFilesView, PermFilesUpload, PermFilesDelete}
}
