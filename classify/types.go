package classify

// DefaultType is used when neither the payload nor the extension identifies
// the attachment.
const DefaultType = "application/octet-stream"

// Table maps a lowercase file extension (without the dot) to a MIME type.
type Table map[string]string

// Lookup returns the MIME type registered for ext.
func (t Table) Lookup(ext string) (string, bool) {
	typ, ok := t[ext]
	return typ, ok
}

// DefaultTable covers the common document, image, archive and audio/video
// formats found in mailbox exports.
var DefaultTable = Table{
	// documents
	"pdf":  "application/pdf",
	"doc":  "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"xls":  "application/vnd.ms-excel",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"ppt":  "application/vnd.ms-powerpoint",
	"pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"txt":  "text/plain",
	"rtf":  "application/rtf",
	"csv":  "text/csv",
	// images
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"bmp":  "image/bmp",
	"tiff": "image/tiff",
	"svg":  "image/svg+xml",
	// archives
	"zip": "application/zip",
	"rar": "application/x-rar-compressed",
	"7z":  "application/x-7z-compressed",
	"tar": "application/x-tar",
	"gz":  "application/gzip",
	// audio/video
	"mp3": "audio/mpeg",
	"wav": "audio/wav",
	"mp4": "video/mp4",
	"avi": "video/x-msvideo",
	"mov": "video/quicktime",
	"wmv": "video/x-ms-wmv",
}
