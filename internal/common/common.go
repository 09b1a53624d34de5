package common

// Shared constants to enforce DRY and avoid magic strings/numbers.

// HTTP headers and content types
const (
	HeaderContentType        = "Content-Type"
	HeaderContentDisposition = "Content-Disposition"
	HeaderAuthorization      = "Authorization"
	ContentTypeJSON          = "application/json"
	ContentTypeHTML          = "text/html; charset=utf-8"
	ContentTypeOctetStream   = "application/octet-stream"
)

// Conversion service contract
const (
	PathUploadSchedule = "/upload-schedule"
	FormFieldImage     = "image"
)

// Calendar download
const (
	CalendarFilename  = "schedule.ics"
	MediaTypeCalendar = "text/calendar"
)

// Web front-end paths
const (
	PathHealthz = "/healthz"
	PathIndex   = "/"
	PathSelect  = "/select"
	PathPreview = "/preview"
	PathConvert = "/convert"
)

// Session cookie
const (
	SessionCookieName = "schedule2cal_session"
)

// MIME types
const (
	MimeImagePNG  = "image/png"
	MimeImageJPEG = "image/jpeg"
	MimeImageJPG  = "image/jpg"
	MimeImageGIF  = "image/gif"
	MimeImageWEBP = "image/webp"
	MimeImageBMP  = "image/bmp"
	MimeImageTIFF = "image/tiff"
)

// Subdirectory names
const (
	PreviewsDirName = "previews"
)

// Environment variables
const (
	EnvConfigPath = "SCHEDULE2CAL_CONFIG"
	EnvBackendURL = "SCHEDULE2CAL_BACKEND_URL"
	EnvLogLevel   = "SCHEDULE2CAL_LOG_LEVEL"
)

// Attempt outcomes recorded in history
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeNoInput   = "no_input"
)
