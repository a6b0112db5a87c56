package logfields

import "go.uber.org/zap"

// Canonical log field names shared across packages.
const (
	KeyJobID      = "job_id"
	KeyJobStatus  = "job_status"
	KeyRow        = "row"
	KeySlug       = "slug"
	KeyPath       = "path"
	KeyGeoLevel   = "geo_level"
	KeyAction     = "action"
	KeyTemplateID = "template_id"
	KeyVariable   = "variable"
	KeyDurationMS = "duration_ms"
	KeyMethod     = "method"
	KeyURI        = "uri"
	KeyStatus     = "status"
	KeyRemoteAddr = "remote_addr"
	KeyURL        = "url"
	KeySubject    = "subject"
	KeyError      = "error"
)

func JobID(id string) zap.Field        { return zap.String(KeyJobID, id) }
func JobStatus(s string) zap.Field     { return zap.String(KeyJobStatus, s) }
func Row(i int) zap.Field              { return zap.Int(KeyRow, i) }
func Slug(s string) zap.Field          { return zap.String(KeySlug, s) }
func Path(p string) zap.Field          { return zap.String(KeyPath, p) }
func GeoLevel(l string) zap.Field      { return zap.String(KeyGeoLevel, l) }
func Action(a string) zap.Field        { return zap.String(KeyAction, a) }
func TemplateID(id string) zap.Field   { return zap.String(KeyTemplateID, id) }
func Variable(name string) zap.Field   { return zap.String(KeyVariable, name) }
func DurationMS(ms float64) zap.Field  { return zap.Float64(KeyDurationMS, ms) }
func Method(m string) zap.Field        { return zap.String(KeyMethod, m) }
func URI(u string) zap.Field           { return zap.String(KeyURI, u) }
func Status(code int) zap.Field        { return zap.Int(KeyStatus, code) }
func RemoteAddr(addr string) zap.Field { return zap.String(KeyRemoteAddr, addr) }
func URL(u string) zap.Field           { return zap.String(KeyURL, u) }
func Subject(s string) zap.Field       { return zap.String(KeySubject, s) }

// Error always emits the error key, empty for a nil error.
func Error(err error) zap.Field {
	if err == nil {
		return zap.String(KeyError, "")
	}
	return zap.String(KeyError, err.Error())
}
