package tangguh

// Version is the library semantic version, sent to the server in the
// X-Client-Version header on every call.
const Version = "v0.4.0"

// GetVersion returns the version string for banners and logs.
func GetVersion() string {
	return "tangguh " + Version
}
