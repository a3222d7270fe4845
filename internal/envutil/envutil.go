package envutil

import (
	"os"
	"strings"
)

// IsDev reports whether authbridge runs in local development mode,
// where cookies are issued without the Secure attribute.
func IsDev() bool {
	env := strings.ToLower(os.Getenv("AUTHBRIDGE_ENV"))
	return env == "development" || env == "dev"
}
