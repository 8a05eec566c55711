package envelope

import "errors"

var errAuthMismatch = errors.New("envelope: authentication tag mismatch")
