package chunk

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/prappser/prappser_uploads/internal/apperror"
)

const maxFileNameLength = 255

// Leading dots are reserved for temporary and trash entries.
var sessionIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9._-]{0,199}$`)

func ValidateSessionID(sessionID string) error {
	if !sessionIDRegex.MatchString(sessionID) {
		return fmt.Errorf("%w: session id %q", apperror.ErrInvalidIdentifier, sessionID)
	}
	return nil
}

// ValidateFileName checks that name can be used as a single path component
// under the uploads root.
func ValidateFileName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty file name", apperror.ErrInvalidIdentifier)
	case len(name) > maxFileNameLength:
		return fmt.Errorf("%w: file name longer than %d bytes", apperror.ErrInvalidIdentifier, maxFileNameLength)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: file name %q", apperror.ErrInvalidIdentifier, name)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: file name %q contains a path separator", apperror.ErrInvalidIdentifier, name)
	case strings.IndexFunc(name, unicode.IsControl) >= 0:
		return fmt.Errorf("%w: file name %q contains a control character", apperror.ErrInvalidIdentifier, name)
	}
	return nil
}

func ValidateIndex(index int) error {
	if index < 1 {
		return fmt.Errorf("%w: chunk index %d", apperror.ErrInvalidIdentifier, index)
	}
	return nil
}

func chunkFileName(index int) string {
	return fmt.Sprintf("%06d%s", index, chunkFileSuffix)
}
