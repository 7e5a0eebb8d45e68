package validation

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

var (
	ErrInvalidPath     = errors.New("invalid file path")
	ErrPathNotExists   = errors.New("path does not exist")
	ErrInvalidAddr     = errors.New("invalid address")
	ErrEmptyString     = errors.New("value must not be empty")
	ErrOutOfRange      = errors.New("value out of range")
	ErrInvalidShareKey = errors.New("share key must be 64 lowercase hex characters")
	ErrInvalidShareID  = errors.New("share id must be 32 hex characters")
	ErrInvalidPassword = errors.New("password must be 20 to 64 characters")
	ErrInvalidRemote   = errors.New("invalid remote path")
)

// Password length bounds, in characters.
const (
	MinPasswordLen = 20
	MaxPasswordLen = 64
)

// maxUTFLen is the largest string the wire UTF encoding can carry.
const maxUTFLen = 65535

func ValidateFilePath(p string, mustExist bool) error {
	if p == "" {
		return ErrInvalidPath
	}
	if !filepath.IsAbs(p) {
		p = filepath.Clean(p)
	}
	if mustExist {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%w: %v", ErrPathNotExists, err)
		}
	}
	return nil
}

// ValidateAddr checks a host:port pair. Hosts are not resolved, so UDP
// (QUIC) and TCP listeners validate the same way.
func ValidateAddr(addr string) error {
	if addr == "" {
		return ErrInvalidAddr
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddr, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("%w: bad port %q", ErrInvalidAddr, port)
	}
	return nil
}

func ValidateStringNonEmpty(s string) error {
	if s == "" {
		return ErrEmptyString
	}
	return nil
}

func ValidateRangeInt(v, min, max int) error {
	if v < min || v > max {
		return fmt.Errorf("%w: %d not in [%d,%d]", ErrOutOfRange, v, min, max)
	}
	return nil
}

// ValidateShareKey accepts exactly 64 lowercase hex characters (a raw AES-256 key).
func ValidateShareKey(key string) error {
	if len(key) != 64 {
		return ErrInvalidShareKey
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return ErrInvalidShareKey
		}
	}
	return nil
}

// ValidateShareID accepts the 32-character hex form of a UUID as minted by the peer.
func ValidateShareID(id string) error {
	if len(id) != 32 {
		return ErrInvalidShareID
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidShareID, err)
	}
	return nil
}

// ValidatePassword checks the master password length in characters.
func ValidatePassword(pw []byte) error {
	n := utf8.RuneCount(pw)
	if n < MinPasswordLen || n > MaxPasswordLen {
		return fmt.Errorf("%w: got %d", ErrInvalidPassword, n)
	}
	return nil
}

// ValidateRemotePath checks a peer-side object path: slash separated,
// no empty, "." or ".." segments, and short enough for a wire UTF string.
func ValidateRemotePath(p string) error {
	if p == "" || len(p) > maxUTFLen || !utf8.ValidString(p) {
		return ErrInvalidRemote
	}
	if strings.ContainsRune(p, 0) {
		return fmt.Errorf("%w: contains NUL", ErrInvalidRemote)
	}
	trimmed := strings.TrimPrefix(p, "/")
	for _, seg := range strings.Split(trimmed, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: bad segment in %q", ErrInvalidRemote, p)
		}
	}
	if path.Clean("/"+trimmed) != "/"+trimmed {
		return fmt.Errorf("%w: not clean", ErrInvalidRemote)
	}
	return nil
}
