package main

import (
	"fmt"
	"io"

	"github.com/BurntSushi/toml"

	"github.com/sealbox/backend/internal/config"
	"github.com/sealbox/backend/internal/envelope"
	"github.com/sealbox/backend/internal/wire"
)

// statusError turns an operation result into a user-facing error, or nil
// on success.
func statusError(op string, status int32, err error) error {
	if err != nil {
		return fmt.Errorf("%s failed: %s (code %d): %w", op, engineMessage(envelope.Code(err)), envelope.Code(err), err)
	}
	if status == wire.StatusOK {
		return nil
	}
	return fmt.Errorf("%s refused by server: %s (status %d)", op, peerMessage(op, status), status)
}

func engineMessage(code int32) string {
	switch code {
	case envelope.CodeAuthentication:
		return "wrong password or corrupted file"
	case envelope.CodeCrypto:
		return "decryption failed"
	case envelope.CodeShare:
		return "invalid share key"
	case envelope.CodeTransport:
		return "connection or file I/O error"
	case envelope.CodeFormat:
		return "unsupported file format"
	case envelope.CodeDeclaredSize:
		return "file size out of range"
	default:
		return "unexpected error"
	}
}

func peerMessage(op string, status int32) string {
	switch op {
	case "upload":
		switch status {
		case wire.UploadExists:
			return "a file with this name already exists"
		case wire.UploadNameTooShort:
			return "invalid file name"
		case wire.UploadInProgress:
			return "an upload with this name is in progress"
		case wire.UploadQuota:
			return "storage quota exceeded"
		case wire.UploadTooSmall:
			return "file too small"
		case wire.UploadTooLarge:
			return "file too large"
		}
	case "download":
		switch status {
		case wire.DownloadNotFound:
			return "file not found"
		case wire.DownloadNameTooShort:
			return "invalid file name"
		}
	case "share", "unshare", "share-info", "fetch-share":
		switch status {
		case wire.ShareNotFound:
			return "file not found"
		case wire.ShareIDTooShort:
			if op == "share" || op == "unshare" {
				return "invalid file name"
			}
			return "share id too short"
		case wire.ShareExists:
			if op == "unshare" {
				return "file is not shared"
			}
			return "file is already shared"
		case wire.ShareNoSuchID:
			return "no share with this id"
		case wire.ShareBadIDFormat:
			return "malformed share id"
		case wire.ShareNotCompleted:
			return "shared file is not complete"
		}
	}
	return "unknown status"
}

func printConfig(w io.Writer, cfg *config.Config) error {
	return toml.NewEncoder(w).Encode(cfg)
}
