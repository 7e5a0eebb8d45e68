package wire

import "fmt"

// Opcode selects the request type. It is the first byte of every request.
type Opcode byte

const (
	OpDisconnect    Opcode = 0x00
	OpUpload        Opcode = 0x10
	OpDownload      Opcode = 0x11
	OpDownloadShare Opcode = 0x12
	OpMakeShare     Opcode = 0x30
	OpRemoveShare   Opcode = 0x31
	OpGetShare      Opcode = 0x32
)

func (o Opcode) String() string {
	switch o {
	case OpDisconnect:
		return "disconnect"
	case OpUpload:
		return "upload"
	case OpDownload:
		return "download"
	case OpDownloadShare:
		return "download_share"
	case OpMakeShare:
		return "make_share"
	case OpRemoveShare:
		return "remove_share"
	case OpGetShare:
		return "get_share"
	default:
		return fmt.Sprintf("opcode(0x%02x)", byte(o))
	}
}

// Peer reply codes. 0 always means "proceed"; the rest are per request type.
const (
	StatusOK int32 = 0

	// Upload
	UploadExists       int32 = 1
	UploadNameTooShort int32 = 3
	UploadInProgress   int32 = 4
	UploadQuota        int32 = 5
	UploadTooSmall     int32 = 6
	UploadTooLarge     int32 = 7

	// Download
	DownloadNotFound     int32 = 2
	DownloadNameTooShort int32 = 3

	// Shares
	ShareNotFound     int32 = 2
	ShareIDTooShort   int32 = 3
	ShareExists       int32 = 4
	ShareNoSuchID     int32 = 5
	ShareBadIDFormat  int32 = 6
	ShareNotCompleted int32 = 7
)
