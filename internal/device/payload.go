package device

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
)

// MassDataType is the resource kind of a mass transfer.
type MassDataType uint8

const (
	MassWatchface        MassDataType = 16
	MassFirmware         MassDataType = 32
	MassNotificationIcon MassDataType = 50
	MassThirdpartyApp    MassDataType = 64
)

// ParseMassDataType validates a host-supplied resource kind.
func ParseMassDataType(v uint8) (MassDataType, error) {
	switch t := MassDataType(v); t {
	case MassWatchface, MassFirmware, MassNotificationIcon, MassThirdpartyApp:
		return t, nil
	}
	return 0, fmt.Errorf("unsupported mass data type: %d", v)
}

func (t MassDataType) String() string {
	switch t {
	case MassWatchface:
		return "watchface"
	case MassFirmware:
		return "firmware"
	case MassNotificationIcon:
		return "notification icon"
	case MassThirdpartyApp:
		return "thirdparty app"
	}
	return fmt.Sprintf("MassDataType(%d)", uint8(t))
}

// FileType is the sniffed kind of an install payload.
type FileType uint8

const (
	FileUnknown FileType = iota
	FileWatchface
	FileZip
	FileAbp
	FileThirdpartyApp
)

func (f FileType) String() string {
	switch f {
	case FileWatchface:
		return "watchface"
	case FileZip:
		return "zip"
	case FileAbp:
		return "abp"
	case FileThirdpartyApp:
		return "thirdparty app"
	}
	return "unknown"
}

// MassDataType returns the resource kind a payload of this file type is
// installed as.  ok is false for kinds that cannot be installed directly.
func (f FileType) MassDataType() (MassDataType, bool) {
	switch f {
	case FileWatchface:
		return MassWatchface, true
	case FileThirdpartyApp:
		return MassThirdpartyApp, true
	}
	return 0, false
}

var (
	zipMagic       = []byte{'P', 'K', 0x03, 0x04}
	watchfaceMagic = []byte{0x5A, 0xA5, 0x34, 0x12}
)

// ClassifyPayload sniffs the payload's magic bytes.  A zip container is
// ambiguous, so filename's extension refines it.
func ClassifyPayload(data []byte, filename string) FileType {
	switch {
	case bytes.HasPrefix(data, watchfaceMagic):
		return FileWatchface
	case bytes.HasPrefix(data, zipMagic):
		switch strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), ".")) {
		case "abp":
			return FileAbp
		case "rpk":
			return FileThirdpartyApp
		}
		return FileZip
	}
	return FileUnknown
}
