package core

import (
	"context"
	"os"
	"path/filepath"

	"wearbridge/internal/device"
)

// Classification is the record printed by ClassifyMode.
type Classification struct {
	File     string `json:"file"`
	Type     string `json:"type"`
	Resource uint8  `json:"resource,omitempty"` // install resource kind, if any
	Size     int    `json:"size"`
}

// ClassifyMode inspects a payload file.
type ClassifyMode struct {
	Path string
	Out  Printer

	// ReadFile defaults to os.ReadFile.
	ReadFile func(string) ([]byte, error)
}

// Run reads the file and prints its payload type.
func (m *ClassifyMode) Run(context.Context) error {
	read := m.ReadFile
	if read == nil {
		read = os.ReadFile
	}
	data, err := read(m.Path)
	if err != nil {
		return err
	}
	ft := device.ClassifyPayload(data, filepath.Base(m.Path))
	c := Classification{File: m.Path, Type: ft.String(), Size: len(data)}
	if kind, ok := ft.MassDataType(); ok {
		c.Resource = uint8(kind)
	}
	return m.Out.Print("file", c)
}
