package storage

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/webp"
)

// ImageInfo is what ReadImageInfo learns about a file on disk.
type ImageInfo struct {
	Width    int
	Height   int
	Format   string
	FileSize int64
}

// ReadImageInfo decodes only the header of an image file.
func ReadImageInfo(filePath string) (*ImageInfo, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filePath, err)
	}
	return &ImageInfo{
		Width:    cfg.Width,
		Height:   cfg.Height,
		Format:   format,
		FileSize: stat.Size(),
	}, nil
}
