package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

const (
	mimeJPEG = "image/jpeg"
	mimePNG  = "image/png"
	mimeHEIC = "image/heic"
	mimeHEIF = "image/heif"
	mimePDF  = "application/pdf"
)

// ContentTypeFor returns the normalized MIME type of an upload, falling back
// to the file extension when the declared type is missing or generic.
func ContentTypeFor(filename, declared string) string {
	mimeType := strings.ToLower(strings.TrimSpace(declared))
	if i := strings.IndexByte(mimeType, ';'); i != -1 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "image/jpg" || mimeType == "image/pjpeg" {
		mimeType = mimeJPEG
	}
	if mimeType != "" && mimeType != "application/octet-stream" {
		return mimeType
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return mimeJPEG
	case ".png":
		return mimePNG
	case ".heic":
		return mimeHEIC
	case ".heif":
		return mimeHEIF
	case ".pdf":
		return mimePDF
	}
	return "application/octet-stream"
}

// Accepts reports whether an upload of this MIME type can be processed.
// JPEG and PNG are always accepted; HEIC, HEIF and PDF only when extended
// formats are enabled.
func Accepts(mimeType string, extended bool) bool {
	switch mimeType {
	case mimeJPEG, mimePNG:
		return true
	case mimeHEIC, mimeHEIF, mimePDF:
		return extended
	}
	return false
}

// AcceptedExtensions lists the file extensions matching Accepts
func AcceptedExtensions(extended bool) []string {
	exts := []string{".jpg", ".jpeg", ".png"}
	if extended {
		exts = append(exts, ".heic", ".heif", ".pdf")
	}
	return exts
}

func extensionFor(mimeType string) string {
	if mimeType == mimeJPEG {
		return ".jpg"
	}
	return ".png"
}

// pdfToImage renders the first page of a PDF as PNG
func pdfToImage(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// imageToPNG decodes HEIC or any registered image format and re-encodes it as PNG
func imageToPNG(imageData []byte, mimeType string) ([]byte, error) {
	var (
		img image.Image
		err error
	)

	if isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		img, err = heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding image: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEICFormat checks for an ftyp box with a HEIC/HEIF brand
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMimeType(mimeType string) bool {
	return mimeType == mimeHEIC || mimeType == mimeHEIF
}

// prepareImageData returns image bytes every provider can read: JPEG and PNG
// pass through untouched, everything else is converted to PNG.
func prepareImageData(imageData []byte, contentType string) ([]byte, string, error) {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if mimeType == "" {
		mimeType = mimeJPEG
	}

	switch {
	case mimeType == mimePDF:
		data, err := pdfToImage(imageData)
		if err != nil {
			return nil, "", fmt.Errorf("converting PDF to image: %w", err)
		}
		return data, mimePNG, nil
	case isHEICFormat(imageData) || isHEICMimeType(mimeType):
		data, err := imageToPNG(imageData, mimeType)
		if err != nil {
			return nil, "", fmt.Errorf("converting image to PNG: %w", err)
		}
		return data, mimePNG, nil
	case mimeType == mimeJPEG || mimeType == mimePNG:
		return imageData, mimeType, nil
	default:
		data, err := imageToPNG(imageData, mimeType)
		if err != nil {
			return nil, "", fmt.Errorf("converting image to PNG: %w", err)
		}
		return data, mimePNG, nil
	}
}
