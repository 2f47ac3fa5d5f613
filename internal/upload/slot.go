// Package upload implements the product and model upload slots of the
// wizard. A slot holds no business state: the preview it renders is supplied
// by the caller and a successful selection is reported through a callback.
package upload

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	_ "golang.org/x/image/webp"

	"tryon/internal/imageenc"
)

const sniffLen = 512

var (
	ErrUnsupportedType = errors.New("upload: unsupported image type")
	ErrCorruptImage    = errors.New("upload: image could not be decoded")
)

// AcceptedTypes lists the media types the file picker is filtered to.
var AcceptedTypes = []string{"image/png", "image/jpeg", "image/webp"}

// Accept renders AcceptedTypes for an <input accept> attribute.
func Accept() string {
	return strings.Join(AcceptedTypes, ", ")
}

// Slot is the static definition of one upload area. Title and Description
// are English source strings passed through the caller's translator.
type Slot struct {
	ID          string
	Name        string
	Title       string
	Description string
	Icon        string
}

var (
	ProductSlot = Slot{
		ID:          "product-uploader",
		Name:        "product",
		Title:       "Upload Fashion Product",
		Description: "PNG, JPG, or WEBP files.",
		Icon:        "product",
	}
	ModelSlot = Slot{
		ID:          "model-uploader",
		Name:        "model",
		Title:       "Upload Model",
		Description: "A clear, front-facing photo works best.",
		Icon:        "model",
	}
)

// SlotView is what the page template renders for a slot.
type SlotView struct {
	ID          string
	Name        string
	Title       string
	Description string
	Icon        string
	Accept      string
	PreviewURL  string
	HasPreview  bool
}

// View builds the presentational model. A nil or empty preview renders the
// call-to-action instead of an image.
func (s Slot) View(preview *imageenc.EncodedImage, tr func(string) string) SlotView {
	if tr == nil {
		tr = func(key string) string { return key }
	}
	v := SlotView{
		ID:          s.ID,
		Name:        s.Name,
		Title:       tr(s.Title),
		Description: tr(s.Description),
		Icon:        s.Icon,
		Accept:      Accept(),
	}
	if preview != nil && !preview.IsZero() {
		v.PreviewURL = preview.PreviewURL
		v.HasPreview = true
	}
	return v
}

// Select encodes the chosen file and reports it through onUpload exactly
// once. A nil file means the picker was dismissed and is not an error.
// On any error onUpload is not called.
func (s Slot) Select(enc *imageenc.Encoder, file io.Reader, header *multipart.FileHeader, onUpload func(imageenc.EncodedImage)) error {
	if file == nil {
		return nil
	}
	if enc == nil {
		enc = imageenc.NewEncoder(0)
	}

	br := bufio.NewReaderSize(file, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return fmt.Errorf("%w: %w", imageenc.ErrRead, err)
	}

	declared := ""
	if header != nil {
		declared = header.Header.Get("Content-Type")
	}
	mediaType, err := resolveType(declared, head)
	if err != nil {
		return err
	}

	img, err := enc.Encode(br, mediaType)
	if err != nil {
		return err
	}
	if err := verify(img); err != nil {
		return err
	}
	if onUpload != nil {
		onUpload(img)
	}
	return nil
}

// resolveType prefers the declared content type and falls back to sniffing
// when the client sent nothing useful.
func resolveType(declared string, head []byte) (string, error) {
	mediaType := ""
	if declared = strings.TrimSpace(declared); declared != "" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil {
			mediaType = mt
		}
	}
	if mediaType == "" || mediaType == imageenc.DefaultMIMEType {
		if len(head) == 0 {
			return "", imageenc.ErrEmptyFile
		}
		mediaType, _, _ = mime.ParseMediaType(http.DetectContentType(head))
	}
	if !IsAccepted(mediaType) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, mediaType)
	}
	return mediaType, nil
}

// IsAccepted reports whether mediaType is one of AcceptedTypes.
func IsAccepted(mediaType string) bool {
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	for _, t := range AcceptedTypes {
		if t == mediaType {
			return true
		}
	}
	return false
}

func verify(img imageenc.EncodedImage) error {
	raw, err := imageenc.Decode(img)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptImage, err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("%w: empty dimensions", ErrCorruptImage)
	}
	return imageenc.CheckDimensions(cfg.Width, cfg.Height)
}
