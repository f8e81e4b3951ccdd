package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// MaxSourceSize limits script files to 32MB
const MaxSourceSize = 32 * 1024 * 1024

var (
	ErrBinary   = errors.New("not a text file")
	ErrTooLarge = errors.New("source too large")
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// Source is a decoded script file.
type Source struct {
	Path    string
	Name    string
	Text    string
	Charset string
	MIME    string
}

// Read loads the script at path and decodes it to UTF-8.
func Read(path string) (*Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > MaxSourceSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, path, info.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	src, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	src.Path = path
	src.Name = filepath.Base(path)
	return src, nil
}

// Decode sniffs data and converts it to UTF-8 text.
func Decode(data []byte) (*Source, error) {
	mtype := mimetype.Detect(data)
	if !IsText(mtype) {
		return nil, fmt.Errorf("%w: detected %s", ErrBinary, mtype.String())
	}

	name, enc := DetectCharset(data)
	r := transform.NewReader(bytes.NewReader(data), unicode.BOMOverride(enc.NewDecoder()))
	text, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return &Source{Text: string(text), Charset: name, MIME: mtype.String()}, nil
}

// IsText reports whether mtype is a text type or descends from text/plain.
func IsText(mtype *mimetype.MIME) bool {
	for m := mtype; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "text/") || m.Is("text/plain") {
			return true
		}
	}
	return false
}

// DetectCharset returns the canonical charset name of data and its decoder.
func DetectCharset(data []byte) (string, encoding.Encoding) {
	switch {
	case bytes.HasPrefix(data, bomUTF8):
		return "utf-8", unicode.UTF8
	case bytes.HasPrefix(data, bomUTF16LE):
		return "utf-16le", unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)
	case bytes.HasPrefix(data, bomUTF16BE):
		return "utf-16be", unicode.UTF16(unicode.BigEndian, unicode.UseBOM)
	}
	if utf8.Valid(data) {
		return "utf-8", unicode.UTF8
	}

	detector := chardet.NewTextDetector()
	result, err := detector.DetectBest(data)
	if err == nil && result != nil {
		if enc, name := charset.Lookup(strings.ToLower(result.Charset)); enc != nil {
			return name, enc
		}
	}
	return "windows-1252", charmap.Windows1252
}
