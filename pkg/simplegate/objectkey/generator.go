package objectkey

import (
	"strconv"
	"strings"
	"time"
	"unicode"
)

// DefaultPrefix is the directory uploads are stored under.
const DefaultPrefix = "uploads"

// Generator defines the interface for object key generation strategies
type Generator interface {
	// GenerateKey creates an object key for a file uploaded at the given time
	GenerateKey(fileName string, uploadedAt time.Time) string
}

// TimestampGenerator produces <prefix>/<unix-ms>-<filename>
type TimestampGenerator struct {
	Prefix string
}

func NewTimestampGenerator() *TimestampGenerator {
	return &TimestampGenerator{Prefix: DefaultPrefix}
}

func (g *TimestampGenerator) GenerateKey(fileName string, uploadedAt time.Time) string {
	prefix := strings.Trim(g.Prefix, "/")
	name := strconv.FormatInt(uploadedAt.UnixMilli(), 10) + "-" + sanitizeFilename(fileName)
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// FuncGenerator allows callers to provide their own key generation function
type FuncGenerator func(fileName string, uploadedAt time.Time) string

func (f FuncGenerator) GenerateKey(fileName string, uploadedAt time.Time) string {
	return f(fileName, uploadedAt)
}

// sanitizeFilename keeps the name as uploaded except for path separators and
// control characters, so a key never escapes its prefix.
func sanitizeFilename(filename string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '_'
		case unicode.IsControl(r):
			return -1
		default:
			return r
		}
	}, filename)

	if cleaned == "" || cleaned == "." || cleaned == ".." {
		return "file"
	}
	return cleaned
}

// NewRecommendedGenerator returns the generator used for new installations
func NewRecommendedGenerator() Generator {
	return NewTimestampGenerator()
}
