package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strconv"

	"screentest-backend/internal/model"
)

// Fingerprint derives the cache key of a request: a sha256 hex digest over the ordered
// page identifiers, their content identity and the corrections. Raw image bytes are never
// hashed; an image is identified by its reference, or by filename and size for uploads.
//
// Pages must already be in sequence order. ForceRegenerate is not part of the key.
func Fingerprint(pages []model.PageInput, corrections []model.ElementCorrection) string {
	h := sha256.New()

	writeField(h, "pages")
	writeInt(h, len(pages))
	for _, p := range pages {
		writeInt(h, p.Index)
		writeField(h, pageIdentifier(p))
		writeField(h, p.OCRText)
		writeField(h, imageIdentity(p))
	}

	writeField(h, "corrections")
	writeInt(h, len(corrections))
	for _, c := range corrections {
		writeInt(h, c.PageIndex)
		writeField(h, c.DetectedText)
		writeField(h, c.Label)
		writeField(h, c.ElementType)
	}

	return hex.EncodeToString(h.Sum(nil))
}

func pageIdentifier(p model.PageInput) string {
	if p.Name != "" {
		return p.Name
	}
	return p.Filename
}

func imageIdentity(p model.PageInput) string {
	switch {
	case p.FileRef != "":
		return "ref:" + p.FileRef
	case len(p.Image) > 0:
		return "upload:" + p.Filename + ":" + strconv.Itoa(len(p.Image))
	default:
		return ""
	}
}

// writeField length-prefixes every value so that adjacent fields cannot run together.
func writeField(h hash.Hash, s string) {
	h.Write([]byte(strconv.Itoa(len(s))))
	h.Write([]byte{':'})
	h.Write([]byte(s))
	h.Write([]byte{0})
}

func writeInt(h hash.Hash, n int) {
	writeField(h, strconv.Itoa(n))
}
