package model

// PageInput is one screenshot of the user's workflow. Image carries the raw bytes of an
// uploaded file; FileRef points at a readable copy instead (local path or gs:// URI).
// Either may be empty when OCRText alone describes the page.
type PageInput struct {
	Name     string `json:"name"`
	Index    int    `json:"index"`
	Filename string `json:"filename,omitempty"`
	FileRef  string `json:"fileRef,omitempty"`
	OCRText  string `json:"ocrText,omitempty"`
	MIMEType string `json:"mimeType,omitempty"`
	Image    []byte `json:"-"`
}

// HasImage reports whether the page carries, or points at, an image.
func (p PageInput) HasImage() bool {
	return len(p.Image) > 0 || p.FileRef != ""
}

// ElementCorrection is a user-supplied label for a UI element the OCR pass misread.
type ElementCorrection struct {
	PageIndex    int    `json:"pageIndex"`
	DetectedText string `json:"detectedText"`
	Label        string `json:"label"`
	ElementType  string `json:"elementType,omitempty"`
}

// GenerationRequest is the pipeline input. Pages are ordered by Index; that order is the
// user's journey through the application.
type GenerationRequest struct {
	Pages           []PageInput         `json:"pages" binding:"required"`
	ForceRegenerate bool                `json:"forceRegenerate"`
	Corrections     []ElementCorrection `json:"corrections,omitempty"`
}

// PageNames returns the page names in sequence order.
func (r *GenerationRequest) PageNames() []string {
	names := make([]string, len(r.Pages))
	for i, p := range r.Pages {
		names[i] = p.Name
	}
	return names
}
