package model

import (
	"github.com/rotisserie/eris"
)

// PayloadKind tags which member of a Payload is populated.
type PayloadKind string

const (
	PayloadAnalysis PayloadKind = "analysis"
	PayloadText     PayloadKind = "text"
	PayloadImage    PayloadKind = "image"
)

// Payload is the cached record for a key. Exactly one of Analysis, Text or
// Image is meaningful, selected by Kind.
type Payload struct {
	Kind     PayloadKind `json:"kind"`
	Provider string      `json:"provider,omitempty"`
	Analysis *Analysis   `json:"analysis,omitempty"`
	Text     string      `json:"text,omitempty"`
	Image    *ImageAsset `json:"image,omitempty"`
}

// Analysis is the structured marketing intelligence extracted for a page.
// Every field is optional; Raw keeps the unstructured source text.
type Analysis struct {
	Title      string   `json:"title,omitempty"`
	Summary    string   `json:"summary,omitempty"`
	Audience   string   `json:"audience,omitempty"`
	Tone       string   `json:"tone,omitempty"`
	ValueProps []string `json:"value_props,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
	Raw        string   `json:"raw,omitempty"`
}

// ImageAsset is a generated image, either inline bytes or a hosted URL.
type ImageAsset struct {
	URL      string `json:"url,omitempty"`
	Data     []byte `json:"data,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
}

// Validate checks that the member named by Kind is present.
func (p Payload) Validate() error {
	switch p.Kind {
	case PayloadAnalysis:
		if p.Analysis == nil {
			return eris.New("payload: analysis kind without analysis")
		}
	case PayloadText:
		if p.Text == "" {
			return eris.New("payload: text kind with empty text")
		}
	case PayloadImage:
		if p.Image == nil || (p.Image.URL == "" && len(p.Image.Data) == 0) {
			return eris.New("payload: image kind without image")
		}
	default:
		return eris.Errorf("payload: unknown kind %q", p.Kind)
	}
	return nil
}

// Content returns the payload as generation output for callers that only
// care about the produced asset.
func (p Payload) Content() GenerationOutput {
	switch p.Kind {
	case PayloadImage:
		return GenerationOutput{Image: p.Image}
	case PayloadAnalysis:
		if p.Analysis != nil {
			text := p.Analysis.Raw
			if text == "" {
				text = p.Analysis.Summary
			}
			return GenerationOutput{Text: text}
		}
	}
	return GenerationOutput{Text: p.Text}
}
