package entity

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// GenerationParameters are passed through to the provider untouched by the
// state machine.
type GenerationParameters struct {
	Width       int      `json:"width,omitempty" validate:"omitempty,min=256,max=4096"`
	Height      int      `json:"height,omitempty" validate:"omitempty,min=256,max=4096"`
	Quality     string   `json:"quality,omitempty" validate:"omitempty,oneof=standard hd"`
	AspectRatio string   `json:"aspect_ratio,omitempty" validate:"omitempty,aspect_ratio"`
	Seed        *int64   `json:"seed,omitempty"`
	Steps       *int     `json:"steps,omitempty" validate:"omitempty,min=1,max=150"`
	CfgScale    *float64 `json:"cfg_scale,omitempty" validate:"omitempty,gte=0,lte=35"`
	Sampler     string   `json:"sampler,omitempty" validate:"omitempty,max=64"`
	Upscale     bool     `json:"upscale,omitempty"`
}

// AspectRatioValue parses "W:H" into W/H, returning 0 when absent or malformed.
func (p GenerationParameters) AspectRatioValue() float64 {
	return ParseAspectRatio(p.AspectRatio)
}

// ParseAspectRatio parses "W:H" into W/H, returning 0 when malformed.
func ParseAspectRatio(s string) float64 {
	w, h, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0
	}
	fw, err := strconv.ParseFloat(w, 64)
	if err != nil || fw <= 0 {
		return 0
	}
	fh, err := strconv.ParseFloat(h, 64)
	if err != nil || fh <= 0 {
		return 0
	}
	return fw / fh
}

// PromptData is set once prompt enhancement completes.
type PromptData struct {
	OriginalText   string         `json:"original_text"`
	EnhancedPrompt string         `json:"enhanced_prompt"`
	NegativePrompt string         `json:"negative_prompt,omitempty"`
	TargetModel    string         `json:"target_model"`
	Style          string         `json:"style,omitempty"`
	Parameters     map[string]any `json:"parameters,omitempty"`
}

// MaxSelectionContext bounds each context window of a text selection.
const MaxSelectionContext = 500

// TextSelection is the excerpt a TextSelection job illustrates.
type TextSelection struct {
	Text          string `json:"text" validate:"required,max=4000"`
	StartOffset   int    `json:"start_offset" validate:"gte=0"`
	EndOffset     int    `json:"end_offset" validate:"gtfield=StartOffset"`
	ContextBefore string `json:"context_before,omitempty"`
	ContextAfter  string `json:"context_after,omitempty"`
}

// NewTextSelection builds a selection, clipping the context windows to
// MaxSelectionContext runes on the side nearest the selection.
func NewTextSelection(text string, start, end int, before, after string) TextSelection {
	return TextSelection{
		Text:          text,
		StartOffset:   start,
		EndOffset:     end,
		ContextBefore: tailRunes(before, MaxSelectionContext),
		ContextAfter:  headRunes(after, MaxSelectionContext),
	}
}

// Passage joins the context windows and the selection.
func (s TextSelection) Passage() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{s.ContextBefore, s.Text, s.ContextAfter} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

func headRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func tailRunes(s string, n int) string {
	count := utf8.RuneCountInString(s)
	if count <= n {
		return s
	}
	return string([]rune(s)[count-n:])
}

// ImageMetadata describes a stored image.
type ImageMetadata struct {
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	FileSize     int64  `json:"file_size"`
	Format       string `json:"format"`
	StoragePath  string `json:"storage_path,omitempty"`
}
