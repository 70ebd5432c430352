package models

import "strings"

// Modality identifies the kind of content a model generates.
type Modality string

// Modality constants define the supported generation kinds.
const (
	// ModalityText generates prose (loglines, synopses, character sheets).
	ModalityText Modality = "text"
	// ModalityImage generates still images (moodboards, concept art).
	ModalityImage Modality = "image"
	// ModalityVideo generates video clips.
	ModalityVideo Modality = "video"
	// ModalityAudio generates audio (voice, score sketches).
	ModalityAudio Modality = "audio"
)

// ParseModality normalizes a raw modality string.
func ParseModality(raw string) (Modality, bool) {
	switch Modality(strings.ToLower(strings.TrimSpace(raw))) {
	case ModalityText:
		return ModalityText, true
	case ModalityImage:
		return ModalityImage, true
	case ModalityVideo:
		return ModalityVideo, true
	case ModalityAudio:
		return ModalityAudio, true
	default:
		return "", false
	}
}

// Tier identifies a subscription level gating which fallback chain applies.
type Tier string

// Tier constants define subscription levels plus the all-tier default scope.
const (
	// TierAll scopes a chain entry to every tier as a shared default.
	TierAll Tier = "all"
	// TierTrial is the free evaluation tier.
	TierTrial Tier = "trial"
	// TierCreator is the individual creator tier.
	TierCreator Tier = "creator"
	// TierStudio is the small-studio tier.
	TierStudio Tier = "studio"
	// TierEnterprise is the enterprise tier.
	TierEnterprise Tier = "enterprise"
)

// ParseTier normalizes a raw tier string. TierAll is not a valid request tier.
func ParseTier(raw string) (Tier, bool) {
	switch Tier(strings.ToLower(strings.TrimSpace(raw))) {
	case TierTrial:
		return TierTrial, true
	case TierCreator:
		return TierCreator, true
	case TierStudio:
		return TierStudio, true
	case TierEnterprise:
		return TierEnterprise, true
	default:
		return "", false
	}
}
