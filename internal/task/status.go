package task

// Status is the lifecycle state of a task. The set is closed: the
// orchestrator owns every transition except the approval and manual-reset
// actions performed by external actors.
type Status string

const (
	StatusQueued Status = "queued"

	StatusGeneratingAssets Status = "generating_assets"
	StatusAssetsReady      Status = "assets_ready"
	StatusAssetsApproved   Status = "assets_approved"
	StatusAssetsError      Status = "assets_error"

	StatusGeneratingComposites Status = "generating_composites"
	StatusCompositesReady      Status = "composites_ready"
	StatusCompositesError      Status = "composites_error"

	StatusGeneratingVideo Status = "generating_video"
	StatusVideoReady      Status = "video_ready"
	StatusVideoApproved   Status = "video_approved"
	StatusVideoError      Status = "video_error"

	StatusGeneratingNarration Status = "generating_narration"
	StatusAudioReady          Status = "audio_ready"
	StatusAudioApproved       Status = "audio_approved"
	StatusAudioError          Status = "audio_error"

	StatusGeneratingSFX Status = "generating_sfx"
	StatusSFXReady      Status = "sfx_ready"

	StatusAssemblingVideo Status = "assembling_video"
	StatusAssemblyError   Status = "assembly_error"

	StatusFinalReview Status = "final_review"
	StatusApproved    Status = "approved"
	StatusPublished   Status = "published"
)

// reviewGates are the ready statuses that require human approval before the
// pipeline may proceed. Membership is a static business decision: four of the
// six steps gate, composites and SFX auto-proceed.
var reviewGates = map[Status]bool{
	StatusAssetsReady: true,
	StatusVideoReady:  true,
	StatusAudioReady:  true,
	StatusFinalReview: true,
}

// IsReviewGate reports whether a ready status halts the pipeline for review.
func IsReviewGate(s Status) bool {
	return reviewGates[s]
}

// Claimable statuses are the states a worker may claim a task from: fresh,
// post-approval, a non-gate ready state left behind by a shutdown, or an
// in-progress state abandoned by a crashed worker (made visible again once
// its stale claim is released). Error states are excluded; they require a
// manual reset to queued.
var claimable = map[Status]bool{
	StatusQueued:               true,
	StatusAssetsApproved:       true,
	StatusVideoApproved:        true,
	StatusAudioApproved:        true,
	StatusCompositesReady:      true,
	StatusSFXReady:             true,
	StatusGeneratingAssets:     true,
	StatusGeneratingComposites: true,
	StatusGeneratingVideo:      true,
	StatusGeneratingNarration:  true,
	StatusGeneratingSFX:        true,
	StatusAssemblingVideo:      true,
}

// IsClaimable reports whether a worker may claim a task in this status.
func IsClaimable(s Status) bool {
	return claimable[s]
}

// ClaimableStatuses returns the claimable set in a stable order, for use in
// SQL IN clauses.
func ClaimableStatuses() []Status {
	return []Status{
		StatusQueued,
		StatusAssetsApproved,
		StatusVideoApproved,
		StatusAudioApproved,
		StatusCompositesReady,
		StatusSFXReady,
		StatusGeneratingAssets,
		StatusGeneratingComposites,
		StatusGeneratingVideo,
		StatusGeneratingNarration,
		StatusGeneratingSFX,
		StatusAssemblingVideo,
	}
}

var terminal = map[Status]bool{
	StatusApproved:  true,
	StatusPublished: true,
}

// IsTerminal reports whether no further pipeline work is possible.
func IsTerminal(s Status) bool {
	return terminal[s]
}
