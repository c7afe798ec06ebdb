package task

import "fmt"

// Step identifies one of the six fixed pipeline stages. Persistence is always
// keyed by the string value, never by ordinal position, so inserting a future
// step cannot corrupt existing resume state.
type Step string

const (
	StepAssetGeneration     Step = "asset_generation"
	StepCompositeCreation   Step = "composite_creation"
	StepVideoGeneration     Step = "video_generation"
	StepNarrationGeneration Step = "narration_generation"
	StepSFXGeneration       Step = "sfx_generation"
	StepVideoAssembly       Step = "video_assembly"
)

// Steps returns the pipeline steps in execution order.
func Steps() []Step {
	return []Step{
		StepAssetGeneration,
		StepCompositeCreation,
		StepVideoGeneration,
		StepNarrationGeneration,
		StepSFXGeneration,
		StepVideoAssembly,
	}
}

// StatusTriple is the immutable status mapping for one step.
type StatusTriple struct {
	InProgress Status
	Ready      Status
	Error      Status
}

// stepStatuses maps every step to its status triple. Narration and SFX share
// audio_error: both surface to the operator as the audio stage failing.
var stepStatuses = map[Step]StatusTriple{
	StepAssetGeneration:     {StatusGeneratingAssets, StatusAssetsReady, StatusAssetsError},
	StepCompositeCreation:   {StatusGeneratingComposites, StatusCompositesReady, StatusCompositesError},
	StepVideoGeneration:     {StatusGeneratingVideo, StatusVideoReady, StatusVideoError},
	StepNarrationGeneration: {StatusGeneratingNarration, StatusAudioReady, StatusAudioError},
	StepSFXGeneration:       {StatusGeneratingSFX, StatusSFXReady, StatusAudioError},
	StepVideoAssembly:       {StatusAssemblingVideo, StatusFinalReview, StatusAssemblyError},
}

// StatusesFor returns the status triple for a step.
func StatusesFor(s Step) (StatusTriple, error) {
	t, ok := stepStatuses[s]
	if !ok {
		return StatusTriple{}, fmt.Errorf("no status mapping for step %q", s)
	}
	return t, nil
}

// KnownStep reports whether the string identifies a current pipeline step.
// Used when deserializing persisted completion metadata that may contain
// keys from future (or removed) steps.
func KnownStep(id string) bool {
	_, ok := stepStatuses[Step(id)]
	return ok
}

// ValidateStepTables verifies that every step has a complete status mapping
// and that the mapping table covers exactly the ordered step list. The gate
// set and the status tables are separate hardcoded business decisions; this
// check runs at startup so a future step added to one table but not the
// other fails fast instead of defaulting silently.
func ValidateStepTables() error {
	for _, s := range Steps() {
		t, ok := stepStatuses[s]
		if !ok {
			return fmt.Errorf("step %q has no status mapping", s)
		}
		if t.InProgress == "" || t.Ready == "" || t.Error == "" {
			return fmt.Errorf("step %q has an incomplete status mapping", s)
		}
	}
	if len(stepStatuses) != len(Steps()) {
		return fmt.Errorf("status table has %d entries for %d steps", len(stepStatuses), len(Steps()))
	}
	return nil
}
