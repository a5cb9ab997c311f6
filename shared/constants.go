package shared

const (
	SETTING_SELECTED_RECITER     = "selected_reciter"
	SETTING_PLAYBACK_MODE        = "playback_mode"
	SETTING_REPEAT_LIMIT         = "repeat_limit"
	SETTING_ONBOARDING_COMPLETED = "onboarding_completed"

	STREAM_PLAYBACK  = "playback"
	STREAM_DOWNLOADS = "downloads"

	DEFAULT_LOCALE = "ar"
)
