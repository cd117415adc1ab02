package domain

type ExtractMode string

const (
	ExtractCopy    ExtractMode = "copy"
	ExtractMP3Best ExtractMode = "mp3_best"
	ExtractMP3High ExtractMode = "mp3_high"
	ExtractOpus    ExtractMode = "opus"
)

// Valid reports whether the mode is one of the recognized values.
func (m ExtractMode) Valid() bool {
	switch m {
	case ExtractCopy, ExtractMP3Best, ExtractMP3High, ExtractOpus:
		return true
	default:
		return false
	}
}

// AudioExt returns the target audio extension for the mode, dot included.
func (m ExtractMode) AudioExt() string {
	switch m {
	case ExtractMP3Best, ExtractMP3High:
		return ".mp3"
	case ExtractOpus:
		return ".opus"
	default:
		return ".m4a"
	}
}
