package audio

const (
	DefaultInSampleRate  = 16000
	DefaultOutSampleRate = 24000
	DefaultFormat        = "linear16"
)

type Format string

const (
	FormatMulaw    Format = "mulaw"
	FormatALaw     Format = "alaw"
	FormatLinear16 Format = "linear16"
)

func (f Format) Name() string { return string(f) }

func (f Format) ByteSize() int {
	switch f {
	case FormatMulaw, FormatALaw:
		return 1
	case FormatLinear16:
		return 2
	}
	return -1
}

// EncodingInfo describes the PCM encoding a transport or service
// produces or expects.
type EncodingInfo struct {
	SampleRate  int
	NumChannels int
	Format      Format
}

func DefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{
		SampleRate:  DefaultInSampleRate,
		NumChannels: 1,
		Format:      Format(DefaultFormat),
	}
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

func (e EncodingInfo) SilenceValue() byte {
	switch e.Format {
	case FormatALaw:
		return 0x55
	case FormatMulaw:
		return 0xFF
	}
	return 0
}
