package audio

// Audio interface subclass codes.
const (
	SubclassUndefined      = 0x00
	SubclassAudioControl   = 0x01
	SubclassAudioStreaming = 0x02
	SubclassMIDIStreaming  = 0x03
)

// ADCVersion is the Audio Device Class release implemented (1.0, BCD).
const ADCVersion = 0x0100

// Class-specific AudioControl interface descriptor subtypes.
const (
	ACHeader         = 0x01
	ACInputTerminal  = 0x02
	ACOutputTerminal = 0x03
	ACMixerUnit      = 0x04
	ACSelectorUnit   = 0x05
	ACFeatureUnit    = 0x06
	ACProcessingUnit = 0x07
	ACExtensionUnit  = 0x08
)

// Class-specific AudioStreaming interface descriptor subtypes.
const (
	ASGeneral        = 0x01
	ASFormatType     = 0x02
	ASFormatSpecific = 0x03
)

// Class-specific endpoint descriptor subtype.
const EPGeneral = 0x01

// Format type codes.
const (
	FormatTypeI   = 0x01
	FormatTypeII  = 0x02
	FormatTypeIII = 0x03
)

// Type I format tags.
const (
	FormatTagPCM  = 0x0001
	FormatTagPCM8 = 0x0002
)

// Class-specific request codes.
const (
	RequestSetCur = 0x01
	RequestSetMin = 0x02
	RequestSetMax = 0x03
	RequestSetRes = 0x04
	RequestGetCur = 0x81
	RequestGetMin = 0x82
	RequestGetMax = 0x83
	RequestGetRes = 0x84
)

// Endpoint control selectors.
const (
	SamplingFreqControl = 0x01
	PitchControl        = 0x02
)

// Class-specific endpoint attribute bits.
const (
	EPAttrSamplingFreq  = 0x01
	EPAttrPitch         = 0x02
	EPAttrMaxPacketOnly = 0x80
)

// Spatial channel configuration bits.
const (
	ChannelLeftFront  = 0x0001
	ChannelRightFront = 0x0002
	ChannelCenter     = 0x0004
)

// Descriptor sizes in bytes.
const (
	HeaderDescriptorBaseSize       = 8
	InputTerminalDescriptorSize    = 12
	OutputTerminalDescriptorSize   = 9
	StreamingGeneralDescriptorSize = 7
	FormatTypeIDescriptorBaseSize  = 8
	EndpointGeneralDescriptorSize  = 7
	SampleRateSize                 = 3
)
