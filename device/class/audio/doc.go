// Package audio implements the USB Audio Class 1.0 device function.
//
// A function has one AudioControl interface and up to two AudioStreaming
// interfaces. The input stream carries audio from the device to the host
// and the output stream carries audio from the host to the device. Each
// streaming interface has two alternate settings:
//
//	alt 0  zero bandwidth, no endpoints
//	alt 1  one isochronous endpoint with a Type I PCM format
//
// The host selects alt 1 with SET_INTERFACE when it opens the stream.
// Read and Write return [ErrStreamInactive] until then.
//
// # Topology
//
// Every stream is a single terminal pair with no units in between:
//
//	input:  IT microphone    -> OT USB streaming -> IN endpoint
//	output: OUT endpoint -> IT USB streaming -> OT speaker
//
// # Sampling Frequency
//
// Streams offer a discrete set of rates. The host reads and selects the
// rate with GET_CUR, GET_MIN, GET_MAX and SET_CUR on the sampling frequency
// control of the streaming endpoint. A SET_CUR naming a rate the stream
// does not offer is stalled.
//
// # Example
//
//	mic, _ := audio.NewDiscrete(audio.S16LE, 1, []uint32{48000}, audio.InMicrophone)
//	spk, _ := audio.NewDiscrete(audio.S16LE, 2, []uint32{48000}, audio.OutSpeaker)
//
//	db := device.NewDeviceBuilder().
//	    WithVendorProduct(0x16C0, 0x27DD).
//	    AddConfiguration(1)
//	uac, err := audio.NewBuilder().Input(mic).Output(spk).Build(db, 1)
//	dev, err := db.Build()
//	err = uac.Attach(dev, 1)
//
//	stack := device.NewStack(dev, hal)
//	uac.SetStack(stack)
package audio
