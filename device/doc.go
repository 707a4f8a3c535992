// Package device implements a polled USB 2.0 full-speed device stack sized
// for audio class firmware.
//
// It is platform-agnostic and talks to hardware only through the
// [hal.DeviceHAL] interface in [github.com/ardnew/usbaudio/device/hal]. Every
// HAL operation returns immediately; the firmware main loop drives the stack
// by calling [Stack.Poll] between its own data transfers.
//
// # Architecture
//
//   - [Device] tracks the USB state machine, descriptors and strings
//   - [Configuration] and [Interface] describe the function layout
//   - [AlternateSetting] selects which endpoints of an interface exist
//   - [Endpoint] carries halt, data toggle and isochronous frame state
//   - [StandardRequestHandler] answers chapter 9 requests on EP0
//   - [Stack] dispatches HAL events and completes control transfers
//
// # Device States
//
//	Attached → Powered → Default → Address → Configured ⇄ Suspended
//
// SET_ADDRESS and the endpoint changes caused by SET_CONFIGURATION and
// SET_INTERFACE are applied to the controller only after the status stage.
//
// # Alternate Settings
//
// Streaming interfaces keep alternate setting 0 free of endpoints so that an
// idle stream reserves no bus bandwidth. Selecting another setting resets its
// endpoints and notifies the [ClassDriver].
//
// # Zero-Allocation Design
//
//   - Serialization via MarshalTo(buf) instead of allocating Bytes()
//   - Parse functions with output parameters instead of returning pointers
//   - Fixed-size arrays for interfaces, alternates and endpoints
//   - Control responses reference buffers owned by the stack
//
// # Class Drivers
//
// A [ClassDriver] receives class requests addressed to its interface or to
// one of its endpoints. Drivers that implement [ClassDescriptorWriter] add
// class-specific descriptors to the configuration descriptor, and drivers
// that implement [Class] are told about bus resets and endpoint activity.
// The audio class lives in [github.com/ardnew/usbaudio/device/class/audio].
//
// # Example
//
//	dev, err := device.NewDeviceBuilder().
//	    WithVendorProduct(0x16C0, 0x27DD).
//	    WithStrings("Kiffie Labs", "Audio port", "42").
//	    AddConfiguration(1).
//	    Build()
//	stack := device.NewStack(dev, hal)
//	stack.Start(ctx)
//	for {
//	    stack.Poll(classes...)
//	}
package device
