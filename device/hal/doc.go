// Package hal defines the Hardware Abstraction Layer interface for USB device stacks.
//
// The HAL provides a platform-agnostic interface between the device stack and
// underlying USB controller hardware. The device stack implements all USB
// protocol logic, leaving the HAL to handle only low-level hardware
// interactions.
//
// # Polling Model
//
// Firmware runs a single loop with no scheduler underneath it, so nothing in
// the HAL blocks. The stack calls [DeviceHAL.Poll] to learn what the
// controller has buffered:
//
//   - [EventReset] after a bus reset
//   - [EventSetup] when a SETUP packet is waiting on EP0
//   - [EventOut] when a data endpoint holds an OUT packet
//   - [EventInComplete] when the host has taken an IN packet
//
// Data endpoint Read and Write return pkg.ErrWouldBlock instead of waiting.
//
// # Zero-Allocation Design
//
// HAL implementations should follow zero-allocation patterns where feasible:
//
//   - Reuse buffers provided by the stack
//   - Avoid allocations in Poll, Read and Write
//   - Use fixed-size internal buffers where dynamic allocation would occur
//
// An in-memory HAL with a scriptable host side is available in
// [github.com/ardnew/usbaudio/device/hal/sim].
package hal
