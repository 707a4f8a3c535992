// Package sim implements an in-memory USB device controller.
//
// [HAL] satisfies [hal.DeviceHAL] and holds the state a real full-speed
// controller would: a queue of pending events, the control transfer in
// flight and a one-packet buffer per data endpoint. [Host] is the other
// end of the cable. It issues control transfers, enumerates the device and
// moves isochronous packets.
//
// # Usage
//
//	h := sim.New()
//	stack := device.NewStack(dev, h)
//	stack.Start(ctx)
//
//	// Firmware loop in its own goroutine
//	go func() {
//	    for {
//	        stack.Poll(classes...)
//	    }
//	}()
//
//	host := h.Host(nil)
//	e, err := host.Enumerate(ctx, 5)
//	err = host.SetInterface(ctx, 1, 1)
//	n, err := host.ReceiveIn(0x81, buf)
//
// Tests that drive the stack from the test goroutine pass a pump instead:
//
//	host := h.Host(func() { stack.Poll(classes...) })
//
// Each controller gets a random identity from github.com/google/uuid so
// logs of concurrent simulations can be told apart.
package sim
