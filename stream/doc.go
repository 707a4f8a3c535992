// Package stream implements the firmware main loop of a USB audio device
// that sends a test tone to the host and drains whatever the host plays.
//
// Every iteration of [Loop.Step]:
//
//  1. polls the device stack with the audio function as its only class
//  2. if the poll saw activity, reads one packet into a 1024-byte scratch
//     buffer and writes "RX len = N" for every 1000th packet, N being the
//     length of that packet
//  3. writes "Alt. set. I O" when either alternate setting changed
//  4. offers one 96-byte tone period to the host
//
// No operation waits. "No data", "busy" and "stream not open" are normal
// outcomes and other transfer failures are dropped, so the loop never
// stops on its own. [Loop.Run] has no return path.
package stream
